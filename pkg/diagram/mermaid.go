package diagram

import (
	"fmt"
	"regexp"
	"strings"
)

const maxTitleLen = 40

var unsafeIDChars = regexp.MustCompile(`[^a-zA-Z0-9_]`)

// statusClasses maps record statuses to Mermaid class names. Unknown
// statuses fall back to "neutral".
var statusClasses = map[string]string{
	"draft":     "draft",
	"review":    "inflight",
	"ready":     "inflight",
	"active":    "inflight",
	"planning":  "draft",
	"done":      "closed",
	"completed": "closed",
	"archived":  "closed",
	"paused":    "stalled",
	"blocked":   "stalled",
	"discarded": "stalled",
}

// RenderMermaid turns a graph into flowchart text. The output is
// validated before returning; a graph that would produce broken Mermaid
// is an error, not silent garbage.
func RenderMermaid(g *Graph) (string, error) {
	var b strings.Builder
	b.WriteString("flowchart TD\n")

	ids := make(map[string]string, len(g.Nodes))
	for _, n := range g.Nodes {
		safe := sanitizeID(n.ID)
		ids[n.ID] = safe
		title := wrapTitle(n.Title)
		if n.Type == NodeCycle {
			fmt.Fprintf(&b, "    %s{{\"%s\"}}\n", safe, title)
		} else {
			fmt.Fprintf(&b, "    %s[\"%s\"]\n", safe, title)
		}
		fmt.Fprintf(&b, "    class %s %s\n", safe, classFor(n.Status))
	}
	for _, e := range g.Edges {
		from, okFrom := ids[e.From]
		to, okTo := ids[e.To]
		if !okFrom || !okTo {
			return "", fmt.Errorf("edge %s -> %s references an undefined node", e.From, e.To)
		}
		fmt.Fprintf(&b, "    %s --> %s\n", from, to)
	}

	b.WriteString("    classDef draft fill:#f4f4f5,stroke:#a1a1aa\n")
	b.WriteString("    classDef inflight fill:#dbeafe,stroke:#2563eb\n")
	b.WriteString("    classDef closed fill:#dcfce7,stroke:#16a34a\n")
	b.WriteString("    classDef stalled fill:#fee2e2,stroke:#dc2626\n")
	b.WriteString("    classDef neutral fill:#ffffff,stroke:#71717a\n")

	out := b.String()
	if err := validateMermaid(out); err != nil {
		return "", err
	}
	return out, nil
}

func sanitizeID(id string) string {
	safe := unsafeIDChars.ReplaceAllString(id, "_")
	if safe == "" || (safe[0] >= '0' && safe[0] <= '9') {
		safe = "n_" + safe
	}
	return safe
}

// wrapTitle escapes quote-breaking characters and truncates long titles.
func wrapTitle(title string) string {
	title = strings.ReplaceAll(title, `"`, "'")
	title = strings.ReplaceAll(title, "\n", " ")
	if r := []rune(title); len(r) > maxTitleLen {
		title = string(r[:maxTitleLen-1]) + "…"
	}
	return title
}

func classFor(status string) string {
	if c, ok := statusClasses[status]; ok {
		return c
	}
	return "neutral"
}

// validateMermaid is a structural sanity check on the generated text:
// header present, no raw double quotes inside labels, balanced brackets
// on every node line.
func validateMermaid(out string) error {
	lines := strings.Split(out, "\n")
	if len(lines) == 0 || lines[0] != "flowchart TD" {
		return fmt.Errorf("generated diagram missing flowchart header")
	}
	for _, line := range lines[1:] {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "classDef") || strings.HasPrefix(trimmed, "class ") {
			continue
		}
		if strings.Contains(trimmed, "-->") {
			continue
		}
		if strings.Count(trimmed, "[") != strings.Count(trimmed, "]") ||
			strings.Count(trimmed, "{") != strings.Count(trimmed, "}") {
			return fmt.Errorf("unbalanced node syntax: %q", trimmed)
		}
	}
	return nil
}
