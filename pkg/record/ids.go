package record

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var (
	recordIDPattern = regexp.MustCompile(`^\d{10}-(task|cycle|exec|feedback|changelog|agent)-[a-z0-9-]{1,50}$`)
	actorIDPattern  = regexp.MustCompile(`^(human|agent):[a-z0-9-]+$`)
	slugPattern     = regexp.MustCompile(`[^a-z0-9-]+`)
)

// idPrefixes maps record types to the infix used in generated IDs.
var idPrefixes = map[Type]string{
	TypeTask:      "task",
	TypeCycle:     "cycle",
	TypeExecution: "exec",
	TypeFeedback:  "feedback",
	TypeChangelog: "changelog",
	TypeAgent:     "agent",
}

// ValidRecordID reports whether id matches the timestamped record ID grammar.
func ValidRecordID(id string) bool {
	return recordIDPattern.MatchString(id)
}

// ValidActorID reports whether id matches the actor ID grammar.
func ValidActorID(id string) bool {
	return actorIDPattern.MatchString(id)
}

// NewRecordID builds a record ID from the current time and a slugified hint.
func NewRecordID(t Type, hint string, now time.Time) (string, error) {
	prefix, ok := idPrefixes[t]
	if !ok {
		return "", fmt.Errorf("record type %q has no timestamped ID form", t)
	}
	slug := Slugify(hint)
	if slug == "" {
		slug = "record"
	}
	if len(slug) > 50 {
		slug = strings.Trim(slug[:50], "-")
	}
	return fmt.Sprintf("%d-%s-%s", now.Unix(), prefix, slug), nil
}

// Slugify lowercases s and collapses everything outside [a-z0-9-] to dashes.
func Slugify(s string) string {
	slug := strings.ToLower(strings.TrimSpace(s))
	slug = slugPattern.ReplaceAllString(slug, "-")
	return strings.Trim(slug, "-")
}

// IDTimestamp extracts the Unix-second prefix from a record ID. Returns
// ok=false when the prefix is not temporal (parse failure or non-positive).
func IDTimestamp(id string) (int64, bool) {
	dash := strings.IndexByte(id, '-')
	if dash != 10 {
		return 0, false
	}
	secs, err := strconv.ParseInt(id[:dash], 10, 64)
	if err != nil || secs <= 0 {
		return 0, false
	}
	return secs, true
}
