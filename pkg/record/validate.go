package record

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Validate checks a raw payload document against the embedded schema for t
// and the business rules that schemas cannot express. A nil return means
// the payload may be persisted.
func Validate(payload json.RawMessage, t Type) error {
	issues, err := validateIssues(payload, t)
	if err != nil {
		return err
	}
	if len(issues) > 0 {
		return &DetailedValidationError{RecordType: t, Issues: issues}
	}
	return nil
}

// ValidatePayload validates a typed payload value by serializing it first.
func ValidatePayload(payload interface{}, t Type) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("payload marshal: %w", err)
	}
	return Validate(raw, t)
}

func validateIssues(payload json.RawMessage, t Type) ([]ValidationIssue, error) {
	schema, err := compiledSchema(t)
	if err != nil {
		return nil, err
	}

	var doc interface{}
	if err := json.Unmarshal(payload, &doc); err != nil {
		return []ValidationIssue{{Field: "", Message: "payload is not valid JSON"}}, nil
	}
	if _, ok := doc.(map[string]interface{}); !ok {
		return []ValidationIssue{{Field: "", Message: "payload must be a JSON object"}}, nil
	}

	var issues []ValidationIssue
	if err := schema.Validate(doc); err != nil {
		issues = append(issues, flattenSchemaError(err)...)
	}
	issues = append(issues, businessRuleIssues(payload, t)...)
	return issues, nil
}

// flattenSchemaError converts the validator's error tree into field-level
// issues via its basic output format, skipping the aggregate branch nodes.
func flattenSchemaError(err error) []ValidationIssue {
	ve, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return []ValidationIssue{{Field: "", Message: err.Error()}}
	}
	out := ve.BasicOutput()
	issues := make([]ValidationIssue, 0, len(out.Errors))
	for _, e := range out.Errors {
		if e.Error == "" || strings.HasPrefix(e.Error, "doesn't validate with") {
			continue
		}
		issues = append(issues, ValidationIssue{
			Field:   strings.TrimPrefix(e.InstanceLocation, "/"),
			Message: e.Error,
		})
	}
	if len(issues) == 0 {
		issues = append(issues, ValidationIssue{Field: "", Message: ve.Message})
	}
	return issues
}

// businessRuleIssues enforces the cross-field rules that fall outside JSON
// Schema: changelog risk gating and completion references.
func businessRuleIssues(payload json.RawMessage, t Type) []ValidationIssue {
	if t != TypeChangelog {
		return nil
	}
	var cl ChangelogRecord
	if err := json.Unmarshal(payload, &cl); err != nil {
		return nil // schema issues already reported
	}
	var issues []ValidationIssue
	switch cl.RiskLevel {
	case RiskHigh, RiskCritical:
		if strings.TrimSpace(cl.RollbackInstructions) == "" {
			issues = append(issues, ValidationIssue{
				Field:   "rollbackInstructions",
				Message: fmt.Sprintf("required for riskLevel %q", cl.RiskLevel),
			})
		}
	}
	switch cl.RiskLevel {
	case RiskMedium, RiskHigh, RiskCritical:
		if strings.TrimSpace(cl.UsersAffected) == "" {
			issues = append(issues, ValidationIssue{
				Field:   "usersAffected",
				Message: fmt.Sprintf("required for riskLevel %q", cl.RiskLevel),
			})
		}
	}
	if cl.ChangeType == ChangeCompletion {
		if cl.References == nil || len(cl.References.Tasks) == 0 {
			issues = append(issues, ValidationIssue{
				Field:   "references.tasks",
				Message: "required for changeType \"completion\"",
			})
		}
	}
	return issues
}
