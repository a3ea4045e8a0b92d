// Package lint walks every record store and reports schema, checksum, and
// signature problems. The sync engine runs it before pushing and during
// integrity audits.
package lint

import (
	"context"
	"fmt"

	"github.com/gitgov-io/gitgov/pkg/crypto"
	"github.com/gitgov-io/gitgov/pkg/record"
	"github.com/gitgov-io/gitgov/pkg/store"
)

// Severity grades a finding.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Finding is one lint result.
type Finding struct {
	RecordID string   `json:"recordId"`
	Type     string   `json:"type"`
	Severity Severity `json:"severity"`
	Message  string   `json:"message"`
}

// Report aggregates a full lint pass.
type Report struct {
	RecordsChecked int       `json:"recordsChecked"`
	Findings       []Finding `json:"findings"`
}

// ErrorCount returns the number of error-severity findings.
func (r *Report) ErrorCount() int {
	n := 0
	for _, f := range r.Findings {
		if f.Severity == SeverityError {
			n++
		}
	}
	return n
}

// Options toggle the expensive integrity checks.
type Options struct {
	VerifyChecksums  bool
	VerifySignatures bool
}

// Linter is the capability the sync engine depends on.
type Linter interface {
	Lint(ctx context.Context, opts Options) (*Report, error)
}

// RecordLinter lints a full store set against a key resolver.
type RecordLinter struct {
	stores *store.Set
	keys   crypto.KeyResolver
}

// NewRecordLinter builds a linter. keys may be nil when signature
// verification is never requested.
func NewRecordLinter(stores *store.Set, keys crypto.KeyResolver) *RecordLinter {
	return &RecordLinter{stores: stores, keys: keys}
}

// Lint walks every store. Unreadable records are reported, not fatal; the
// walk itself only fails on store-level errors.
func (l *RecordLinter) Lint(ctx context.Context, opts Options) (*Report, error) {
	report := &Report{}
	for _, t := range record.Types {
		s := l.stores.ByType(t)
		if s == nil {
			continue
		}
		ids, err := s.List(ctx)
		if err != nil {
			return nil, fmt.Errorf("list %s: %w", t, err)
		}
		for _, id := range ids {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			report.RecordsChecked++
			rec, err := s.Get(ctx, id)
			if err != nil {
				report.Findings = append(report.Findings, Finding{
					RecordID: id, Type: string(t), Severity: SeverityError,
					Message: fmt.Sprintf("unreadable record: %v", err),
				})
				continue
			}
			report.Findings = append(report.Findings, l.lintRecord(id, t, rec, opts)...)
		}
	}
	return report, nil
}

func (l *RecordLinter) lintRecord(id string, t record.Type, rec *record.Record, opts Options) []Finding {
	var findings []Finding
	if rec.Header.Type != t {
		findings = append(findings, Finding{
			RecordID: id, Type: string(t), Severity: SeverityError,
			Message: fmt.Sprintf("header type %q does not match store %q", rec.Header.Type, t),
		})
	}
	if err := record.Validate(rec.Payload, t); err != nil {
		if ve, ok := record.AsValidationError(err); ok {
			for _, iss := range ve.Issues {
				findings = append(findings, Finding{
					RecordID: id, Type: string(t), Severity: SeverityError,
					Message: fmt.Sprintf("schema: %s: %s", iss.Field, iss.Message),
				})
			}
		} else {
			findings = append(findings, Finding{
				RecordID: id, Type: string(t), Severity: SeverityError,
				Message: fmt.Sprintf("validation: %v", err),
			})
		}
	}
	if opts.VerifyChecksums {
		computed, err := record.Checksum(rec.Payload)
		if err != nil {
			findings = append(findings, Finding{
				RecordID: id, Type: string(t), Severity: SeverityError,
				Message: fmt.Sprintf("checksum: %v", err),
			})
		} else if computed != rec.Header.PayloadChecksum {
			findings = append(findings, Finding{
				RecordID: id, Type: string(t), Severity: SeverityError,
				Message: "checksum mismatch between header and payload",
			})
		}
	}
	if opts.VerifySignatures {
		if l.keys == nil {
			findings = append(findings, Finding{
				RecordID: id, Type: string(t), Severity: SeverityWarning,
				Message: "signature verification requested but no key resolver configured",
			})
		} else if err := record.Verify(rec, l.keys); err != nil {
			findings = append(findings, Finding{
				RecordID: id, Type: string(t), Severity: SeverityError,
				Message: fmt.Sprintf("signature: %v", err),
			})
		}
	}
	return findings
}

// RingFromActors builds a key resolver from the actor store, so signature
// checks resolve public keys the same way the projector does.
func RingFromActors(ctx context.Context, actors store.Store) (*crypto.KeyRing, error) {
	ring := crypto.NewKeyRing()
	ids, err := actors.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list actors: %w", err)
	}
	for _, id := range ids {
		rec, err := actors.Get(ctx, id)
		if err != nil {
			continue // unreadable actors surface as lint findings elsewhere
		}
		var actor record.ActorRecord
		if err := record.DecodePayload(rec, record.TypeActor, &actor); err != nil {
			continue
		}
		ring.AddKey(actor.ID, actor.PublicKey)
	}
	return ring, nil
}
