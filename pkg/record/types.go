// Package record defines the GitGov record model: a signed, content-addressed
// JSON wrapper around typed payload entities, plus the codec operations
// (checksum, sign, verify, validate) every store and sync layer builds on.
package record

import "encoding/json"

// Type tags the payload entity carried by a record.
type Type string

const (
	TypeActor     Type = "actor"
	TypeAgent     Type = "agent"
	TypeTask      Type = "task"
	TypeExecution Type = "execution"
	TypeFeedback  Type = "feedback"
	TypeCycle     Type = "cycle"
	TypeChangelog Type = "changelog"
)

// Types lists every known record type.
var Types = []Type{
	TypeActor, TypeAgent, TypeTask, TypeExecution,
	TypeFeedback, TypeCycle, TypeChangelog,
}

// SignatureRole identifies why a signature was applied.
type SignatureRole string

const (
	RoleAuthor    SignatureRole = "author"
	RoleApprover  SignatureRole = "approver"
	RoleResolver  SignatureRole = "resolver"
	RoleSubmitter SignatureRole = "submitter"
)

// Signature is one entry of the ordered signature list. The signed message
// is the payload checksum concatenated with the signer metadata.
type Signature struct {
	KeyID     string        `json:"keyId"`
	Role      SignatureRole `json:"role"`
	Notes     string        `json:"notes,omitempty"`
	Signature string        `json:"signature"`
	Timestamp int64         `json:"timestamp"`
}

// Header is the embedded metadata of every persisted record.
type Header struct {
	Version         string      `json:"version"`
	Type            Type        `json:"type"`
	PayloadChecksum string      `json:"payloadChecksum"`
	Signatures      []Signature `json:"signatures"`
}

// Record is the persisted wrapper: header plus the raw payload document.
// The payload stays raw so checksums are computed over exactly the bytes
// that were stored, independent of field ordering in Go structs.
type Record struct {
	Header  Header          `json:"header"`
	Payload json.RawMessage `json:"payload"`
}

// WrapperVersion is written into new record headers.
const WrapperVersion = "1.0"
