package record

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/gitgov-io/gitgov/pkg/canonicalize"
	"github.com/gitgov-io/gitgov/pkg/crypto"
)

// Checksum returns the hex SHA-256 digest of the canonicalized payload.
func Checksum(payload json.RawMessage) (string, error) {
	canonical, err := canonicalize.CanonicalizeRaw(payload)
	if err != nil {
		return "", err
	}
	return canonicalize.HashBytes(canonical), nil
}

// Wrap validates a typed payload and builds an unsigned record wrapper
// around it. The stored payload is the canonical serialization, so the
// checksum always matches the bytes on disk.
func Wrap(t Type, payload interface{}) (*Record, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("payload marshal: %w", err)
	}
	if err := Validate(raw, t); err != nil {
		return nil, err
	}
	canonical, err := canonicalize.CanonicalizeRaw(raw)
	if err != nil {
		return nil, err
	}
	return &Record{
		Header: Header{
			Version:         WrapperVersion,
			Type:            t,
			PayloadChecksum: canonicalize.HashBytes(canonical),
		},
		Payload: canonical,
	}, nil
}

// signingMessage is the byte sequence a signature covers: the payload
// checksum concatenated with the signer metadata.
func signingMessage(checksum, keyID string, role SignatureRole, notes string, ts int64) []byte {
	return []byte(fmt.Sprintf("%s:%s:%s:%s:%d", checksum, keyID, role, notes, ts))
}

// Sign appends a signature over the wrapper's payload checksum. Signatures
// are ordered; re-signing after a conflict resolution appends rather than
// replaces.
func Sign(r *Record, signer crypto.Signer, role SignatureRole, notes string, now time.Time) error {
	if r.Header.PayloadChecksum == "" {
		return fmt.Errorf("%w: missing payload checksum", ErrInvalidWrapper)
	}
	ts := now.Unix()
	sig, err := signer.Sign(signingMessage(r.Header.PayloadChecksum, signer.KeyID(), role, notes, ts))
	if err != nil {
		return fmt.Errorf("sign record: %w", err)
	}
	r.Header.Signatures = append(r.Header.Signatures, Signature{
		KeyID:     signer.KeyID(),
		Role:      role,
		Notes:     notes,
		Signature: sig,
		Timestamp: ts,
	})
	return nil
}

// Verify checks wrapper integrity: the stored checksum must match the
// payload bytes, every signature must verify, and every key ID must
// resolve through keys.
func Verify(r *Record, keys crypto.KeyResolver) error {
	if r == nil || r.Header.Type == "" {
		return fmt.Errorf("%w: missing header", ErrInvalidWrapper)
	}
	if len(r.Header.Signatures) == 0 {
		return fmt.Errorf("%w: no signatures", ErrInvalidWrapper)
	}
	computed, err := Checksum(r.Payload)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidWrapper, err)
	}
	if computed != r.Header.PayloadChecksum {
		return fmt.Errorf("%w: stored %s computed %s", ErrChecksumMismatch, r.Header.PayloadChecksum, computed)
	}
	for i, sig := range r.Header.Signatures {
		pub, err := keys.Resolve(sig.KeyID)
		if err != nil {
			return fmt.Errorf("signature %d: %w", i, err)
		}
		msg := signingMessage(r.Header.PayloadChecksum, sig.KeyID, sig.Role, sig.Notes, sig.Timestamp)
		ok, err := crypto.Verify(pub, sig.Signature, msg)
		if err != nil {
			return fmt.Errorf("signature %d (%s): %w", i, sig.KeyID, err)
		}
		if !ok {
			return fmt.Errorf("signature %d (%s): %w", i, sig.KeyID, ErrSignatureInvalid)
		}
	}
	return nil
}

// Parse decodes raw bytes into a Record, rejecting header-less legacy
// layouts: the wrapper form is canonical, ambiguous inputs are invalid.
func Parse(data []byte) (*Record, error) {
	var r Record
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidWrapper, err)
	}
	if r.Header.Type == "" || r.Header.PayloadChecksum == "" {
		return nil, fmt.Errorf("%w: missing header", ErrInvalidWrapper)
	}
	if len(r.Payload) == 0 {
		return nil, fmt.Errorf("%w: missing payload", ErrInvalidWrapper)
	}
	return &r, nil
}

// DecodePayload unmarshals the wrapper payload into out after checking the
// wrapper carries the expected type tag.
func DecodePayload(r *Record, t Type, out interface{}) error {
	if r.Header.Type != t {
		return fmt.Errorf("%w: record is %q, want %q", ErrInvalidWrapper, r.Header.Type, t)
	}
	if err := json.Unmarshal(r.Payload, out); err != nil {
		return fmt.Errorf("%w: payload decode: %v", ErrInvalidWrapper, err)
	}
	return nil
}

// PayloadID extracts the "id" field of the payload without a full decode.
func PayloadID(r *Record) (string, error) {
	var probe struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(r.Payload, &probe); err != nil {
		return "", fmt.Errorf("%w: payload decode: %v", ErrInvalidWrapper, err)
	}
	if probe.ID == "" {
		return "", fmt.Errorf("%w: payload has no id", ErrInvalidWrapper)
	}
	return probe.ID, nil
}

// LastSignatureTime returns the newest signature timestamp, or ok=false
// when the record carries none.
func LastSignatureTime(r *Record) (int64, bool) {
	var latest int64
	for _, sig := range r.Header.Signatures {
		if sig.Timestamp > latest {
			latest = sig.Timestamp
		}
	}
	return latest, latest > 0
}

// FirstSignatureTime returns the oldest signature timestamp, or ok=false.
func FirstSignatureTime(r *Record) (int64, bool) {
	var earliest int64
	for _, sig := range r.Header.Signatures {
		if sig.Timestamp > 0 && (earliest == 0 || sig.Timestamp < earliest) {
			earliest = sig.Timestamp
		}
	}
	return earliest, earliest > 0
}
