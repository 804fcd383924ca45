package model

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
)

// Envelope wraps a persisted payload with session metadata and an integrity
// checksum computed over its own fields.
type Envelope struct {
	SessionID     string          `json:"session_id" validate:"required"`
	Timestamp     int64           `json:"timestamp" validate:"gt=0"`
	SchemaVersion string          `json:"schema_version" validate:"required"`
	Checksum      string          `json:"checksum"`
	Payload       json.RawMessage `json:"payload" validate:"required"`
}

// Seal marshals payload and returns an envelope with its checksum filled in.
func Seal(sessionID string, timestamp int64, schemaVersion string, payload any) (*Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	e := &Envelope{
		SessionID:     sessionID,
		Timestamp:     timestamp,
		SchemaVersion: schemaVersion,
		Payload:       raw,
	}
	sum, err := e.ComputeChecksum()
	if err != nil {
		return nil, err
	}
	e.Checksum = sum
	return e, nil
}

// ComputeChecksum hashes the envelope fields. The payload is compacted first
// so re-indentation by the store does not change the result.
func (e *Envelope) ComputeChecksum() (string, error) {
	var compact bytes.Buffer
	if err := json.Compact(&compact, e.Payload); err != nil {
		return "", fmt.Errorf("compact payload: %w", err)
	}
	h := sha256.New()
	h.Write([]byte(e.SessionID))
	h.Write([]byte{'|'})
	h.Write([]byte(strconv.FormatInt(e.Timestamp, 10)))
	h.Write([]byte{'|'})
	h.Write([]byte(e.SchemaVersion))
	h.Write([]byte{'|'})
	h.Write(compact.Bytes())
	return hex.EncodeToString(h.Sum(nil)), nil
}

// ChecksumValid reports whether the stored checksum matches. Returns the
// recomputed value for diagnostics.
func (e *Envelope) ChecksumValid() (bool, string) {
	sum, err := e.ComputeChecksum()
	if err != nil {
		return false, ""
	}
	return sum == e.Checksum, sum
}

// Decode unmarshals the payload into v.
func (e *Envelope) Decode(v any) error {
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	return nil
}
