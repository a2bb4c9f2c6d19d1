// Package schema provides the progress record exchanged with the KOReader
// sync service and helpers for the fixed wire format.
package schema

import (
	"encoding/json"
	"fmt"
	"time"
)

// Record represents one reading-position observation for a document.
//
// The wire fields (document, progress, percentage, device_id, device,
// timestamp) match the sync service's JSON schema. The remaining fields
// are local bookkeeping persisted in the progress store but never sent
// to the server.
type Record struct {
	Document   string  `json:"document"`
	Progress   string  `json:"progress"`
	Percentage float64 `json:"percentage"`
	DeviceID   string  `json:"device_id"`
	Device     string  `json:"device"`

	// Timestamp is assigned by the server and only present on records
	// fetched from it.
	Timestamp int64 `json:"timestamp,omitempty"`

	// ===== Local-only metadata (cached, never transmitted) =====
	LocalPosition int64     `json:"local_position,omitempty"`
	TotalLength   int64     `json:"total_length,omitempty"`
	LastPushedAt  time.Time `json:"last_pushed_at,omitzero"`
}

// Validate checks if the Record has valid field values for a push.
func (r *Record) Validate() error {
	if r.Document == "" {
		return fmt.Errorf("document is required")
	}
	if r.Progress == "" {
		return fmt.Errorf("progress is required")
	}
	if r.Percentage < 0 || r.Percentage > 1 {
		return fmt.Errorf("percentage must be within [0,1] (got %g)", r.Percentage)
	}
	if r.DeviceID == "" {
		return fmt.Errorf("device_id is required")
	}
	return nil
}

// wirePayload is the exact PUT body accepted by the sync service.
type wirePayload struct {
	Progress   string  `json:"progress"`
	Percentage float64 `json:"percentage"`
	DeviceID   string  `json:"device_id"`
	Document   string  `json:"document"`
	Device     string  `json:"device"`
}

// Payload serializes the record into the PUT request body. Local-only
// metadata is deliberately excluded.
func (r *Record) Payload() ([]byte, error) {
	body := wirePayload{
		Progress:   r.Progress,
		Percentage: r.Percentage,
		DeviceID:   r.DeviceID,
		Document:   r.Document,
		Device:     r.Device,
	}
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to encode progress payload: %w", err)
	}
	return data, nil
}

// remoteBody mirrors the GET response. Required fields are pointers so a
// missing key is distinguishable from a zero value.
type remoteBody struct {
	Document   *string  `json:"document"`
	Progress   *string  `json:"progress"`
	Percentage *float64 `json:"percentage"`
	DeviceID   string   `json:"device_id"`
	Device     string   `json:"device"`
	Timestamp  int64    `json:"timestamp"`
}

// DecodeRemote parses a GET response body into a Record.
//
// The decode fails closed: a body that is not JSON or lacks any of the
// document, progress, or percentage fields is rejected rather than
// producing a half-populated record.
func DecodeRemote(body []byte) (*Record, error) {
	var raw remoteBody
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse progress body: %w", err)
	}
	if raw.Document == nil || raw.Progress == nil || raw.Percentage == nil {
		return nil, fmt.Errorf("progress body missing required fields")
	}
	return &Record{
		Document:   *raw.Document,
		Progress:   *raw.Progress,
		Percentage: *raw.Percentage,
		DeviceID:   raw.DeviceID,
		Device:     raw.Device,
		Timestamp:  raw.Timestamp,
	}, nil
}

// ClampPercentage bounds p to [0, 1].
func ClampPercentage(p float64) float64 {
	if p < 0 {
		return 0
	}
	if p > 1 {
		return 1
	}
	return p
}

// Percentage computes the completion fraction for a position within a
// document of the given total length. A non-positive total yields 0.
func Percentage(position, total int64) float64 {
	if total <= 0 {
		return 0
	}
	return ClampPercentage(float64(position) / float64(total))
}

// ParsePosition interprets a remote progress string as an integer
// position. Only unsigned digit strings qualify; anything else (chapter
// fragments, xpointers, empty strings) reports ok=false and the remote
// position is never adopted during conflict resolution.
func ParsePosition(progress string) (int64, bool) {
	if progress == "" {
		return 0, false
	}
	var n int64
	for _, c := range progress {
		if c < '0' || c > '9' {
			return 0, false
		}
		n = n*10 + int64(c-'0')
	}
	return n, true
}
