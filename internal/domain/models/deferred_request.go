package models

import (
	"encoding/json"

	"github.com/Largonarco/RateX/pkg/errors"
)

// DeferredRequest is the serialised record of a request that exceeded its
// rate limit and was enqueued for later execution. The JSON form is the
// stable wire encoding written to the node's stream.
type DeferredRequest struct {
	TicketID string `json:"ticketId"`
	AppID    string `json:"appId"`
	Method   string `json:"method"`
	// Path is relative to the app's base URL, without a leading slash.
	Path    string            `json:"path"`
	Headers map[string]string `json:"headers"`
	// Body is absent for bodyless methods.
	Body []byte `json:"body,omitempty"`
	// EnqueuedAt is the enqueue timestamp in Unix milliseconds. Re-appended
	// entries carry a refreshed timestamp.
	EnqueuedAt int64 `json:"enqueuedAt"`
}

// Encode serialises the record to its stream payload.
func (r *DeferredRequest) Encode() (string, error) {
	b, err := json.Marshal(r)
	if err != nil {
		return "", errors.ErrServer("failed to encode deferred request").WithCause(err)
	}
	return string(b), nil
}

// DecodeDeferredRequest parses a stream payload back into a record.
func DecodeDeferredRequest(raw string) (*DeferredRequest, error) {
	var r DeferredRequest
	if err := json.Unmarshal([]byte(raw), &r); err != nil {
		return nil, errors.ErrValidation("failed to decode deferred request").WithCause(err)
	}
	return &r, nil
}
