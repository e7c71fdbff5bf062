package models

import (
	"encoding/json"

	"github.com/Largonarco/RateX/pkg/constants"
	"github.com/Largonarco/RateX/pkg/errors"
)

// Outcome records the final result of a deferred request under
// response:<ticketId>. Absence of the record means the request is still
// pending. Once written, an outcome never changes until its TTL expires.
type Outcome struct {
	Status constants.OutcomeStatus `json:"status"`
	// StatusCode is set when Status is completed.
	StatusCode int `json:"statusCode,omitempty"`
	// Error is set when Status is failed.
	Error string `json:"error,omitempty"`
	// CompletedAt is the write timestamp in Unix milliseconds.
	CompletedAt int64 `json:"completedAt,omitempty"`
}

// Terminal reports whether the outcome is final.
func (o *Outcome) Terminal() bool {
	return o.Status == constants.OutcomeCompleted || o.Status == constants.OutcomeFailed
}

// Encode serialises the outcome to its stored JSON form.
func (o *Outcome) Encode() (string, error) {
	b, err := json.Marshal(o)
	if err != nil {
		return "", errors.ErrServer("failed to encode outcome").WithCause(err)
	}
	return string(b), nil
}

// DecodeOutcome parses a stored outcome record.
func DecodeOutcome(raw string) (*Outcome, error) {
	var o Outcome
	if err := json.Unmarshal([]byte(raw), &o); err != nil {
		return nil, errors.ErrServer("failed to decode outcome").WithCause(err)
	}
	return &o, nil
}
