// Package dispatch fans one post out to every configured delivery
// target, aggregating per-target outcomes. One target failing never
// prevents attempts on the others.
package dispatch

import (
	"fmt"
	"time"

	"statusloop/internal/schedule"
)

type Status string

const (
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed" // target answered and refused
	StatusError   Status = "error"  // transport/timeout/unexpected
)

// Mode selects the execution discipline. Both guarantee every target
// is attempted and results aggregated before the caller proceeds.
type Mode string

const (
	// ModeConcurrent issues all target deliveries in parallel and
	// joins on completion.
	ModeConcurrent Mode = "concurrent"
	// ModeSerial walks targets in order with a fixed inter-attempt
	// delay, respecting target-side rate limits.
	ModeSerial Mode = "serial"
)

// Content is the deliverable payload, independent of schedule slots so
// ad-hoc test posts use the same path.
type Content struct {
	Type     schedule.ContentType `json:"type"`
	Text     string               `json:"text,omitempty"`
	MediaURL string               `json:"mediaUrl,omitempty"`
}

// Result is one per-target outcome.
type Result struct {
	Target string `json:"instance"`
	Status Status `json:"status"`
	Error  string `json:"error,omitempty"`
}

// Batch aggregates one fan-out. FailureCount covers both refused and
// errored targets, matching the counts surfaced to operators.
type Batch struct {
	ID           string        `json:"id"`
	SuccessCount int           `json:"successCount"`
	FailureCount int           `json:"failureCount"`
	ErrorCount   int           `json:"errorCount"`
	Results      []Result      `json:"details"`
	Took         time.Duration `json:"-"`
}

// RemoteRejection indicates the target answered but refused the post.
// Dispatch classifies it as "failed" rather than "error".
type RemoteRejection struct {
	HTTPStatus int
	Body       string
}

func (e *RemoteRejection) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("remote rejected (status %d): %s", e.HTTPStatus, e.Body)
	}
	return fmt.Sprintf("remote rejected (status %d)", e.HTTPStatus)
}
