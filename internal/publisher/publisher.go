// Package publisher defines the outbound notification seam for completed
// batch runs.
package publisher

import "context"

// Publisher delivers a payload to a named topic and returns the broker's
// message ID. Publishing is best-effort from the run's point of view: a
// failed publish is logged by the caller, never folded into the Summary.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}
