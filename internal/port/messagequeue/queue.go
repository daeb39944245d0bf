// Package messagequeue defines the broker port used to fan work out across
// pipeline workers.
package messagequeue

import "context"

// Subjects carried on the broker. Scenario subjects drive the optimizer
// pipeline; treatment subjects drive the impact matrix fan-out.
const (
	SubjectScenarioRun  = "scenarios.run"
	SubjectGeopackage   = "scenarios.geopackage"
	SubjectTreatmentRun = "treatments.run"
	SubjectMatrixTask   = "treatments.matrix"
)

// Handler processes one message. Returning an error leaves the message for
// redelivery where the implementation supports it.
type Handler func(ctx context.Context, subject string, data []byte) error

// Queue is the broker port.
type Queue interface {
	Publish(ctx context.Context, subject string, data []byte) error
	// Subscribe registers a handler and returns a stop function.
	Subscribe(ctx context.Context, subject string, h Handler) (func(), error)
	IsConnected() bool
	// Drain stops delivery and waits for in-flight handlers.
	Drain() error
	Close()
}
