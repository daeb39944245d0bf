// Package notifier defines the outbound notification port.
package notifier

import "context"

// Notifier delivers run-completion notices to plan owners.
type Notifier interface {
	// NotifyScenarioDone reports a terminal optimizer run.
	NotifyScenarioDone(ctx context.Context, recipient, scenarioName, status string) error
	// NotifyTreatmentDone reports a completed impact run.
	NotifyTreatmentDone(ctx context.Context, recipient, planName, status string) error
}
