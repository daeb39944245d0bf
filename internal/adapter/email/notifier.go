// Package email provides an SMTP-based notifier for run completion notices.
package email

import (
	"context"
	"fmt"
	"net/smtp"

	"github.com/silvaplan/silvaplan/internal/config"
)

// Notifier sends email notifications via SMTP.
type Notifier struct {
	cfg config.SMTP
}

// NewNotifier creates a new email notifier.
func NewNotifier(cfg config.SMTP) *Notifier {
	return &Notifier{cfg: cfg}
}

// NotifyScenarioDone reports a terminal optimizer run to the scenario owner.
func (n *Notifier) NotifyScenarioDone(ctx context.Context, recipient, scenarioName, status string) error {
	subject := fmt.Sprintf("Scenario %q finished: %s", scenarioName, status)
	body := fmt.Sprintf("Optimization for scenario %q completed with status %s.", scenarioName, status)
	return n.send(ctx, recipient, subject, body)
}

// NotifyTreatmentDone reports a completed impact run to the plan owner.
func (n *Notifier) NotifyTreatmentDone(ctx context.Context, recipient, planName, status string) error {
	subject := fmt.Sprintf("Treatment plan %q finished: %s", planName, status)
	body := fmt.Sprintf("Impact analysis for treatment plan %q completed with status %s.", planName, status)
	return n.send(ctx, recipient, subject, body)
}

func (n *Notifier) send(_ context.Context, to, subject, body string) error {
	addr := fmt.Sprintf("%s:%d", n.cfg.Host, n.cfg.Port)

	msg := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\nContent-Type: text/plain; charset=UTF-8\r\n\r\n%s",
		n.cfg.From, to, subject, body)

	var auth smtp.Auth
	if n.cfg.Password != "" {
		auth = smtp.PlainAuth("", n.cfg.From, n.cfg.Password, n.cfg.Host)
	}

	return smtp.SendMail(addr, auth, n.cfg.From, []string{to}, []byte(msg))
}
