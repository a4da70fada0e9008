// Package notify builds downtime emails and hands them to a mail transport.
package notify

import (
	"context"

	"go.uber.org/multierr"
)

// Message is one plain-text email. From may carry a display name
// ("Uptime Monitor <do-not-reply@example.com>").
type Message struct {
	From    string
	To      string
	Subject string
	Body    string
}

type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

// Multi delivers to every mailer and reports all failures.
type Multi []Mailer

func (m Multi) Send(ctx context.Context, msg Message) error {
	var err error
	for _, mailer := range m {
		if mailer == nil {
			continue
		}
		err = multierr.Append(err, mailer.Send(ctx, msg))
	}
	return err
}
