package webhook

import (
	"context"

	"github.com/rs/zerolog/log"

	contractx "github.com/napatsw/deskmate/agent/contract"
)

// LogNotifier writes notifications to the log instead of a channel. Used
// when no webhook endpoint is configured.
type LogNotifier struct{}

var _ contractx.Notifier = LogNotifier{}

func (LogNotifier) Send(ctx context.Context, recipient, subject, body string) error {
	log.Info().
		Str("recipient", recipient).
		Str("subject", subject).
		Str("body", body).
		Msg("notification (log only)")
	return nil
}
