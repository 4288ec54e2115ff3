package handlers

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"

	contractx "github.com/napatsw/deskmate/agent/contract"
	routingx "github.com/napatsw/deskmate/agent/routing"
)

// Notify is side-effect only and always terminal. Delivery is idempotent by
// message id so a replay never sends the same notification twice; the
// orchestrator must not retry it on partial success.
type Notify struct {
	notifier contractx.Notifier

	mu        sync.Mutex
	delivered map[string]struct{}
}

var _ contractx.Handler = (*Notify)(nil)

func NewNotify(notifier contractx.Notifier) *Notify {
	return &Notify{
		notifier:  notifier,
		delivered: make(map[string]struct{}),
	}
}

func (n *Notify) Name() string { return routingx.HandlerNotify }

func (n *Notify) CanHandle(msg contractx.Message) bool {
	return msg.Type == contractx.TypeInfo || msg.Type == contractx.TypeTaskRequest
}

func (n *Notify) Process(ctx context.Context, msg contractx.Message) ([]contractx.Message, error) {
	n.mu.Lock()
	if _, seen := n.delivered[msg.ID]; seen {
		n.mu.Unlock()
		log.Debug().Str("message_id", msg.ID).Msg("notification already delivered, skipping")
		return nil, nil
	}
	n.delivered[msg.ID] = struct{}{}
	n.mu.Unlock()

	recipient := msg.StringField(contractx.KeyIdentityID)
	subject := msg.StringField("subject")
	body := msg.StringField("body")

	if err := n.notifier.Send(ctx, recipient, subject, body); err != nil {
		// Marked delivered above: partial sends must not be repeated.
		log.Error().Err(err).Str("recipient", recipient).Msg("notification delivery failed")
		return nil, err
	}
	return nil, nil
}
