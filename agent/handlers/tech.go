package handlers

import (
	"context"

	contractx "github.com/napatsw/deskmate/agent/contract"
	routingx "github.com/napatsw/deskmate/agent/routing"
	toolx "github.com/napatsw/deskmate/agent/tool"
)

// Tech is the default specialist: it searches the knowledge base and opens
// a ticket for follow-up.
type Tech struct {
	tools contractx.ToolGateway
}

var _ contractx.Handler = (*Tech)(nil)

func NewTech(tools contractx.ToolGateway) *Tech {
	return &Tech{tools: tools}
}

func (t *Tech) Name() string { return routingx.HandlerTech }

func (t *Tech) CanHandle(msg contractx.Message) bool {
	return msg.Type == contractx.TypeTaskRequest
}

func (t *Tech) Process(ctx context.Context, msg contractx.Message) ([]contractx.Message, error) {
	kb, err := t.tools.Execute(ctx, t.Name(), contractx.ToolRequest{
		Tool: toolx.ToolKBSearch,
		Args: map[string]any{"query": msg.Text()},
	})
	if err != nil {
		return nil, err
	}

	sentiment, _ := msg.FloatField(contractx.KeySentiment)
	priority, _ := msg.FloatField(contractx.KeyPriorityScore)
	ticket, err := t.tools.Execute(ctx, t.Name(), contractx.ToolRequest{
		Tool: toolx.ToolTicketCreate,
		Args: map[string]any{
			"intent":         msg.StringField(contractx.KeyIntent),
			"text":           msg.Text(),
			"identity_id":    msg.StringField(contractx.KeyIdentityID),
			"sentiment":      sentiment,
			"priority_score": priority,
			"status":         "open",
		},
	})
	if err != nil {
		return nil, err
	}
	ticketID, _ := ticket.Result["ticket_id"].(string)

	response := msg.Derive(t.Name(), contractx.ReceiverExternal, contractx.TypeTaskResponse, mergePayload(msg.Payload, map[string]any{
		contractx.KeyStatus:   "ticket_created",
		contractx.KeyTicketID: ticketID,
		"kb":                  kb.Result,
	}))
	return []contractx.Message{response}, nil
}
