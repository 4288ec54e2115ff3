package handlers

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	contractx "github.com/napatsw/deskmate/agent/contract"
	routingx "github.com/napatsw/deskmate/agent/routing"
	toolx "github.com/napatsw/deskmate/agent/tool"
)

// Oversight reviews specialist proposals against policy rules and owns the
// escalation path. A rejected proposal gets exactly one revision cycle.
type Oversight struct {
	tools contractx.ToolGateway

	// ApprovalCap is the largest refund oversight signs off without
	// requesting a revision.
	ApprovalCap float64
}

var _ contractx.Handler = (*Oversight)(nil)

func NewOversight(tools contractx.ToolGateway) *Oversight {
	return &Oversight{tools: tools, ApprovalCap: 250}
}

func (o *Oversight) Name() string { return routingx.HandlerOversight }

func (o *Oversight) CanHandle(msg contractx.Message) bool {
	return msg.Type == contractx.TypeTaskRequest || msg.Type == contractx.TypeInfo
}

func (o *Oversight) Process(ctx context.Context, msg contractx.Message) ([]contractx.Message, error) {
	if msg.StringField(contractx.KeyProposal) != "" {
		return o.review(ctx, msg)
	}
	return o.escalate(ctx, msg)
}

// review validates a specialist's proposed action: approve and forward, or
// reject with a revision request. Revised proposals are never bounced again.
func (o *Oversight) review(ctx context.Context, msg contractx.Message) ([]contractx.Message, error) {
	amount, _ := msg.FloatField(contractx.KeyAmount)
	revised := msg.StringField(contractx.KeyRevision) != ""

	if amount > o.ApprovalCap && !revised {
		log.Info().
			Str("trace_id", msg.TraceID).
			Float64("amount", amount).
			Float64("cap", o.ApprovalCap).
			Msg("proposal rejected, requesting revision")
		revision := msg.Derive(o.Name(), msg.Sender, contractx.TypeInfo, mergePayload(msg.Payload, map[string]any{
			contractx.KeyRevision: "requested",
			contractx.KeyReason:   fmt.Sprintf("amount %.2f exceeds approval cap %.2f", amount, o.ApprovalCap),
		}))
		return []contractx.Message{revision}, nil
	}

	if amount > o.ApprovalCap {
		// Revision still over cap: final rejection, no second cycle.
		response := msg.Derive(o.Name(), contractx.ReceiverExternal, contractx.TypeTaskResponse, mergePayload(msg.Payload, map[string]any{
			contractx.KeyStatus: "proposal_rejected",
			contractx.KeyReason: "revised proposal still exceeds approval cap",
		}))
		return []contractx.Message{response}, nil
	}

	ticket, err := o.tools.Execute(ctx, o.Name(), contractx.ToolRequest{
		Tool: toolx.ToolTicketCreate,
		Args: map[string]any{
			"intent":      msg.StringField(contractx.KeyIntent),
			"text":        fmt.Sprintf("Approved %s proposal from %s, amount %.2f", msg.StringField(contractx.KeyProposal), msg.Sender, amount),
			"identity_id": msg.StringField(contractx.KeyIdentityID),
			"status":      "approved",
		},
	})
	if err != nil {
		return nil, err
	}
	ticketID, _ := ticket.Result["ticket_id"].(string)

	response := msg.Derive(o.Name(), contractx.ReceiverExternal, contractx.TypeTaskResponse, mergePayload(msg.Payload, map[string]any{
		contractx.KeyStatus:   "proposal_approved",
		contractx.KeyTicketID: ticketID,
	}))
	return []contractx.Message{response}, nil
}

// escalate handles priority-threshold routing: a human gets the case, the
// customer gets an acknowledgement.
func (o *Oversight) escalate(ctx context.Context, msg contractx.Message) ([]contractx.Message, error) {
	sentiment, _ := msg.FloatField(contractx.KeySentiment)
	priority, _ := msg.FloatField(contractx.KeyPriorityScore)

	ticket, err := o.tools.Execute(ctx, o.Name(), contractx.ToolRequest{
		Tool: toolx.ToolTicketCreate,
		Args: map[string]any{
			"intent":         msg.StringField(contractx.KeyIntent),
			"text":           msg.Text(),
			"identity_id":    msg.StringField(contractx.KeyIdentityID),
			"sentiment":      sentiment,
			"priority_score": priority,
			"status":         "escalated",
		},
	})
	if err != nil {
		return nil, err
	}
	ticketID, _ := ticket.Result["ticket_id"].(string)

	response := msg.Derive(o.Name(), contractx.ReceiverExternal, contractx.TypeTaskResponse, mergePayload(msg.Payload, map[string]any{
		contractx.KeyStatus:   "escalated",
		contractx.KeyTicketID: ticketID,
	}))
	notice := msg.Derive(o.Name(), routingx.HandlerNotify, contractx.TypeInfo, map[string]any{
		contractx.KeyIdentityID: msg.StringField(contractx.KeyIdentityID),
		"subject":               "Your request has been escalated",
		"body":                  "A senior support agent is reviewing your case and will follow up shortly.",
	})
	return []contractx.Message{response, notice}, nil
}
