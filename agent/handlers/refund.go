package handlers

import (
	"context"
	"fmt"
	"regexp"

	"github.com/rs/zerolog/log"

	contractx "github.com/napatsw/deskmate/agent/contract"
	routingx "github.com/napatsw/deskmate/agent/routing"
	toolx "github.com/napatsw/deskmate/agent/tool"
)

var orderIDPattern = regexp.MustCompile(`(?i)order\s*#?\s*([0-9][0-9a-z-]*)`)

// Refund validates the order through the tool collaborator, assesses risk,
// and either processes the refund directly or proposes it to oversight.
type Refund struct {
	tools  contractx.ToolGateway
	memory contractx.MemoryStore

	// Refunds above AutoApproveLimit go through oversight.
	AutoApproveLimit float64
}

var _ contractx.Handler = (*Refund)(nil)

func NewRefund(tools contractx.ToolGateway, memory contractx.MemoryStore) *Refund {
	return &Refund{tools: tools, memory: memory, AutoApproveLimit: 100}
}

func (r *Refund) Name() string { return routingx.HandlerRefund }

func (r *Refund) CanHandle(msg contractx.Message) bool {
	return msg.Type == contractx.TypeTaskRequest || msg.Type == contractx.TypeInfo
}

func (r *Refund) Process(ctx context.Context, msg contractx.Message) ([]contractx.Message, error) {
	// Revision request from oversight: cap the amount and re-propose once.
	if msg.Type == contractx.TypeInfo && msg.StringField(contractx.KeyRevision) != "" {
		return r.revise(msg)
	}

	orderID := msg.StringField(contractx.KeyOrderID)
	if orderID == "" {
		if m := orderIDPattern.FindStringSubmatch(msg.Text()); m != nil {
			orderID = m[1]
		}
	}
	if orderID == "" {
		return r.reject(msg, "no order id in request"), nil
	}
	identityID := msg.StringField(contractx.KeyIdentityID)

	lookup, err := r.tools.Execute(ctx, r.Name(), contractx.ToolRequest{
		Tool: toolx.ToolOrderLookup,
		Args: map[string]any{"identity_id": identityID, "order_id": orderID},
	})
	if err != nil {
		return nil, err
	}
	if lookup.Error != "" {
		return r.reject(msg, lookup.Error), nil
	}

	orderAmount, _ := lookup.Result["order_amount"].(float64)
	refunded, _ := lookup.Result["already_refunded"].(bool)
	ageDays := intResult(lookup.Result, "age_days")

	amount, ok := msg.FloatField(contractx.KeyAmount)
	if !ok || amount <= 0 {
		amount = orderAmount
	}

	if refunded {
		return r.reject(msg, "order already refunded"), nil
	}
	if amount > orderAmount {
		return r.reject(msg, "refund amount exceeds order amount"), nil
	}

	risk := r.assessRisk(ctx, identityID, amount, ageDays)
	log.Debug().
		Str("trace_id", msg.TraceID).
		Str("order_id", orderID).
		Float64("amount", amount).
		Str("risk", risk).
		Msg("refund request validated")

	if risk == "low" {
		return r.process(ctx, msg, identityID, orderID, amount)
	}

	// Proposal goes to oversight for approval.
	proposal := msg.Derive(r.Name(), routingx.HandlerOversight, contractx.TypeTaskRequest, mergePayload(msg.Payload, map[string]any{
		contractx.KeyProposal: "refund",
		contractx.KeyOrderID:  orderID,
		contractx.KeyAmount:   amount,
		"risk":                risk,
	}))
	return []contractx.Message{proposal}, nil
}

func (r *Refund) process(ctx context.Context, msg contractx.Message, identityID, orderID string, amount float64) ([]contractx.Message, error) {
	sentiment, _ := msg.FloatField(contractx.KeySentiment)
	ticket, err := r.tools.Execute(ctx, r.Name(), contractx.ToolRequest{
		Tool: toolx.ToolTicketCreate,
		Args: map[string]any{
			"intent":      "refund_processed",
			"text":        fmt.Sprintf("Refund processed for order %s, amount %.2f", orderID, amount),
			"identity_id": identityID,
			"sentiment":   sentiment,
			"status":      "resolved",
		},
	})
	if err != nil {
		return nil, err
	}
	ticketID, _ := ticket.Result["ticket_id"].(string)

	response := msg.Derive(r.Name(), contractx.ReceiverExternal, contractx.TypeTaskResponse, mergePayload(msg.Payload, map[string]any{
		contractx.KeyStatus:   "refund_processed",
		contractx.KeyTicketID: ticketID,
		contractx.KeyOrderID:  orderID,
		contractx.KeyAmount:   amount,
	}))
	confirmation := msg.Derive(r.Name(), routingx.HandlerNotify, contractx.TypeInfo, map[string]any{
		contractx.KeyIdentityID: identityID,
		"subject":               "Refund confirmation",
		"body":                  fmt.Sprintf("Your refund of %.2f for order %s has been processed.", amount, orderID),
	})
	return []contractx.Message{response, confirmation}, nil
}

func (r *Refund) revise(msg contractx.Message) ([]contractx.Message, error) {
	amount, _ := msg.FloatField(contractx.KeyAmount)
	if amount > r.AutoApproveLimit {
		amount = r.AutoApproveLimit
	}
	proposal := msg.Derive(r.Name(), routingx.HandlerOversight, contractx.TypeTaskRequest, mergePayload(msg.Payload, map[string]any{
		contractx.KeyProposal: "refund",
		contractx.KeyAmount:   amount,
		contractx.KeyRevision: "1",
	}))
	return []contractx.Message{proposal}, nil
}

func (r *Refund) reject(msg contractx.Message, reason string) []contractx.Message {
	response := msg.Derive(r.Name(), contractx.ReceiverExternal, contractx.TypeTaskResponse, mergePayload(msg.Payload, map[string]any{
		contractx.KeyStatus: "refund_rejected",
		contractx.KeyReason: reason,
	}))
	return []contractx.Message{response}
}

func (r *Refund) assessRisk(ctx context.Context, identityID string, amount float64, ageDays int) string {
	risk := "low"
	if amount > r.AutoApproveLimit {
		risk = "medium"
	}
	if amount > 2*r.AutoApproveLimit || ageDays > 30 {
		risk = "high"
	}

	if r.memory != nil && identityID != "" {
		identity, err := r.memory.GetIdentity(ctx, identityID)
		if err == nil {
			if trusted, _ := identity.Preferences["trusted"].(bool); trusted && risk == "medium" {
				risk = "low"
			}
		}
	}
	return risk
}

func mergePayload(base map[string]any, patch map[string]any) map[string]any {
	out := make(map[string]any, len(base)+len(patch))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range patch {
		out[k] = v
	}
	return out
}

func intResult(result map[string]any, key string) int {
	switch v := result[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	default:
		return 0
	}
}
