package handlers

import (
	"context"
	"fmt"

	contractx "github.com/napatsw/deskmate/agent/contract"
	routingx "github.com/napatsw/deskmate/agent/routing"
	toolx "github.com/napatsw/deskmate/agent/tool"
)

// Shipping answers delivery questions from the tracking collaborator and
// opens a ticket when the shipment is delayed.
type Shipping struct {
	tools contractx.ToolGateway
}

var _ contractx.Handler = (*Shipping)(nil)

func NewShipping(tools contractx.ToolGateway) *Shipping {
	return &Shipping{tools: tools}
}

func (s *Shipping) Name() string { return routingx.HandlerShipping }

func (s *Shipping) CanHandle(msg contractx.Message) bool {
	return msg.Type == contractx.TypeTaskRequest
}

func (s *Shipping) Process(ctx context.Context, msg contractx.Message) ([]contractx.Message, error) {
	orderID := msg.StringField(contractx.KeyOrderID)
	if orderID == "" {
		if m := orderIDPattern.FindStringSubmatch(msg.Text()); m != nil {
			orderID = m[1]
		}
	}
	if orderID == "" {
		response := msg.Derive(s.Name(), contractx.ReceiverExternal, contractx.TypeTaskResponse, mergePayload(msg.Payload, map[string]any{
			contractx.KeyStatus: "needs_order_id",
			contractx.KeyReason: "no order id in request",
		}))
		return []contractx.Message{response}, nil
	}

	track, err := s.tools.Execute(ctx, s.Name(), contractx.ToolRequest{
		Tool: toolx.ToolShipmentTrack,
		Args: map[string]any{"order_id": orderID},
	})
	if err != nil {
		return nil, err
	}
	status, _ := track.Result["status"].(string)
	eta := intResult(track.Result, "eta_days")

	patch := map[string]any{
		contractx.KeyStatus:  "shipment_status",
		contractx.KeyOrderID: orderID,
		"shipment_status":    status,
		"eta_days":           eta,
	}

	if status == "delayed" {
		sentiment, _ := msg.FloatField(contractx.KeySentiment)
		ticket, err := s.tools.Execute(ctx, s.Name(), contractx.ToolRequest{
			Tool: toolx.ToolTicketCreate,
			Args: map[string]any{
				"intent":      "shipping_inquiry",
				"text":        fmt.Sprintf("Shipment delayed for order %s", orderID),
				"identity_id": msg.StringField(contractx.KeyIdentityID),
				"sentiment":   sentiment,
				"status":      "open",
			},
		})
		if err != nil {
			return nil, err
		}
		patch[contractx.KeyTicketID], _ = ticket.Result["ticket_id"].(string)
	}

	response := msg.Derive(s.Name(), contractx.ReceiverExternal, contractx.TypeTaskResponse, mergePayload(msg.Payload, patch))
	return []contractx.Message{response}, nil
}
