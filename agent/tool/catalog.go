// Package tool implements the Tool collaborator set: ticket database,
// order lookup, shipment tracking, and knowledge-base search.
package tool

import (
	"context"
	"fmt"
	"strings"

	contractx "github.com/napatsw/deskmate/agent/contract"
)

const (
	ToolTicketCreate  = "ticket.create"
	ToolTicketGet     = "ticket.get"
	ToolOrderLookup   = "order.lookup"
	ToolShipmentTrack = "shipment.track"
	ToolKBSearch      = "kb.search"
)

// Ticket is one support ticket row.
type Ticket struct {
	ID            string  `json:"id"`
	Intent        string  `json:"intent"`
	Text          string  `json:"text"`
	IdentityID    string  `json:"identity_id"`
	Sentiment     float64 `json:"sentiment"`
	PriorityScore float64 `json:"priority_score"`
	Status        string  `json:"status"`
}

type TicketStore interface {
	Create(ctx context.Context, t Ticket) (string, error)
	Get(ctx context.Context, id string) (*Ticket, error)
}

// Catalog is the default ToolGateway. Each handler gets an allow-list;
// calling a tool outside it is a validation failure, never retried.
type Catalog struct {
	tickets TicketStore
	allowed map[string]map[string]struct{}
}

var _ contractx.ToolGateway = (*Catalog)(nil)

func NewCatalog(tickets TicketStore) *Catalog {
	return &Catalog{
		tickets: tickets,
		allowed: map[string]map[string]struct{}{
			"refund":    toolSet(ToolTicketCreate, ToolTicketGet, ToolOrderLookup),
			"shipping":  toolSet(ToolTicketCreate, ToolShipmentTrack, ToolOrderLookup),
			"tech":      toolSet(ToolTicketCreate, ToolKBSearch),
			"oversight": toolSet(ToolTicketCreate, ToolTicketGet),
		},
	}
}

// Allow grants handler access to the named tools, replacing any prior grant.
func (c *Catalog) Allow(handler string, tools ...string) {
	c.allowed[handler] = toolSet(tools...)
}

func (c *Catalog) Execute(ctx context.Context, handler string, req contractx.ToolRequest) (contractx.ToolResult, error) {
	name := strings.TrimSpace(req.Tool)
	if name == "" {
		return contractx.ToolResult{}, fmt.Errorf("%w: tool name is empty", contractx.ErrValidation)
	}
	if set, ok := c.allowed[handler]; !ok || !member(set, name) {
		return contractx.ToolResult{}, fmt.Errorf("%w: tool=%s is not allowed for handler=%s", contractx.ErrValidation, name, handler)
	}

	switch name {
	case ToolTicketCreate:
		return c.createTicket(ctx, req.Args)
	case ToolTicketGet:
		return c.getTicket(ctx, req.Args)
	case ToolOrderLookup:
		return lookupOrder(req.Args)
	case ToolShipmentTrack:
		return trackShipment(req.Args)
	case ToolKBSearch:
		return searchKB(req.Args)
	default:
		return contractx.ToolResult{}, fmt.Errorf("%w: unknown tool %s", contractx.ErrValidation, name)
	}
}

func (c *Catalog) createTicket(ctx context.Context, args map[string]any) (contractx.ToolResult, error) {
	if c.tickets == nil {
		return contractx.ToolResult{}, contractx.Transient(fmt.Errorf("%w: ticket store unavailable", contractx.ErrCollaborator))
	}
	t := Ticket{
		Intent:     stringArg(args, "intent"),
		Text:       stringArg(args, "text"),
		IdentityID: stringArg(args, "identity_id"),
		Sentiment:  floatArg(args, "sentiment"),
		Status:     stringArg(args, "status"),
	}
	t.PriorityScore = floatArg(args, "priority_score")
	if t.Status == "" {
		t.Status = "open"
	}
	id, err := c.tickets.Create(ctx, t)
	if err != nil {
		return contractx.ToolResult{}, contractx.Transient(fmt.Errorf("%w: create ticket: %v", contractx.ErrCollaborator, err))
	}
	return contractx.ToolResult{
		Tool:   ToolTicketCreate,
		Result: map[string]any{"ticket_id": id, "status": t.Status},
	}, nil
}

func (c *Catalog) getTicket(ctx context.Context, args map[string]any) (contractx.ToolResult, error) {
	if c.tickets == nil {
		return contractx.ToolResult{}, contractx.Transient(fmt.Errorf("%w: ticket store unavailable", contractx.ErrCollaborator))
	}
	id := stringArg(args, "ticket_id")
	if id == "" {
		return contractx.ToolResult{}, fmt.Errorf("%w: ticket_id is required", contractx.ErrValidation)
	}
	t, err := c.tickets.Get(ctx, id)
	if err != nil {
		return contractx.ToolResult{Tool: ToolTicketGet, Error: err.Error()}, nil
	}
	return contractx.ToolResult{
		Tool: ToolTicketGet,
		Result: map[string]any{
			"ticket_id": t.ID,
			"intent":    t.Intent,
			"status":    t.Status,
		},
	}, nil
}

func toolSet(tools ...string) map[string]struct{} {
	set := make(map[string]struct{}, len(tools))
	for _, t := range tools {
		set[t] = struct{}{}
	}
	return set
}

func member(set map[string]struct{}, name string) bool {
	_, ok := set[name]
	return ok
}

func stringArg(args map[string]any, key string) string {
	s, _ := args[key].(string)
	return s
}

func floatArg(args map[string]any, key string) float64 {
	switch v := args[key].(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int:
		return float64(v)
	default:
		return 0
	}
}
