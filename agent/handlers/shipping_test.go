package handlers

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	contractx "github.com/napatsw/deskmate/agent/contract"
	toolx "github.com/napatsw/deskmate/agent/tool"
)

func shippingGateway(status string) *fakeGateway {
	g := newFakeGateway()
	g.results[toolx.ToolShipmentTrack] = contractx.ToolResult{
		Tool: toolx.ToolShipmentTrack,
		Result: map[string]any{
			"order_id": "1001",
			"status":   status,
			"eta_days": 3,
		},
	}
	g.results[toolx.ToolTicketCreate] = contractx.ToolResult{
		Tool:   toolx.ToolTicketCreate,
		Result: map[string]any{"ticket_id": "TCK-s1"},
	}
	return g
}

func TestShippingReportsStatus(t *testing.T) {
	t.Parallel()

	g := shippingGateway("in_transit")
	s := NewShipping(g)

	msg := taskMsg(map[string]any{
		contractx.KeyText:    "where is order #1001",
		contractx.KeyOrderID: "1001",
	})
	children, err := s.Process(context.Background(), msg)
	require.NoError(t, err)
	require.Len(t, children, 1)

	response := children[0]
	assert.Equal(t, contractx.ReceiverExternal, response.Receiver)
	assert.Equal(t, "in_transit", response.StringField("shipment_status"))
	assert.Empty(t, response.StringField(contractx.KeyTicketID), "no ticket while on schedule")
	require.Empty(t, g.callsFor(toolx.ToolTicketCreate))
}

func TestShippingDelayedOpensTicket(t *testing.T) {
	t.Parallel()

	g := shippingGateway("delayed")
	s := NewShipping(g)

	msg := taskMsg(map[string]any{
		contractx.KeyText:    "tracking for order #1001",
		contractx.KeyOrderID: "1001",
	})
	children, err := s.Process(context.Background(), msg)
	require.NoError(t, err)
	require.Len(t, children, 1)

	response := children[0]
	assert.Equal(t, "delayed", response.StringField("shipment_status"))
	assert.Equal(t, "TCK-s1", response.StringField(contractx.KeyTicketID))
	require.Len(t, g.callsFor(toolx.ToolTicketCreate), 1)
}

func TestShippingNeedsOrderID(t *testing.T) {
	t.Parallel()

	s := NewShipping(newFakeGateway())
	msg := taskMsg(map[string]any{contractx.KeyText: "where is my stuff"})

	children, err := s.Process(context.Background(), msg)
	require.NoError(t, err)
	require.Len(t, children, 1)
	assert.Equal(t, "needs_order_id", children[0].StringField(contractx.KeyStatus))
}
