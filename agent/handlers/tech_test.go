package handlers

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	contractx "github.com/napatsw/deskmate/agent/contract"
	toolx "github.com/napatsw/deskmate/agent/tool"
)

func TestTechSearchesKBAndOpensTicket(t *testing.T) {
	t.Parallel()

	g := newFakeGateway()
	g.results[toolx.ToolKBSearch] = contractx.ToolResult{
		Tool: toolx.ToolKBSearch,
		Result: map[string]any{
			"hits":  []map[string]any{{"topic": "login", "text": "Reset the password."}},
			"count": 1,
		},
	}
	g.results[toolx.ToolTicketCreate] = contractx.ToolResult{
		Tool:   toolx.ToolTicketCreate,
		Result: map[string]any{"ticket_id": "TCK-t1"},
	}
	h := NewTech(g)

	msg := taskMsg(map[string]any{
		contractx.KeyText:          "cannot login to my account",
		contractx.KeyIntent:        "technical_support",
		contractx.KeyIdentityID:    "cust-1",
		contractx.KeyPriorityScore: 4.0,
	})
	children, err := h.Process(context.Background(), msg)
	require.NoError(t, err)
	require.Len(t, children, 1)

	response := children[0]
	assert.Equal(t, contractx.ReceiverExternal, response.Receiver)
	assert.Equal(t, "ticket_created", response.StringField(contractx.KeyStatus))
	assert.Equal(t, "TCK-t1", response.StringField(contractx.KeyTicketID))
	assert.NotNil(t, response.Payload["kb"])

	tickets := g.callsFor(toolx.ToolTicketCreate)
	require.Len(t, tickets, 1)
	assert.Equal(t, "technical_support", tickets[0].req.Args["intent"])
	assert.InDelta(t, 4.0, tickets[0].req.Args["priority_score"].(float64), 1e-9)
}

func TestTechToolFailurePropagates(t *testing.T) {
	t.Parallel()

	g := newFakeGateway()
	g.err = contractx.Transient(assert.AnError)
	h := NewTech(g)

	_, err := h.Process(context.Background(), taskMsg(map[string]any{contractx.KeyText: "broken"}))
	require.Error(t, err)
	assert.True(t, contractx.IsTransient(err))
}
