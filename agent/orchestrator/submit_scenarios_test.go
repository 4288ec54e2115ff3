package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"testing"

	contractx "github.com/napatsw/deskmate/agent/contract"
	handlersx "github.com/napatsw/deskmate/agent/handlers"
	memoryx "github.com/napatsw/deskmate/agent/memory"
	registryx "github.com/napatsw/deskmate/agent/registry"
	routingx "github.com/napatsw/deskmate/agent/routing"
	toolx "github.com/napatsw/deskmate/agent/tool"
)

type failingInference struct {
	mu    sync.Mutex
	calls int
}

func (f *failingInference) Classify(ctx context.Context, text string, task contractx.ClassifyTask) (contractx.Classification, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	return contractx.Classification{}, contractx.Transient(fmt.Errorf("%w: model offline", contractx.ErrCollaborator))
}

type captureNotifier struct {
	mu    sync.Mutex
	sends int
}

func (c *captureNotifier) Send(ctx context.Context, recipient, subject, body string) error {
	c.mu.Lock()
	c.sends++
	c.mu.Unlock()
	return nil
}

func (c *captureNotifier) sendCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sends
}

// newFullStack wires the real handler set, policy, and tool catalog the way
// main does, with an in-process ticket store and a counting notifier.
func newFullStack(t *testing.T, inf contractx.Inference) (*Orchestrator, *captureNotifier) {
	t.Helper()

	store := memoryx.NewStore(memoryx.Config{})
	catalog := toolx.NewCatalog(toolx.NewMemTicketStore())
	notifier := &captureNotifier{}

	reg := registryx.New()
	for _, h := range []contractx.Handler{
		handlersx.NewClassifier(inf),
		handlersx.NewRefund(catalog, store),
		handlersx.NewShipping(catalog),
		handlersx.NewTech(catalog),
		handlersx.NewOversight(catalog),
		handlersx.NewNotify(notifier),
	} {
		if err := reg.Register(h); err != nil {
			t.Fatalf("Register(%s) error = %v", h.Name(), err)
		}
	}

	o, err := New(reg, routingx.NewPolicy(routingx.Config{}), store, memoryx.NewTraceLog(), Config{})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return o, notifier
}

func TestSubmitRefundRequestThroughRealHandlers(t *testing.T) {
	t.Parallel()

	o, _ := newFullStack(t, nil)

	result, err := o.Submit(context.Background(), "I want a refund for order #12345", "C001", "")
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if len(result.Errors) != 0 {
		t.Fatalf("unexpected errors: %v", result.Errors)
	}
	if result.Intent != "refund_request" {
		t.Fatalf("intent = %q, want refund_request", result.Intent)
	}
	if result.Handler != routingx.HandlerRefund {
		t.Fatalf("handler = %q, want refund", result.Handler)
	}
	if result.Escalated {
		t.Fatal("a plain refund request must not escalate")
	}
	if len(result.TicketIDs) != 1 {
		t.Fatalf("ticket ids = %v, want exactly one", result.TicketIDs)
	}

	// The order for C001/#12345 resolves above the refund auto-approve
	// limit, so the proposal goes through oversight and comes back approved.
	var approved bool
	for _, resp := range result.Responses {
		if resp.StringField(contractx.KeyStatus) == "proposal_approved" {
			approved = true
			if resp.StringField(contractx.KeyTicketID) == "" {
				t.Fatal("approved response carries no ticket id")
			}
		}
	}
	if !approved {
		t.Fatalf("no approved response among %d responses", len(result.Responses))
	}
}

func TestSubmitAngryMessageEscalatesThroughRealHandlers(t *testing.T) {
	t.Parallel()

	o, notifier := newFullStack(t, nil)

	result, err := o.Submit(context.Background(), "This is the worst service, I am furious and frustrated", "C002", "")
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if result.Intent != "complaint" {
		t.Fatalf("intent = %q, want complaint", result.Intent)
	}
	if result.Handler != routingx.HandlerOversight {
		t.Fatalf("handler = %q, want oversight", result.Handler)
	}
	if !result.Escalated {
		t.Fatal("expected escalation above the priority threshold")
	}
	if result.Priority <= 7.0 {
		t.Fatalf("priority = %v, want above threshold", result.Priority)
	}
	if len(result.TicketIDs) != 1 {
		t.Fatalf("ticket ids = %v, want the escalation ticket", result.TicketIDs)
	}
	if notifier.sendCount() != 1 {
		t.Fatalf("expected one escalation notice, got %d", notifier.sendCount())
	}
}

func TestSubmitStillClassifiesWhenInferenceDown(t *testing.T) {
	t.Parallel()

	inf := &failingInference{}
	o, _ := newFullStack(t, inf)

	result, err := o.Submit(context.Background(), "my package is lost", "C003", "")
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if len(result.Errors) != 0 {
		t.Fatalf("fallback path must not surface errors: %v", result.Errors)
	}
	if result.Intent != "shipping_inquiry" {
		t.Fatalf("intent = %q, want shipping_inquiry from the fallback rules", result.Intent)
	}
	if result.Emotion != "neutral" {
		t.Fatalf("emotion = %q, want neutral", result.Emotion)
	}
	if result.Handler != routingx.HandlerShipping {
		t.Fatalf("handler = %q, want shipping", result.Handler)
	}
	if inf.calls != 2 {
		t.Fatalf("inference attempts = %d, want 2 (intent and sentiment)", inf.calls)
	}
}
