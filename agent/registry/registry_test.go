package registry

import (
	"context"
	"errors"
	"testing"

	contractx "github.com/napatsw/deskmate/agent/contract"
)

type stubHandler struct {
	name    string
	accepts bool
}

func (s *stubHandler) Name() string                               { return s.name }
func (s *stubHandler) CanHandle(msg contractx.Message) bool       { return s.accepts }
func (s *stubHandler) Process(ctx context.Context, msg contractx.Message) ([]contractx.Message, error) {
	return nil, nil
}

func TestRegisterRejectsDuplicatesAndReservedNames(t *testing.T) {
	t.Parallel()

	r := New()
	if err := r.Register(&stubHandler{name: "refund", accepts: true}); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if err := r.Register(&stubHandler{name: "refund"}); !errors.Is(err, contractx.ErrValidation) {
		t.Fatalf("expected ErrValidation on duplicate, got %v", err)
	}
	if err := r.Register(&stubHandler{name: contractx.ReceiverExternal}); !errors.Is(err, contractx.ErrValidation) {
		t.Fatalf("expected ErrValidation on reserved name, got %v", err)
	}
	if err := r.Register(&stubHandler{name: "  "}); !errors.Is(err, contractx.ErrValidation) {
		t.Fatalf("expected ErrValidation on empty name, got %v", err)
	}
	if err := r.Register(nil); !errors.Is(err, contractx.ErrValidation) {
		t.Fatalf("expected ErrValidation on nil handler, got %v", err)
	}
}

func TestLookup(t *testing.T) {
	t.Parallel()

	r := New()
	if err := r.Register(&stubHandler{name: "tech", accepts: true}); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if err := r.Register(&stubHandler{name: "picky", accepts: false}); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	msg := contractx.NewMessage("s1", "a", "tech", contractx.TypeTaskRequest, map[string]any{})

	if _, err := r.Lookup("tech", msg); err != nil {
		t.Fatalf("Lookup() error = %v", err)
	}
	if _, err := r.Lookup("ghost", msg); !errors.Is(err, contractx.ErrUnknownHandler) {
		t.Fatalf("expected ErrUnknownHandler, got %v", err)
	}
	if _, err := r.Lookup("picky", msg); !errors.Is(err, contractx.ErrValidation) {
		t.Fatalf("expected ErrValidation from CanHandle pre-check, got %v", err)
	}
}

func TestNamesSorted(t *testing.T) {
	t.Parallel()

	r := New()
	for _, name := range []string{"tech", "classifier", "refund"} {
		if err := r.Register(&stubHandler{name: name, accepts: true}); err != nil {
			t.Fatalf("Register(%s) error = %v", name, err)
		}
	}
	names := r.Names()
	want := []string{"classifier", "refund", "tech"}
	if len(names) != len(want) {
		t.Fatalf("names = %v", names)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("names = %v, want %v", names, want)
		}
	}
}
