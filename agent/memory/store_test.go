package memory

import (
	"context"
	"errors"
	"fmt"
	"testing"

	contractx "github.com/napatsw/deskmate/agent/contract"
)

func textMsg(session, text string, sentiment float64) contractx.Message {
	payload := map[string]any{contractx.KeyText: text}
	if sentiment != 0 {
		payload[contractx.KeySentiment] = sentiment
	}
	return contractx.NewMessage(session, "classifier", "", contractx.TypeTaskRequest, payload)
}

func TestAppendAndGetSession(t *testing.T) {
	t.Parallel()

	s := NewStore(Config{})
	ctx := context.Background()

	if err := s.AppendMessage(ctx, "s1", textMsg("s1", "hello", -0.2)); err != nil {
		t.Fatalf("AppendMessage() error = %v", err)
	}

	sess, err := s.GetSession(ctx, "s1")
	if err != nil {
		t.Fatalf("GetSession() error = %v", err)
	}
	if len(sess.Messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(sess.Messages))
	}
	if len(sess.Sentiments) != 1 || sess.Sentiments[0] != -0.2 {
		t.Fatalf("sentiments = %v", sess.Sentiments)
	}

	// Reads hand back copies, not live state.
	sess.Messages = nil
	again, _ := s.GetSession(ctx, "s1")
	if len(again.Messages) != 1 {
		t.Fatal("caller mutation leaked into the store")
	}
}

func TestSessionIsolation(t *testing.T) {
	t.Parallel()

	s := NewStore(Config{})
	ctx := context.Background()

	if err := s.AppendMessage(ctx, "a", textMsg("a", "for a", 0)); err != nil {
		t.Fatalf("AppendMessage() error = %v", err)
	}
	b, err := s.GetSession(ctx, "b")
	if err != nil {
		t.Fatalf("GetSession() error = %v", err)
	}
	if len(b.Messages) != 0 {
		t.Fatalf("session b should be empty, got %d messages", len(b.Messages))
	}
}

func TestCompactionBoundsHistory(t *testing.T) {
	t.Parallel()

	s := NewStore(Config{CompactThreshold: 5, KeepRecent: 2})
	ctx := context.Background()

	for i := 1; i <= 6; i++ {
		msg := textMsg("s1", fmt.Sprintf("m%d", i), -0.1)
		if err := s.AppendMessage(ctx, "s1", msg); err != nil {
			t.Fatalf("AppendMessage(%d) error = %v", i, err)
		}
	}

	sess, err := s.GetSession(ctx, "s1")
	if err != nil {
		t.Fatalf("GetSession() error = %v", err)
	}
	if len(sess.Messages) != 2 {
		t.Fatalf("expected 2 verbatim messages after compaction, got %d", len(sess.Messages))
	}
	if sess.Messages[0].Text() != "m5" || sess.Messages[1].Text() != "m6" {
		t.Fatalf("latest messages = %q, %q", sess.Messages[0].Text(), sess.Messages[1].Text())
	}
	if sess.Summary != "m1, m2, m3, m4" {
		t.Fatalf("summary = %q", sess.Summary)
	}
	if len(sess.Sentiments) != 2 {
		t.Fatalf("sentiments not trimmed: %v", sess.Sentiments)
	}
}

func TestCompactionDeterministic(t *testing.T) {
	t.Parallel()

	build := func() string {
		s := NewStore(Config{CompactThreshold: 5, KeepRecent: 2})
		for i := 1; i <= 6; i++ {
			msg := contractx.Message{
				ID:        fmt.Sprintf("id-%d", i),
				SessionID: "s1",
				TraceID:   "t1",
				Sender:    "classifier",
				Type:      contractx.TypeTaskRequest,
				Payload:   map[string]any{contractx.KeyText: fmt.Sprintf("msg %d. extra detail", i)},
			}
			if err := s.AppendMessage(context.Background(), "s1", msg); err != nil {
				t.Fatalf("AppendMessage() error = %v", err)
			}
		}
		sess, err := s.GetSession(context.Background(), "s1")
		if err != nil {
			t.Fatalf("GetSession() error = %v", err)
		}
		return sess.Summary
	}

	first := build()
	if first != "msg 1, msg 2, msg 3, msg 4" {
		t.Fatalf("summary = %q", first)
	}
	if second := build(); second != first {
		t.Fatalf("summary not deterministic: %q vs %q", second, first)
	}
}

func TestScratchpad(t *testing.T) {
	t.Parallel()

	s := NewStore(Config{})
	ctx := context.Background()

	if err := s.SetScratch(ctx, "s1", "pending_order", "42"); err != nil {
		t.Fatalf("SetScratch() error = %v", err)
	}
	sess, err := s.GetSession(ctx, "s1")
	if err != nil {
		t.Fatalf("GetSession() error = %v", err)
	}
	if sess.Scratch["pending_order"] != "42" {
		t.Fatalf("scratch = %v", sess.Scratch)
	}
}

func TestIdentityLifecycle(t *testing.T) {
	t.Parallel()

	s := NewStore(Config{IdentityHistoryLimit: 3})
	ctx := context.Background()

	id, err := s.GetIdentity(ctx, "cust-1")
	if err != nil {
		t.Fatalf("GetIdentity() error = %v", err)
	}
	if id.FirstContact.IsZero() {
		t.Fatal("first contact not set on creation")
	}

	for i := 0; i < 5; i++ {
		score := float64(i) / 10
		err := s.UpdateIdentity(ctx, "cust-1", contractx.IdentityPatch{
			SessionSummary: fmt.Sprintf("session %d", i),
			Sentiment:      &score,
		})
		if err != nil {
			t.Fatalf("UpdateIdentity(%d) error = %v", i, err)
		}
	}

	id, _ = s.GetIdentity(ctx, "cust-1")
	if len(id.SessionSummaries) != 3 {
		t.Fatalf("summaries not capped: %v", id.SessionSummaries)
	}
	if id.SessionSummaries[0] != "session 2" {
		t.Fatalf("oldest kept summary = %q", id.SessionSummaries[0])
	}
	if len(id.SentimentTrend) != 3 {
		t.Fatalf("trend not capped: %v", id.SentimentTrend)
	}

	err = s.UpdateIdentity(ctx, "cust-1", contractx.IdentityPatch{Preferences: map[string]any{"trusted": true}})
	if err != nil {
		t.Fatalf("UpdateIdentity() error = %v", err)
	}
	id, _ = s.GetIdentity(ctx, "cust-1")
	if trusted, _ := id.Preferences["trusted"].(bool); !trusted {
		t.Fatalf("preferences = %v", id.Preferences)
	}
}

func TestEmptyIDsRejected(t *testing.T) {
	t.Parallel()

	s := NewStore(Config{})
	ctx := context.Background()

	if _, err := s.GetSession(ctx, " "); !errors.Is(err, contractx.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
	if err := s.AppendMessage(ctx, "", contractx.Message{}); !errors.Is(err, contractx.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
	if _, err := s.GetIdentity(ctx, ""); !errors.Is(err, contractx.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}

func TestTraceLogAppendAssignsSeq(t *testing.T) {
	t.Parallel()

	tr := NewTraceLog()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		err := tr.Append(ctx, contractx.TraceStep{TraceID: "t1", Event: contractx.TraceEventDispatch})
		if err != nil {
			t.Fatalf("Append(%d) error = %v", i, err)
		}
	}
	if err := tr.Append(ctx, contractx.TraceStep{TraceID: "t2", Event: contractx.TraceEventDispatch}); err != nil {
		t.Fatalf("Append() error = %v", err)
	}

	steps, err := tr.Get(ctx, "t1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if len(steps) != 3 {
		t.Fatalf("expected 3 steps, got %d", len(steps))
	}
	for i, s := range steps {
		if s.Seq != i {
			t.Fatalf("step[%d].Seq = %d", i, s.Seq)
		}
	}

	if err := tr.Append(ctx, contractx.TraceStep{}); !errors.Is(err, contractx.ErrValidation) {
		t.Fatalf("expected ErrValidation for empty trace id, got %v", err)
	}
}
