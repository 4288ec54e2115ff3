package memory

import (
	"context"
	"fmt"
	"strings"
	"sync"

	contractx "github.com/napatsw/deskmate/agent/contract"
)

// TraceLog is the in-process append-only trace store, keyed by trace id.
type TraceLog struct {
	mu     sync.Mutex
	traces map[string][]contractx.TraceStep
}

var _ contractx.TraceLog = (*TraceLog)(nil)

func NewTraceLog() *TraceLog {
	return &TraceLog{traces: make(map[string][]contractx.TraceStep)}
}

func (t *TraceLog) Append(ctx context.Context, step contractx.TraceStep) error {
	if strings.TrimSpace(step.TraceID) == "" {
		return fmt.Errorf("%w: trace id is empty", contractx.ErrValidation)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	step.Seq = len(t.traces[step.TraceID])
	t.traces[step.TraceID] = append(t.traces[step.TraceID], step)
	return nil
}

func (t *TraceLog) Get(ctx context.Context, traceID string) ([]contractx.TraceStep, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	steps := t.traces[traceID]
	out := make([]contractx.TraceStep, len(steps))
	copy(out, steps)
	return out, nil
}
