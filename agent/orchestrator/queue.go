package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"

	contractx "github.com/napatsw/deskmate/agent/contract"
)

// deliveryQueue buffers messages addressed to a paused handler. The pause
// flag and the buffer are read and written under one lock, so an in-flight
// dispatch either lands in the buffer or completes delivery, never both.
type deliveryQueue struct {
	mu      sync.Mutex
	paused  map[string]bool
	buffers map[string][]contractx.Message
}

func newDeliveryQueue() *deliveryQueue {
	return &deliveryQueue{
		paused:  make(map[string]bool),
		buffers: make(map[string][]contractx.Message),
	}
}

func (q *deliveryQueue) pause(handler string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.paused[handler] {
		return false
	}
	q.paused[handler] = true
	return true
}

// intercept appends msg to the handler's buffer when paused. Returns true
// when the message was buffered instead of delivered.
func (q *deliveryQueue) intercept(handler string, msg contractx.Message) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.paused[handler] {
		return false
	}
	q.buffers[handler] = append(q.buffers[handler], msg)
	return true
}

// drain flips the handler back to active and hands out the buffered
// messages in original arrival order.
func (q *deliveryQueue) drain(handler string) ([]contractx.Message, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.paused[handler] {
		return nil, false
	}
	q.paused[handler] = false
	buffered := q.buffers[handler]
	delete(q.buffers, handler)
	return buffered, true
}

func (q *deliveryQueue) isPaused(handler string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.paused[handler]
}

func (q *deliveryQueue) queueSize(handler string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.buffers[handler])
}

// Pause suspends delivery to the named handler. Triggered by an external
// operator action only; the core never pauses a handler on its own.
func (o *Orchestrator) Pause(handler string) error {
	handler = strings.TrimSpace(handler)
	if handler == "" {
		return fmt.Errorf("%w: handler name is empty", contractx.ErrValidation)
	}
	if !o.queue.pause(handler) {
		return fmt.Errorf("%w: handler %q is already paused", contractx.ErrHandlerPaused, handler)
	}
	log.Info().Str("handler", handler).Msg("handler paused")
	return nil
}

// Resume reactivates the handler and replays buffered messages in original
// order, each through the full dispatch path so routing stays consistent
// with any policy change made during the pause.
func (o *Orchestrator) Resume(ctx context.Context, handler string) ([]*contractx.FinalResult, error) {
	buffered, ok := o.queue.drain(handler)
	if !ok {
		return nil, fmt.Errorf("%w: handler %q is not paused", contractx.ErrValidation, handler)
	}
	log.Info().Str("handler", handler).Int("queued", len(buffered)).Msg("handler resumed, replaying queue")

	results := make([]*contractx.FinalResult, 0, len(buffered))
	for _, msg := range buffered {
		res, err := o.run(ctx, msg, false)
		if err != nil {
			log.Error().Err(err).Str("trace_id", msg.TraceID).Str("handler", handler).Msg("replaying queued message")
		}
		if res != nil {
			results = append(results, res)
		}
	}
	return results, nil
}

func (o *Orchestrator) IsPaused(handler string) bool {
	return o.queue.isPaused(handler)
}

func (o *Orchestrator) QueueSize(handler string) int {
	return o.queue.queueSize(handler)
}
