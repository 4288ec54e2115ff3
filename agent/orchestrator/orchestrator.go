// Package orchestrator is the central control loop: it routes messages,
// delivers them to registered handlers, retries transient failures, and
// persists a trace of every dispatch chain.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	contractx "github.com/napatsw/deskmate/agent/contract"
	registryx "github.com/napatsw/deskmate/agent/registry"
	routingx "github.com/napatsw/deskmate/agent/routing"
)

type Config struct {
	MaxDepth    int           `envconfig:"MAX_DEPTH" split_words:"true" default:"10"`
	MaxAttempts int           `envconfig:"MAX_ATTEMPTS" split_words:"true" default:"3"`
	BaseDelay   time.Duration `envconfig:"BASE_DELAY" split_words:"true" default:"1s"`
	MaxDelay    time.Duration `envconfig:"MAX_DELAY" split_words:"true" default:"8s"`
	CallTimeout time.Duration `envconfig:"CALL_TIMEOUT" split_words:"true" default:"30s"`
}

func (c Config) withDefaults() Config {
	if c.MaxDepth <= 0 {
		c.MaxDepth = 10
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = time.Second
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = 8 * time.Second
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = 30 * time.Second
	}
	return c
}

type Orchestrator struct {
	cfg      Config
	registry *registryx.Registry
	policy   *routingx.Policy
	memory   contractx.MemoryStore
	trace    contractx.TraceLog

	queue *deliveryQueue

	cancelMu  sync.Mutex
	cancelled map[string]struct{}

	sessionLocks sync.Map // session id -> *sync.Mutex

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

func New(
	reg *registryx.Registry,
	policy *routingx.Policy,
	memory contractx.MemoryStore,
	trace contractx.TraceLog,
	cfg Config,
) (*Orchestrator, error) {
	if reg == nil {
		return nil, errors.New("registry is required")
	}
	if policy == nil {
		return nil, errors.New("routing policy is required")
	}
	if memory == nil {
		return nil, errors.New("memory store is required")
	}
	if trace == nil {
		return nil, errors.New("trace log is required")
	}

	return &Orchestrator{
		cfg:       cfg.withDefaults(),
		registry:  reg,
		policy:    policy,
		memory:    memory,
		trace:     trace,
		queue:     newDeliveryQueue(),
		cancelled: make(map[string]struct{}),
		now:       time.Now,
		sleep:     sleepCtx,
	}, nil
}

// Submit is the external boundary: wraps text into a message for the
// classifier and runs the full dispatch chain.
func (o *Orchestrator) Submit(ctx context.Context, text, identityID, sessionID string) (*contractx.FinalResult, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("%w: text is empty", contractx.ErrValidation)
	}
	if strings.TrimSpace(identityID) == "" {
		return nil, fmt.Errorf("%w: identity id is empty", contractx.ErrValidation)
	}
	if strings.TrimSpace(sessionID) == "" {
		sessionID = uuid.NewString()
	}

	// First contact creates the identity record.
	if _, err := o.memory.GetIdentity(ctx, identityID); err != nil {
		return nil, err
	}

	msg := contractx.NewMessage(sessionID, contractx.ReceiverExternal, routingx.HandlerClassifier, contractx.TypeTaskRequest, map[string]any{
		contractx.KeyText:       text,
		contractx.KeyIdentityID: identityID,
	})

	result, err := o.Dispatch(ctx, msg)
	if result != nil {
		result.IdentityID = identityID
		o.closeOutIdentity(ctx, identityID, result)
	}
	return result, err
}

// Dispatch runs one full chain for msg, holding the per-session critical
// section for its duration so concurrent requests on the same session
// cannot interleave memory writes.
func (o *Orchestrator) Dispatch(ctx context.Context, msg contractx.Message) (*contractx.FinalResult, error) {
	return o.run(ctx, msg, true)
}

// run executes one chain. record is false for messages drained from the
// delivery queue: those were recorded when first dispatched, and a second
// append would double-count their sentiment in the session history.
func (o *Orchestrator) run(ctx context.Context, msg contractx.Message, record bool) (*contractx.FinalResult, error) {
	if err := msg.Validate(); err != nil {
		return nil, err
	}

	lock := o.sessionLock(msg.SessionID)
	lock.Lock()
	defer lock.Unlock()
	defer o.clearCancelled(msg.TraceID)

	result := &contractx.FinalResult{
		TraceID:   msg.TraceID,
		SessionID: msg.SessionID,
	}

	if record {
		if err := o.memory.AppendMessage(ctx, msg.SessionID, msg); err != nil {
			return nil, err
		}
	}

	err := o.dispatch(ctx, result, msg, 0)
	if err != nil {
		result.Errors = append(result.Errors, err.Error())
		return result, err
	}
	return result, nil
}

func (o *Orchestrator) dispatch(ctx context.Context, result *contractx.FinalResult, msg contractx.Message, depth int) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", contractx.ErrCancelled, err)
	}
	if o.isCancelled(msg.TraceID) {
		o.traceStep(ctx, msg, contractx.TraceEventError, nil, "cancelled")
		return fmt.Errorf("%w: trace %s", contractx.ErrCancelled, msg.TraceID)
	}
	if err := msg.Validate(); err != nil {
		return err
	}
	if depth > o.cfg.MaxDepth {
		o.traceStep(ctx, msg, contractx.TraceEventError, nil, "routing_loop")
		return fmt.Errorf("%w: depth=%d trace=%s", contractx.ErrRoutingLoop, depth, msg.TraceID)
	}

	// Terminal: the chain reached the system boundary.
	if msg.Receiver == contractx.ReceiverExternal {
		o.collectTerminal(ctx, result, msg)
		return nil
	}

	if msg.Receiver == contractx.ReceiverAuto {
		session, err := o.memory.GetSession(ctx, msg.SessionID)
		if err != nil {
			return err
		}
		decision := o.policy.Select(msg, session)
		msg = msg.WithRouting(decision)
		o.applyDecision(result, decision)
		o.traceStep(ctx, msg, contractx.TraceEventRouting, &decision, "ok")
		log.Debug().
			Str("trace_id", msg.TraceID).
			Str("target", decision.Target).
			Str("rule", decision.Rule).
			Float64("priority", decision.Priority).
			Bool("escalate", decision.Escalate).
			Msg("routing decision")
	}

	// Pause check and buffering are atomic against Resume.
	if o.queue.intercept(msg.Receiver, msg) {
		result.Queued = append(result.Queued, msg.Receiver)
		o.traceStep(ctx, msg, contractx.TraceEventQueued, nil, "handler_paused")
		log.Info().Str("trace_id", msg.TraceID).Str("handler", msg.Receiver).Msg("message queued for paused handler")
		return nil
	}

	handler, err := o.registry.Lookup(msg.Receiver, msg)
	if err != nil {
		o.traceStep(ctx, msg, contractx.TraceEventError, nil, err.Error())
		return err
	}

	children, err := o.invokeWithRetry(ctx, handler, msg)
	if err != nil {
		// Permanent failure: surface as an ERROR message back to the
		// sender without aborting sibling branches.
		o.traceStep(ctx, msg, contractx.TraceEventError, nil, err.Error())
		result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", msg.Receiver, err))
		errMsg := msg.Derive(msg.Receiver, contractx.ReceiverExternal, contractx.TypeError, map[string]any{
			contractx.KeyReason: err.Error(),
			contractx.KeyStatus: "failed",
		})
		o.collectTerminal(ctx, result, errMsg)
		return nil
	}

	o.traceStep(ctx, msg, contractx.TraceEventDispatch, nil, "ok")

	for _, child := range children {
		if err := o.dispatch(ctx, result, child, depth+1); err != nil {
			return err
		}
	}
	return nil
}

func (o *Orchestrator) invokeWithRetry(ctx context.Context, handler contractx.Handler, msg contractx.Message) ([]contractx.Message, error) {
	var lastErr error
	delay := o.cfg.BaseDelay

	for attempt := 1; attempt <= o.cfg.MaxAttempts; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, o.cfg.CallTimeout)
		children, err := handler.Process(callCtx, msg)
		cancel()
		if err == nil {
			return children, nil
		}
		lastErr = err
		if !contractx.IsTransient(err) {
			return nil, err
		}
		if attempt == o.cfg.MaxAttempts {
			break
		}

		o.traceStep(ctx, msg, contractx.TraceEventRetry, nil, fmt.Sprintf("attempt=%d", attempt))
		log.Warn().
			Str("trace_id", msg.TraceID).
			Str("handler", handler.Name()).
			Int("attempt", attempt).
			Dur("backoff", delay).
			Err(err).
			Msg("transient handler failure, backing off")

		if err := o.sleep(ctx, delay); err != nil {
			return nil, fmt.Errorf("%w: %v", contractx.ErrCancelled, err)
		}
		delay *= 2
		if delay > o.cfg.MaxDelay {
			delay = o.cfg.MaxDelay
		}
	}

	return nil, fmt.Errorf("%w: retries exhausted after %d attempts: %v", contractx.ErrCollaborator, o.cfg.MaxAttempts, lastErr)
}

func (o *Orchestrator) collectTerminal(ctx context.Context, result *contractx.FinalResult, msg contractx.Message) {
	result.Responses = append(result.Responses, msg)
	if msg.Type == contractx.TypeError {
		if reason := msg.StringField(contractx.KeyReason); reason != "" {
			found := false
			for _, e := range result.Errors {
				if strings.Contains(e, reason) {
					found = true
				}
			}
			if !found {
				result.Errors = append(result.Errors, reason)
			}
		}
	}
	if id := msg.StringField(contractx.KeyTicketID); id != "" {
		result.TicketIDs = append(result.TicketIDs, id)
	}
	if intent := msg.StringField(contractx.KeyIntent); intent != "" && result.Intent == "" {
		result.Intent = intent
	}
	if score, ok := msg.FloatField(contractx.KeySentiment); ok {
		result.Sentiment = score
	}
	if emotion := msg.StringField(contractx.KeyEmotion); emotion != "" {
		result.Emotion = emotion
	}

	if err := o.memory.AppendMessage(ctx, msg.SessionID, msg); err != nil {
		log.Error().Err(err).Str("session_id", msg.SessionID).Msg("append terminal response to session memory")
	}
	o.traceStep(ctx, msg, contractx.TraceEventDispatch, nil, "terminal")
}

func (o *Orchestrator) applyDecision(result *contractx.FinalResult, decision contractx.RoutingDecision) {
	// The first policy decision picks the handler reported to the caller;
	// later hops (notifications, revisions) keep it stable.
	if result.Handler == "" {
		result.Handler = decision.Target
		result.Priority = decision.Priority
		result.Escalated = decision.Escalate
	}
}

func (o *Orchestrator) traceStep(ctx context.Context, msg contractx.Message, event string, decision *contractx.RoutingDecision, outcome string) {
	step := contractx.TraceStep{
		TraceID:   msg.TraceID,
		Sender:    msg.Sender,
		Receiver:  msg.Receiver,
		Event:     event,
		Decision:  decision,
		Outcome:   outcome,
		Timestamp: o.now().UTC(),
	}
	if err := o.trace.Append(ctx, step); err != nil {
		log.Error().Err(err).Str("trace_id", msg.TraceID).Msg("append trace step")
	}
}

func (o *Orchestrator) closeOutIdentity(ctx context.Context, identityID string, result *contractx.FinalResult) {
	patch := contractx.IdentityPatch{}
	if result.Intent != "" {
		patch.SessionSummary = fmt.Sprintf("intent=%s handler=%s priority=%.1f", result.Intent, result.Handler, result.Priority)
		patch.Preferences = map[string]any{"last_intent": result.Intent}
	}
	if result.Sentiment != 0 {
		s := result.Sentiment
		patch.Sentiment = &s
	}
	if patch.SessionSummary == "" && patch.Sentiment == nil && patch.Preferences == nil {
		return
	}
	if err := o.memory.UpdateIdentity(ctx, identityID, patch); err != nil {
		log.Error().Err(err).Str("identity_id", identityID).Msg("update identity memory")
	}
}

// Broadcast dispatches copies of msg to each receiver concurrently. Sibling
// chains get their own trace ids and fail independently.
func (o *Orchestrator) Broadcast(ctx context.Context, msg contractx.Message, receivers []string) map[string]*contractx.FinalResult {
	results := make(map[string]*contractx.FinalResult, len(receivers))
	var mu sync.Mutex
	var wg sync.WaitGroup

	for _, receiver := range receivers {
		copyMsg := contractx.NewMessage(msg.SessionID, msg.Sender, receiver, msg.Type, msg.Payload)
		wg.Add(1)
		go func(r string, m contractx.Message) {
			defer wg.Done()
			res, err := o.Dispatch(ctx, m)
			if err != nil && res == nil {
				res = &contractx.FinalResult{
					TraceID:   m.TraceID,
					SessionID: m.SessionID,
					Errors:    []string{err.Error()},
				}
			}
			mu.Lock()
			results[r] = res
			mu.Unlock()
		}(receiver, copyMsg)
	}
	wg.Wait()
	return results
}

// Cancel prevents further dispatch steps for the chain; a handler call
// already in flight is not interrupted.
func (o *Orchestrator) Cancel(traceID string) {
	o.cancelMu.Lock()
	defer o.cancelMu.Unlock()
	o.cancelled[traceID] = struct{}{}
}

func (o *Orchestrator) isCancelled(traceID string) bool {
	o.cancelMu.Lock()
	defer o.cancelMu.Unlock()
	_, ok := o.cancelled[traceID]
	return ok
}

// clearCancelled prunes the trace id once its chain finishes, so the set
// does not grow for the process lifetime.
func (o *Orchestrator) clearCancelled(traceID string) {
	o.cancelMu.Lock()
	defer o.cancelMu.Unlock()
	delete(o.cancelled, traceID)
}

func (o *Orchestrator) sessionLock(sessionID string) *sync.Mutex {
	v, _ := o.sessionLocks.LoadOrStore(sessionID, &sync.Mutex{})
	return v.(*sync.Mutex)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
