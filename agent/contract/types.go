package contract

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

type MessageType string

const (
	TypeTaskRequest  MessageType = "task_request"
	TypeTaskResponse MessageType = "task_response"
	TypeInfo         MessageType = "info"
	TypeError        MessageType = "error"
)

// ReceiverExternal marks the system boundary: messages addressed to it are
// terminal and collected into the FinalResult instead of being routed.
const ReceiverExternal = "external"

// ReceiverAuto is the sentinel for "let the routing policy decide".
const ReceiverAuto = ""

// Well-known payload keys shared between handlers and the routing policy.
const (
	KeyText          = "text"
	KeyIntent        = "intent"
	KeyConfidence    = "intent_confidence"
	KeyUrgency       = "urgency"
	KeySentiment     = "sentiment_score"
	KeyEmotion       = "emotion"
	KeyIdentityID    = "identity_id"
	KeyOrderID       = "order_id"
	KeyAmount        = "amount"
	KeyTicketID      = "ticket_id"
	KeyStatus        = "status"
	KeyReason        = "reason"
	KeyProposal      = "proposal"
	KeyRevision      = "revision"
	KeyPriorityScore = "priority_score"
)

// Message is the immutable unit exchanged between handlers. Derived messages
// get a fresh ID and inherit SessionID and TraceID from their parent.
type Message struct {
	ID        string         `json:"id"`
	SessionID string         `json:"session_id"`
	TraceID   string         `json:"trace_id"`
	Sender    string         `json:"sender"`
	Receiver  string         `json:"receiver"`
	Type      MessageType    `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	Payload   map[string]any `json:"payload"`
}

func NewMessage(sessionID, sender, receiver string, typ MessageType, payload map[string]any) Message {
	id := uuid.NewString()
	return Message{
		ID:        id,
		SessionID: sessionID,
		TraceID:   id,
		Sender:    sender,
		Receiver:  receiver,
		Type:      typ,
		Timestamp: time.Now().UTC(),
		Payload:   clonePayload(payload),
	}
}

// Derive builds a child message in the same causal chain.
func (m Message) Derive(sender, receiver string, typ MessageType, payload map[string]any) Message {
	return Message{
		ID:        uuid.NewString(),
		SessionID: m.SessionID,
		TraceID:   m.TraceID,
		Sender:    sender,
		Receiver:  receiver,
		Type:      typ,
		Timestamp: time.Now().UTC(),
		Payload:   clonePayload(payload),
	}
}

// Annotate returns a copy carrying the parent payload merged with patch.
// The receiver of the copy is left to the routing policy.
func (m Message) Annotate(sender string, patch map[string]any) Message {
	merged := clonePayload(m.Payload)
	for k, v := range patch {
		merged[k] = v
	}
	out := m.Derive(sender, ReceiverAuto, TypeTaskRequest, nil)
	out.Payload = merged
	return out
}

// WithRouting returns a copy addressed to the decision's target, carrying
// the computed priority. ID and trace are preserved: routing enriches the
// same logical message, it does not derive a new one.
func (m Message) WithRouting(d RoutingDecision) Message {
	out := m
	out.Receiver = d.Target
	out.Payload = clonePayload(m.Payload)
	if _, ok := out.Payload[KeyPriorityScore]; !ok {
		out.Payload[KeyPriorityScore] = d.Priority
	}
	return out
}

func (m Message) Validate() error {
	if strings.TrimSpace(m.ID) == "" {
		return wrapValidation("message id is empty")
	}
	if strings.TrimSpace(m.SessionID) == "" {
		return wrapValidation("session id is empty")
	}
	if strings.TrimSpace(m.TraceID) == "" {
		return wrapValidation("trace id is empty")
	}
	if strings.TrimSpace(m.Sender) == "" {
		return wrapValidation("sender is empty")
	}
	switch m.Type {
	case TypeTaskRequest, TypeTaskResponse, TypeInfo, TypeError:
	default:
		return wrapValidation("unknown message type " + string(m.Type))
	}
	if m.Payload == nil {
		return wrapValidation("payload is nil")
	}
	return nil
}

func (m Message) Text() string {
	s, _ := m.Payload[KeyText].(string)
	return s
}

func (m Message) StringField(key string) string {
	s, _ := m.Payload[key].(string)
	return s
}

func (m Message) FloatField(key string) (float64, bool) {
	switch v := m.Payload[key].(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	default:
		return 0, false
	}
}

func clonePayload(p map[string]any) map[string]any {
	out := make(map[string]any, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// RoutingDecision is recomputed from policy + message on every dispatch; the
// winning decision is attached to the trace for audit.
type RoutingDecision struct {
	Target     string  `json:"target"`
	Confidence float64 `json:"confidence"`
	Priority   float64 `json:"priority"`
	Escalate   bool    `json:"escalate"`
	Rule       string  `json:"rule,omitempty"`
}

// ClassifyTask selects which classification an Inference call performs.
type ClassifyTask string

const (
	TaskIntent    ClassifyTask = "intent"
	TaskSentiment ClassifyTask = "sentiment"
)

type Classification struct {
	Label      string   `json:"label"`
	Confidence float64  `json:"confidence"`
	Score      float64  `json:"score"`
	Urgency    string   `json:"urgency,omitempty"`
	KeyPhrases []string `json:"key_phrases,omitempty"`
	Fallback   bool     `json:"fallback,omitempty"`
}

type ToolRequest struct {
	Tool string         `json:"tool"`
	Args map[string]any `json:"args,omitempty"`
}

type ToolResult struct {
	Tool   string         `json:"tool"`
	Result map[string]any `json:"result,omitempty"`
	Error  string         `json:"error,omitempty"`
}

// TraceStep records one orchestrator dispatch step, append-only per trace.
type TraceStep struct {
	TraceID   string           `json:"trace_id"`
	Seq       int              `json:"seq"`
	Sender    string           `json:"sender"`
	Receiver  string           `json:"receiver"`
	Event     string           `json:"event"`
	Decision  *RoutingDecision `json:"decision,omitempty"`
	Outcome   string           `json:"outcome"`
	Timestamp time.Time        `json:"timestamp"`
}

const (
	TraceEventDispatch = "dispatch"
	TraceEventRouting  = "routing_decision"
	TraceEventQueued   = "queued"
	TraceEventRetry    = "retry"
	TraceEventError    = "error"
)

// FinalResult is what the external boundary gets back from one submit.
type FinalResult struct {
	TraceID    string    `json:"trace_id"`
	SessionID  string    `json:"session_id"`
	IdentityID string    `json:"identity_id,omitempty"`
	Intent     string    `json:"intent,omitempty"`
	Sentiment  float64   `json:"sentiment_score"`
	Emotion    string    `json:"emotion,omitempty"`
	Priority   float64   `json:"priority_score"`
	Handler    string    `json:"handler,omitempty"`
	Escalated  bool      `json:"escalated"`
	TicketIDs  []string  `json:"ticket_ids,omitempty"`
	Responses  []Message `json:"responses,omitempty"`
	Queued     []string  `json:"queued_for,omitempty"`
	Errors     []string  `json:"errors,omitempty"`
}
