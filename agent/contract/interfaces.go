package contract

import (
	"context"
	"time"
)

// Handler is one specialized processing unit. Process returns derived
// messages (possibly none); the orchestrator dispatches them recursively.
// Transient collaborator failures must be wrapped with Transient so the
// retry policy can tell them apart from permanent ones.
type Handler interface {
	Name() string
	CanHandle(msg Message) bool
	Process(ctx context.Context, msg Message) ([]Message, error)
}

// Inference is the narrow boundary to an external classification model.
type Inference interface {
	Classify(ctx context.Context, text string, task ClassifyTask) (Classification, error)
}

// ToolGateway executes external tool calls (database, search, shipping API)
// on behalf of a handler. Which tools a handler may call is the gateway's
// concern, not the handler's.
type ToolGateway interface {
	Execute(ctx context.Context, handler string, req ToolRequest) (ToolResult, error)
}

// Notifier delivers a message over an external channel.
type Notifier interface {
	Send(ctx context.Context, recipient, subject, body string) error
}

// SessionMemory is the per-conversation state handlers consult and update.
type SessionMemory struct {
	SessionID  string         `json:"session_id"`
	IdentityID string         `json:"identity_id"`
	Messages   []Message      `json:"messages"`
	Sentiments []float64      `json:"sentiments,omitempty"`
	Scratch    map[string]any `json:"scratch,omitempty"`
	Summary    string         `json:"summary,omitempty"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

// IdentityMemory outlives any single session. Created on first contact,
// never deleted automatically.
type IdentityMemory struct {
	IdentityID       string         `json:"identity_id"`
	SessionSummaries []string       `json:"session_summaries,omitempty"`
	SentimentTrend   []float64      `json:"sentiment_trend,omitempty"`
	Preferences      map[string]any `json:"preferences,omitempty"`
	FirstContact     time.Time      `json:"first_contact"`
	LastContact      time.Time      `json:"last_contact"`
}

type IdentityPatch struct {
	SessionSummary string         `json:"session_summary,omitempty"`
	Sentiment      *float64       `json:"sentiment,omitempty"`
	Preferences    map[string]any `json:"preferences,omitempty"`
}

// MemoryStore partitions state by session and identity id. Reads reflect
// all prior writes from the same process in call order. Compaction runs
// synchronously on the write path when the session threshold is crossed.
type MemoryStore interface {
	GetSession(ctx context.Context, sessionID string) (*SessionMemory, error)
	AppendMessage(ctx context.Context, sessionID string, msg Message) error
	SetScratch(ctx context.Context, sessionID, key string, value any) error
	GetIdentity(ctx context.Context, identityID string) (*IdentityMemory, error)
	UpdateIdentity(ctx context.Context, identityID string, patch IdentityPatch) error
}

// TraceLog is the append-only record of every dispatch step in a chain.
type TraceLog interface {
	Append(ctx context.Context, step TraceStep) error
	Get(ctx context.Context, traceID string) ([]TraceStep, error)
}
