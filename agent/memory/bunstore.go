package memory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"

	contractx "github.com/napatsw/deskmate/agent/contract"
	toolx "github.com/napatsw/deskmate/agent/tool"
)

type PostgresConfig struct {
	DSN          string        `envconfig:"DSN" split_words:"true" required:"true"`
	MaxOpenConns int           `envconfig:"MAX_OPEN_CONNS" split_words:"true" default:"8"`
	DialTimeout  time.Duration `envconfig:"DIAL_TIMEOUT" split_words:"true" default:"5s"`
}

// OpenDB builds a bun handle on the Postgres wire driver. Callers own the
// handle and close it on shutdown.
func OpenDB(cfg PostgresConfig) (*bun.DB, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, errors.New("postgres dsn is required")
	}
	connector := pgdriver.NewConnector(
		pgdriver.WithDSN(cfg.DSN),
		pgdriver.WithTimeout(cfg.DialTimeout),
	)
	sqldb := sql.OpenDB(connector)
	if cfg.MaxOpenConns > 0 {
		sqldb.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	return bun.NewDB(sqldb, pgdialect.New()), nil
}

type sessionRow struct {
	bun.BaseModel `bun:"table:cs_sessions"`

	SessionID  string              `bun:"session_id,pk"`
	IdentityID string              `bun:"identity_id"`
	Messages   []contractx.Message `bun:"messages,type:jsonb"`
	Sentiments []float64           `bun:"sentiments,type:jsonb"`
	Scratch    map[string]any      `bun:"scratch,type:jsonb"`
	Summary    string              `bun:"summary"`
	UpdatedAt  time.Time           `bun:"updated_at"`
}

type identityRow struct {
	bun.BaseModel `bun:"table:cs_identities"`

	IdentityID       string         `bun:"identity_id,pk"`
	SessionSummaries []string       `bun:"session_summaries,type:jsonb"`
	SentimentTrend   []float64      `bun:"sentiment_trend,type:jsonb"`
	Preferences      map[string]any `bun:"preferences,type:jsonb"`
	FirstContact     time.Time      `bun:"first_contact"`
	LastContact      time.Time      `bun:"last_contact"`
}

type traceRow struct {
	bun.BaseModel `bun:"table:cs_trace_steps"`

	ID        int64                      `bun:"id,pk,autoincrement"`
	TraceID   string                     `bun:"trace_id"`
	Seq       int                        `bun:"seq"`
	Sender    string                     `bun:"sender"`
	Receiver  string                     `bun:"receiver"`
	Event     string                     `bun:"event"`
	Decision  *contractx.RoutingDecision `bun:"decision,type:jsonb"`
	Outcome   string                     `bun:"outcome"`
	Timestamp time.Time                  `bun:"ts"`
}

type ticketRow struct {
	bun.BaseModel `bun:"table:cs_tickets"`

	ID            string    `bun:"id,pk"`
	Intent        string    `bun:"intent"`
	Text          string    `bun:"text"`
	IdentityID    string    `bun:"identity_id"`
	Sentiment     float64   `bun:"sentiment"`
	PriorityScore float64   `bun:"priority_score"`
	Status        string    `bun:"status"`
	CreatedAt     time.Time `bun:"created_at"`
}

// PostgresStore persists sessions, identities, traces and tickets through
// bun. It applies the same compaction policy as the in-process Store; the
// read-modify-write on a session row is serialized per session inside the
// process, matching the orchestrator's per-session critical section.
type PostgresStore struct {
	cfg Config
	db  *bun.DB

	mu      sync.Mutex
	rowLock map[string]*sync.Mutex

	now func() time.Time
}

var (
	_ contractx.MemoryStore = (*PostgresStore)(nil)
	_ contractx.TraceLog    = (*PostgresStore)(nil)
)

func NewPostgresStore(db *bun.DB, cfg Config) (*PostgresStore, error) {
	if db == nil {
		return nil, errors.New("db handle is required")
	}
	return &PostgresStore{
		cfg:     cfg.withDefaults(),
		db:      db,
		rowLock: make(map[string]*sync.Mutex),
		now:     time.Now,
	}, nil
}

// Migrate creates the backing tables if they are missing.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	models := []any{
		(*sessionRow)(nil),
		(*identityRow)(nil),
		(*traceRow)(nil),
		(*ticketRow)(nil),
	}
	for _, model := range models {
		if _, err := s.db.NewCreateTable().Model(model).IfNotExists().Exec(ctx); err != nil {
			return fmt.Errorf("create table for %T: %w", model, err)
		}
	}
	return nil
}

func (s *PostgresStore) lock(key string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.rowLock[key]
	if !ok {
		m = &sync.Mutex{}
		s.rowLock[key] = m
	}
	return m
}

func (s *PostgresStore) getSessionRow(ctx context.Context, sessionID string) (*sessionRow, error) {
	row := new(sessionRow)
	err := s.db.NewSelect().Model(row).Where("session_id = ?", sessionID).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return &sessionRow{
			SessionID: sessionID,
			Scratch:   make(map[string]any),
			UpdatedAt: s.now().UTC(),
		}, nil
	}
	if err != nil {
		return nil, contractx.Transient(fmt.Errorf("%w: load session %s: %v", contractx.ErrCollaborator, sessionID, err))
	}
	return row, nil
}

func (s *PostgresStore) putSessionRow(ctx context.Context, row *sessionRow) error {
	_, err := s.db.NewInsert().
		Model(row).
		On("CONFLICT (session_id) DO UPDATE").
		Set("identity_id = EXCLUDED.identity_id").
		Set("messages = EXCLUDED.messages").
		Set("sentiments = EXCLUDED.sentiments").
		Set("scratch = EXCLUDED.scratch").
		Set("summary = EXCLUDED.summary").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	if err != nil {
		return contractx.Transient(fmt.Errorf("%w: save session %s: %v", contractx.ErrCollaborator, row.SessionID, err))
	}
	return nil
}

func (s *PostgresStore) GetSession(ctx context.Context, sessionID string) (*contractx.SessionMemory, error) {
	if strings.TrimSpace(sessionID) == "" {
		return nil, fmt.Errorf("%w: session id is empty", contractx.ErrValidation)
	}
	row, err := s.getSessionRow(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return &contractx.SessionMemory{
		SessionID:  row.SessionID,
		IdentityID: row.IdentityID,
		Messages:   row.Messages,
		Sentiments: row.Sentiments,
		Scratch:    row.Scratch,
		Summary:    row.Summary,
		UpdatedAt:  row.UpdatedAt,
	}, nil
}

func (s *PostgresStore) AppendMessage(ctx context.Context, sessionID string, msg contractx.Message) error {
	if strings.TrimSpace(sessionID) == "" {
		return fmt.Errorf("%w: session id is empty", contractx.ErrValidation)
	}
	lock := s.lock("session:" + sessionID)
	lock.Lock()
	defer lock.Unlock()

	row, err := s.getSessionRow(ctx, sessionID)
	if err != nil {
		return err
	}

	sess := contractx.SessionMemory{
		SessionID:  row.SessionID,
		IdentityID: row.IdentityID,
		Messages:   row.Messages,
		Sentiments: row.Sentiments,
		Scratch:    row.Scratch,
		Summary:    row.Summary,
	}
	sess.Messages = append(sess.Messages, msg)
	if score, ok := msg.FloatField(contractx.KeySentiment); ok {
		sess.Sentiments = append(sess.Sentiments, score)
	}
	if id := msg.StringField(contractx.KeyIdentityID); id != "" {
		sess.IdentityID = id
	}
	compactSession(&sess, s.cfg.CompactThreshold, s.cfg.KeepRecent)

	row.IdentityID = sess.IdentityID
	row.Messages = sess.Messages
	row.Sentiments = sess.Sentiments
	row.Summary = sess.Summary
	row.UpdatedAt = s.now().UTC()
	return s.putSessionRow(ctx, row)
}

func (s *PostgresStore) SetScratch(ctx context.Context, sessionID, key string, value any) error {
	if strings.TrimSpace(sessionID) == "" {
		return fmt.Errorf("%w: session id is empty", contractx.ErrValidation)
	}
	lock := s.lock("session:" + sessionID)
	lock.Lock()
	defer lock.Unlock()

	row, err := s.getSessionRow(ctx, sessionID)
	if err != nil {
		return err
	}
	if row.Scratch == nil {
		row.Scratch = make(map[string]any)
	}
	row.Scratch[key] = value
	row.UpdatedAt = s.now().UTC()
	return s.putSessionRow(ctx, row)
}

func (s *PostgresStore) GetIdentity(ctx context.Context, identityID string) (*contractx.IdentityMemory, error) {
	if strings.TrimSpace(identityID) == "" {
		return nil, fmt.Errorf("%w: identity id is empty", contractx.ErrValidation)
	}
	lock := s.lock("identity:" + identityID)
	lock.Lock()
	defer lock.Unlock()

	row := new(identityRow)
	err := s.db.NewSelect().Model(row).Where("identity_id = ?", identityID).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		// First contact creates the record.
		now := s.now().UTC()
		row = &identityRow{
			IdentityID:   identityID,
			Preferences:  make(map[string]any),
			FirstContact: now,
			LastContact:  now,
		}
		if _, err := s.db.NewInsert().Model(row).On("CONFLICT (identity_id) DO NOTHING").Exec(ctx); err != nil {
			return nil, contractx.Transient(fmt.Errorf("%w: create identity %s: %v", contractx.ErrCollaborator, identityID, err))
		}
	} else if err != nil {
		return nil, contractx.Transient(fmt.Errorf("%w: load identity %s: %v", contractx.ErrCollaborator, identityID, err))
	}

	return &contractx.IdentityMemory{
		IdentityID:       row.IdentityID,
		SessionSummaries: row.SessionSummaries,
		SentimentTrend:   row.SentimentTrend,
		Preferences:      row.Preferences,
		FirstContact:     row.FirstContact,
		LastContact:      row.LastContact,
	}, nil
}

func (s *PostgresStore) UpdateIdentity(ctx context.Context, identityID string, patch contractx.IdentityPatch) error {
	if strings.TrimSpace(identityID) == "" {
		return fmt.Errorf("%w: identity id is empty", contractx.ErrValidation)
	}
	if _, err := s.GetIdentity(ctx, identityID); err != nil {
		return err
	}

	lock := s.lock("identity:" + identityID)
	lock.Lock()
	defer lock.Unlock()

	row := new(identityRow)
	if err := s.db.NewSelect().Model(row).Where("identity_id = ?", identityID).Scan(ctx); err != nil {
		return contractx.Transient(fmt.Errorf("%w: load identity %s: %v", contractx.ErrCollaborator, identityID, err))
	}

	if patch.SessionSummary != "" {
		row.SessionSummaries = append(row.SessionSummaries, patch.SessionSummary)
		if over := len(row.SessionSummaries) - s.cfg.IdentityHistoryLimit; over > 0 {
			row.SessionSummaries = row.SessionSummaries[over:]
		}
	}
	if patch.Sentiment != nil {
		row.SentimentTrend = append(row.SentimentTrend, *patch.Sentiment)
		if over := len(row.SentimentTrend) - s.cfg.IdentityHistoryLimit; over > 0 {
			row.SentimentTrend = row.SentimentTrend[over:]
		}
	}
	for k, v := range patch.Preferences {
		if row.Preferences == nil {
			row.Preferences = make(map[string]any)
		}
		row.Preferences[k] = v
	}
	row.LastContact = s.now().UTC()

	_, err := s.db.NewUpdate().
		Model(row).
		Column("session_summaries", "sentiment_trend", "preferences", "last_contact").
		Where("identity_id = ?", identityID).
		Exec(ctx)
	if err != nil {
		return contractx.Transient(fmt.Errorf("%w: update identity %s: %v", contractx.ErrCollaborator, identityID, err))
	}
	return nil
}

func (s *PostgresStore) Append(ctx context.Context, step contractx.TraceStep) error {
	if strings.TrimSpace(step.TraceID) == "" {
		return fmt.Errorf("%w: trace id is empty", contractx.ErrValidation)
	}
	lock := s.lock("trace:" + step.TraceID)
	lock.Lock()
	defer lock.Unlock()

	count, err := s.db.NewSelect().
		Model((*traceRow)(nil)).
		Where("trace_id = ?", step.TraceID).
		Count(ctx)
	if err != nil {
		return contractx.Transient(fmt.Errorf("%w: count trace %s: %v", contractx.ErrCollaborator, step.TraceID, err))
	}

	row := &traceRow{
		TraceID:   step.TraceID,
		Seq:       count,
		Sender:    step.Sender,
		Receiver:  step.Receiver,
		Event:     step.Event,
		Decision:  step.Decision,
		Outcome:   step.Outcome,
		Timestamp: step.Timestamp,
	}
	if row.Timestamp.IsZero() {
		row.Timestamp = s.now().UTC()
	}
	if _, err := s.db.NewInsert().Model(row).Exec(ctx); err != nil {
		return contractx.Transient(fmt.Errorf("%w: append trace %s: %v", contractx.ErrCollaborator, step.TraceID, err))
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, traceID string) ([]contractx.TraceStep, error) {
	if strings.TrimSpace(traceID) == "" {
		return nil, fmt.Errorf("%w: trace id is empty", contractx.ErrValidation)
	}
	var rows []traceRow
	err := s.db.NewSelect().
		Model(&rows).
		Where("trace_id = ?", traceID).
		Order("seq ASC").
		Scan(ctx)
	if err != nil {
		return nil, contractx.Transient(fmt.Errorf("%w: load trace %s: %v", contractx.ErrCollaborator, traceID, err))
	}
	out := make([]contractx.TraceStep, 0, len(rows))
	for _, r := range rows {
		out = append(out, contractx.TraceStep{
			TraceID:   r.TraceID,
			Seq:       r.Seq,
			Sender:    r.Sender,
			Receiver:  r.Receiver,
			Event:     r.Event,
			Decision:  r.Decision,
			Outcome:   r.Outcome,
			Timestamp: r.Timestamp,
		})
	}
	return out, nil
}

// PostgresTickets adapts the store to the ticket tool contract. A wrapper
// because the trace log already claims Get on PostgresStore.
type PostgresTickets struct {
	s *PostgresStore
}

var _ toolx.TicketStore = (*PostgresTickets)(nil)

func (s *PostgresStore) Tickets() *PostgresTickets {
	return &PostgresTickets{s: s}
}

func (t *PostgresTickets) Create(ctx context.Context, tk toolx.Ticket) (string, error) {
	return t.s.createTicket(ctx, tk)
}

func (t *PostgresTickets) Get(ctx context.Context, id string) (*toolx.Ticket, error) {
	return t.s.getTicket(ctx, id)
}

func (s *PostgresStore) createTicket(ctx context.Context, t toolx.Ticket) (string, error) {
	if t.ID == "" {
		t.ID = "TCK-" + uuid.NewString()[:8]
	}
	row := &ticketRow{
		ID:            t.ID,
		Intent:        t.Intent,
		Text:          t.Text,
		IdentityID:    t.IdentityID,
		Sentiment:     t.Sentiment,
		PriorityScore: t.PriorityScore,
		Status:        t.Status,
		CreatedAt:     s.now().UTC(),
	}
	if _, err := s.db.NewInsert().Model(row).Exec(ctx); err != nil {
		return "", contractx.Transient(fmt.Errorf("%w: create ticket: %v", contractx.ErrCollaborator, err))
	}
	return t.ID, nil
}

func (s *PostgresStore) getTicket(ctx context.Context, id string) (*toolx.Ticket, error) {
	row := new(ticketRow)
	err := s.db.NewSelect().Model(row).Where("id = ?", id).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: ticket %s not found", contractx.ErrValidation, id)
	}
	if err != nil {
		return nil, contractx.Transient(fmt.Errorf("%w: load ticket %s: %v", contractx.ErrCollaborator, id, err))
	}
	return &toolx.Ticket{
		ID:            row.ID,
		Intent:        row.Intent,
		Text:          row.Text,
		IdentityID:    row.IdentityID,
		Sentiment:     row.Sentiment,
		PriorityScore: row.PriorityScore,
		Status:        row.Status,
	}, nil
}
