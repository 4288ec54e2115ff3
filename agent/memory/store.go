// Package memory holds per-session and per-identity state for handlers.
package memory

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	contractx "github.com/napatsw/deskmate/agent/contract"
)

type Config struct {
	CompactThreshold     int `envconfig:"COMPACT_THRESHOLD" split_words:"true" default:"20"`
	KeepRecent           int `envconfig:"KEEP_RECENT" split_words:"true" default:"10"`
	IdentityHistoryLimit int `envconfig:"IDENTITY_HISTORY_LIMIT" split_words:"true" default:"50"`
}

func (c Config) withDefaults() Config {
	if c.CompactThreshold <= 0 {
		c.CompactThreshold = 20
	}
	if c.KeepRecent <= 0 || c.KeepRecent > c.CompactThreshold {
		c.KeepRecent = c.CompactThreshold / 2
	}
	if c.IdentityHistoryLimit <= 0 {
		c.IdentityHistoryLimit = 50
	}
	return c
}

// Store is the in-process MemoryStore. State is partitioned by session and
// identity id; each partition has its own lock so concurrent requests for
// different sessions never contend.
type Store struct {
	cfg Config

	mu         sync.Mutex
	sessions   map[string]*sessionEntry
	identities map[string]*identityEntry

	now func() time.Time
}

type sessionEntry struct {
	mu   sync.Mutex
	sess contractx.SessionMemory
}

type identityEntry struct {
	mu sync.Mutex
	id contractx.IdentityMemory
}

var _ contractx.MemoryStore = (*Store)(nil)

func NewStore(cfg Config) *Store {
	return &Store{
		cfg:        cfg.withDefaults(),
		sessions:   make(map[string]*sessionEntry),
		identities: make(map[string]*identityEntry),
		now:        time.Now,
	}
}

func (s *Store) sessionEntry(sessionID string) *sessionEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.sessions[sessionID]
	if !ok {
		e = &sessionEntry{sess: contractx.SessionMemory{
			SessionID: sessionID,
			Scratch:   make(map[string]any),
			UpdatedAt: s.now().UTC(),
		}}
		s.sessions[sessionID] = e
	}
	return e
}

func (s *Store) identityEntry(identityID string) *identityEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.identities[identityID]
	if !ok {
		now := s.now().UTC()
		e = &identityEntry{id: contractx.IdentityMemory{
			IdentityID:   identityID,
			Preferences:  make(map[string]any),
			FirstContact: now,
			LastContact:  now,
		}}
		s.identities[identityID] = e
	}
	return e
}

func (s *Store) GetSession(ctx context.Context, sessionID string) (*contractx.SessionMemory, error) {
	if strings.TrimSpace(sessionID) == "" {
		return nil, fmt.Errorf("%w: session id is empty", contractx.ErrValidation)
	}
	e := s.sessionEntry(sessionID)
	e.mu.Lock()
	defer e.mu.Unlock()
	out := cloneSession(e.sess)
	return &out, nil
}

func (s *Store) AppendMessage(ctx context.Context, sessionID string, msg contractx.Message) error {
	if strings.TrimSpace(sessionID) == "" {
		return fmt.Errorf("%w: session id is empty", contractx.ErrValidation)
	}
	e := s.sessionEntry(sessionID)
	e.mu.Lock()
	defer e.mu.Unlock()

	e.sess.Messages = append(e.sess.Messages, msg)
	if score, ok := msg.FloatField(contractx.KeySentiment); ok {
		e.sess.Sentiments = append(e.sess.Sentiments, score)
	}
	if id := msg.StringField(contractx.KeyIdentityID); id != "" {
		e.sess.IdentityID = id
	}
	e.sess.UpdatedAt = s.now().UTC()

	compactSession(&e.sess, s.cfg.CompactThreshold, s.cfg.KeepRecent)
	return nil
}

func (s *Store) SetScratch(ctx context.Context, sessionID, key string, value any) error {
	if strings.TrimSpace(sessionID) == "" {
		return fmt.Errorf("%w: session id is empty", contractx.ErrValidation)
	}
	e := s.sessionEntry(sessionID)
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.sess.Scratch == nil {
		e.sess.Scratch = make(map[string]any)
	}
	e.sess.Scratch[key] = value
	e.sess.UpdatedAt = s.now().UTC()
	return nil
}

func (s *Store) GetIdentity(ctx context.Context, identityID string) (*contractx.IdentityMemory, error) {
	if strings.TrimSpace(identityID) == "" {
		return nil, fmt.Errorf("%w: identity id is empty", contractx.ErrValidation)
	}
	e := s.identityEntry(identityID)
	e.mu.Lock()
	defer e.mu.Unlock()
	out := cloneIdentity(e.id)
	return &out, nil
}

func (s *Store) UpdateIdentity(ctx context.Context, identityID string, patch contractx.IdentityPatch) error {
	if strings.TrimSpace(identityID) == "" {
		return fmt.Errorf("%w: identity id is empty", contractx.ErrValidation)
	}
	e := s.identityEntry(identityID)
	e.mu.Lock()
	defer e.mu.Unlock()

	if patch.SessionSummary != "" {
		e.id.SessionSummaries = append(e.id.SessionSummaries, patch.SessionSummary)
		if over := len(e.id.SessionSummaries) - s.cfg.IdentityHistoryLimit; over > 0 {
			e.id.SessionSummaries = e.id.SessionSummaries[over:]
		}
	}
	if patch.Sentiment != nil {
		e.id.SentimentTrend = append(e.id.SentimentTrend, *patch.Sentiment)
		if over := len(e.id.SentimentTrend) - s.cfg.IdentityHistoryLimit; over > 0 {
			e.id.SentimentTrend = e.id.SentimentTrend[over:]
		}
	}
	for k, v := range patch.Preferences {
		if e.id.Preferences == nil {
			e.id.Preferences = make(map[string]any)
		}
		e.id.Preferences[k] = v
	}
	e.id.LastContact = s.now().UTC()
	return nil
}

func cloneSession(in contractx.SessionMemory) contractx.SessionMemory {
	out := in
	out.Messages = append([]contractx.Message(nil), in.Messages...)
	out.Sentiments = append([]float64(nil), in.Sentiments...)
	out.Scratch = make(map[string]any, len(in.Scratch))
	for k, v := range in.Scratch {
		out.Scratch[k] = v
	}
	return out
}

func cloneIdentity(in contractx.IdentityMemory) contractx.IdentityMemory {
	out := in
	out.SessionSummaries = append([]string(nil), in.SessionSummaries...)
	out.SentimentTrend = append([]float64(nil), in.SentimentTrend...)
	out.Preferences = make(map[string]any, len(in.Preferences))
	for k, v := range in.Preferences {
		out.Preferences[k] = v
	}
	return out
}
