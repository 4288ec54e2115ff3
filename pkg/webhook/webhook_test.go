package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	contractx "github.com/napatsw/deskmate/agent/contract"
)

func TestSendPostsJSONWithBearer(t *testing.T) {
	t.Parallel()

	var got payload
	var auth, contentType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		contentType = r.Header.Get("Content-Type")
		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &got); err != nil {
			t.Errorf("bad body: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c, err := NewClient(Config{URL: srv.URL, Token: "secret"})
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}

	if err := c.Send(context.Background(), "cust-1", "Refund confirmation", "done"); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if auth != "Bearer secret" {
		t.Fatalf("auth header = %q", auth)
	}
	if contentType != "application/json" {
		t.Fatalf("content type = %q", contentType)
	}
	if got.Recipient != "cust-1" || got.Subject != "Refund confirmation" || got.Body != "done" {
		t.Fatalf("payload = %+v", got)
	}
}

func TestSendNon2xxIsCollaboratorError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c, err := NewClient(Config{URL: srv.URL})
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	if err := c.Send(context.Background(), "cust-1", "s", "b"); !errors.Is(err, contractx.ErrCollaborator) {
		t.Fatalf("expected ErrCollaborator, got %v", err)
	}
}

func TestNewClientValidatesURL(t *testing.T) {
	t.Parallel()

	if _, err := NewClient(Config{}); err == nil {
		t.Fatal("expected error for empty url")
	}
	if _, err := NewClient(Config{URL: "not a url"}); err == nil {
		t.Fatal("expected error for invalid url")
	}
}

func TestLogNotifier(t *testing.T) {
	t.Parallel()

	if err := (LogNotifier{}).Send(context.Background(), "cust-1", "s", "b"); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
}
