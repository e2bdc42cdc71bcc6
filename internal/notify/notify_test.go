package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

type fakeSender struct {
	name string
	err  error
	got  []string
}

func (f *fakeSender) Send(_ context.Context, title, _ string) error {
	f.got = append(f.got, title)
	return f.err
}

func (f *fakeSender) Name() string { return f.name }

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestNotifierFiltersEvents(t *testing.T) {
	s := &fakeSender{name: "a"}
	n := NewNotifier([]Sender{s}, []string{EventGameEnded, " "}, discard())

	if err := n.Notify(context.Background(), EventAutopilotFailed, "ignored", ""); err != nil {
		t.Fatalf("notify: %v", err)
	}
	if err := n.Notify(context.Background(), EventGameEnded, "Game ended", ""); err != nil {
		t.Fatalf("notify: %v", err)
	}
	if len(s.got) != 1 || s.got[0] != "Game ended" {
		t.Fatalf("delivered = %v", s.got)
	}
}

func TestNotifierJoinsFailures(t *testing.T) {
	boom := errors.New("boom")
	bad := &fakeSender{name: "bad", err: boom}
	good := &fakeSender{name: "good"}
	n := NewNotifier([]Sender{bad, good}, nil, discard())

	err := n.Notify(context.Background(), EventGameEnded, "t", "m")
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want wrapping boom", err)
	}
	if len(good.got) != 1 {
		t.Fatal("second sender skipped after first failed")
	}
	if !n.Enabled() || NewNotifier(nil, nil, discard()).Enabled() {
		t.Fatal("Enabled mismatch")
	}
}

func TestDiscordSender(t *testing.T) {
	var body map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&body)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	d := NewDiscordSender(srv.URL)
	if err := d.Send(context.Background(), "Game ended", "alice won"); err != nil {
		t.Fatalf("send: %v", err)
	}
	if body["content"] != "**Game ended**\nalice won" {
		t.Fatalf("content = %q", body["content"])
	}
}

func TestTelegramSenderRedactsToken(t *testing.T) {
	var path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		http.Error(w, "chat not found", http.StatusBadRequest)
	}))
	defer srv.Close()

	ts := NewTelegramSender("secret-token", "42")
	ts.apiBase = srv.URL
	err := ts.Send(context.Background(), "t", "m")
	if err == nil {
		t.Fatal("expected error")
	}
	if path != "/botsecret-token/sendMessage" {
		t.Fatalf("path = %q", path)
	}
	if strings.Contains(err.Error(), "secret-token") || !strings.Contains(err.Error(), "400") {
		t.Fatalf("err = %v", err)
	}
}
