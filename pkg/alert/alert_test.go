package alert

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func testNotification() *Notification {
	return &Notification{
		AppID:    570,
		Title:    "Dota 2",
		Store:    "Fanatical",
		Price:    4.99,
		Currency: "GBP",
		URL:      "https://fanatical.example/570",
	}
}

func TestSlackSend(t *testing.T) {
	var payload map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Fatalf("decode payload: %v", err)
		}
	}))
	defer srv.Close()

	if err := NewSlack(srv.URL).Send(context.Background(), testNotification()); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	blocks, ok := payload["blocks"].([]any)
	if !ok || len(blocks) != 3 {
		t.Fatalf("blocks = %v, want header, section and link", payload["blocks"])
	}
	raw, _ := json.Marshal(payload)
	if !strings.Contains(string(raw), "Dota 2") || !strings.Contains(string(raw), "£4.99") {
		t.Errorf("payload missing title or price: %s", raw)
	}
}

func TestSlackSendErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	if err := NewSlack(srv.URL).Send(context.Background(), testNotification()); err == nil {
		t.Fatal("Send succeeded on 400")
	}
}

func TestWebhookSignature(t *testing.T) {
	const secret = "shh"
	var gotSig string
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSig = r.Header.Get("X-Signature-256")
		gotBody, _ = io.ReadAll(r.Body)
	}))
	defer srv.Close()

	if err := NewWebhook(srv.URL, secret).Send(context.Background(), testNotification()); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(gotBody)
	want := "sha256=" + hex.EncodeToString(mac.Sum(nil))
	if gotSig != want {
		t.Errorf("signature = %q, want %q", gotSig, want)
	}

	var n Notification
	if err := json.Unmarshal(gotBody, &n); err != nil {
		t.Fatalf("body not a notification: %v", err)
	}
	if n.AppID != 570 || n.Price != 4.99 {
		t.Errorf("notification = %+v", n)
	}
}

func TestWebhookNoSecretNoSignature(t *testing.T) {
	var gotSig string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSig = r.Header.Get("X-Signature-256")
	}))
	defer srv.Close()

	if err := NewWebhook(srv.URL, "").Send(context.Background(), testNotification()); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if gotSig != "" {
		t.Errorf("signature set without a secret: %q", gotSig)
	}
}

type stubNotifier struct {
	name string
	err  error
	sent int
}

func (s *stubNotifier) Name() string { return s.name }

func (s *stubNotifier) Send(ctx context.Context, n *Notification) error {
	s.sent++
	return s.err
}

func TestBroadcastContinuesPastFailures(t *testing.T) {
	bad := &stubNotifier{name: "bad", err: errors.New("boom")}
	good := &stubNotifier{name: "good"}
	m := NewManager([]Notifier{bad, good})

	err := m.Broadcast(context.Background(), testNotification())
	if err == nil {
		t.Fatal("Broadcast swallowed the failure")
	}
	if !strings.Contains(err.Error(), "bad") {
		t.Errorf("error does not name the failing notifier: %v", err)
	}
	if good.sent != 1 {
		t.Errorf("good notifier sent = %d, want 1", good.sent)
	}
}

func TestManagerHasNotifiers(t *testing.T) {
	if NewManager(nil).HasNotifiers() {
		t.Error("empty manager reports notifiers")
	}
	if !NewManager([]Notifier{&stubNotifier{name: "x"}}).HasNotifiers() {
		t.Error("non-empty manager reports none")
	}
}
