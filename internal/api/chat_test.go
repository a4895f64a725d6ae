package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/kalambet/taskpilot/internal/conversation"
	"github.com/kalambet/taskpilot/internal/stream"
)

// fakeProcessor emits a canned event sequence or fails before emitting.
type fakeProcessor struct {
	err    error
	events []stream.EventType
}

func (f *fakeProcessor) ProcessTurn(ctx context.Context, threadID, message string, emitter stream.Emitter) error {
	if f.err != nil {
		return f.err
	}
	for _, typ := range f.events {
		emitter.Emit(ctx, stream.NewEvent(typ, threadID, map[string]any{"message": "x"}))
	}
	return nil
}

func chatServer(p TurnProcessor) *httptest.Server {
	return httptest.NewServer(NewChatHandler(ChatDeps{Processor: p, Token: "secret"}))
}

func postChat(t *testing.T, url, token, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, url+"/v1/chat", strings.NewReader(body))
	if err != nil {
		t.Fatalf("building request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	return resp
}

func TestChatRequiresAuth(t *testing.T) {
	srv := chatServer(&fakeProcessor{})
	defer srv.Close()

	resp := postChat(t, srv.URL, "", `{"message":"hi"}`)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", resp.StatusCode)
	}

	resp2 := postChat(t, srv.URL, "wrong", `{"message":"hi"}`)
	defer resp2.Body.Close()
	if resp2.StatusCode != http.StatusUnauthorized {
		t.Errorf("status with bad token = %d, want 401", resp2.StatusCode)
	}
}

func TestChatRejectsEmptyMessage(t *testing.T) {
	srv := chatServer(&fakeProcessor{})
	defer srv.Close()

	resp := postChat(t, srv.URL, "secret", `{"thread_id":"t1"}`)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestChatBusyThreadConflicts(t *testing.T) {
	srv := chatServer(&fakeProcessor{err: conversation.ErrBusy})
	defer srv.Close()

	resp := postChat(t, srv.URL, "secret", `{"thread_id":"t1","message":"hi"}`)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("status = %d, want 409", resp.StatusCode)
	}
}

func TestChatStreamsEvents(t *testing.T) {
	srv := chatServer(&fakeProcessor{events: []stream.EventType{
		stream.EventThinking, stream.EventPlan, stream.EventDone,
	}})
	defer srv.Close()

	resp := postChat(t, srv.URL, "secret", `{"thread_id":"t1","message":"hi"}`)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("content type = %q", ct)
	}
	if got := resp.Header.Get("X-Thread-ID"); got != "t1" {
		t.Errorf("thread header = %q, want t1", got)
	}

	var body strings.Builder
	buf := make([]byte, 4096)
	for {
		n, err := resp.Body.Read(buf)
		body.Write(buf[:n])
		if err != nil {
			break
		}
	}
	text := body.String()
	for _, want := range []string{"event: thinking", "event: plan", "event: done"} {
		if !strings.Contains(text, want) {
			t.Errorf("stream missing %q:\n%s", want, text)
		}
	}
	if strings.Index(text, "event: thinking") > strings.Index(text, "event: done") {
		t.Error("events out of order")
	}
}

func TestChatGeneratesThreadID(t *testing.T) {
	srv := chatServer(&fakeProcessor{events: []stream.EventType{stream.EventDone}})
	defer srv.Close()

	resp := postChat(t, srv.URL, "secret", `{"message":"hi"}`)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if resp.Header.Get("X-Thread-ID") == "" {
		t.Error("no thread id assigned")
	}
}

func TestHealthIsOpen(t *testing.T) {
	srv := chatServer(&fakeProcessor{})
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200 without auth", resp.StatusCode)
	}
}
