package signal

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
)

// apiRecorder is a fake signal-cli-rest-api that records every request.
type apiRecorder struct {
	mu       sync.Mutex
	sent     []sendRequest
	receipts int
	typing   []string // request methods, in order
}

func (a *apiRecorder) handler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		a.mu.Lock()
		defer a.mu.Unlock()
		switch {
		case r.URL.Path == "/v2/send":
			var req sendRequest
			body, _ := io.ReadAll(r.Body)
			if err := json.Unmarshal(body, &req); err != nil {
				t.Errorf("bad send body: %v", err)
			}
			a.sent = append(a.sent, req)
			w.Write([]byte(`{"timestamp": "1"}`))
		case strings.HasPrefix(r.URL.Path, "/v1/receipts/"):
			a.receipts++
			w.WriteHeader(http.StatusNoContent)
		case strings.HasPrefix(r.URL.Path, "/v1/typing-indicator/"):
			a.typing = append(a.typing, r.Method)
			w.WriteHeader(http.StatusNoContent)
		default:
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	}
}

func (a *apiRecorder) lastSent(t *testing.T) sendRequest {
	t.Helper()
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.sent) == 0 {
		t.Fatal("nothing was sent")
	}
	return a.sent[len(a.sent)-1]
}

func (a *apiRecorder) sendCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.sent)
}

type fakeResponder struct {
	mu     sync.Mutex
	turns  []string // "convID|userID|text"
	answer string
	err    error
}

func (f *fakeResponder) HandleUserTurn(ctx context.Context, conversationID, userID, text string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.turns = append(f.turns, conversationID+"|"+userID+"|"+text)
	return f.answer, f.err
}

func (f *fakeResponder) turnCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.turns)
}

type fakeConvos struct {
	resets []string
}

func (f *fakeConvos) Reset(id string) { f.resets = append(f.resets, id) }

func newTestBridge(t *testing.T, responder *fakeResponder, convos *fakeConvos, botName string, admins []string) (*Bridge, *apiRecorder) {
	t.Helper()
	rec := &apiRecorder{}
	srv := httptest.NewServer(rec.handler(t))
	t.Cleanup(srv.Close)

	client := NewClient(srv.URL, "+15550001111", nil)
	b := NewBridge(BridgeConfig{
		Client:    client,
		Responder: responder,
		Convos:    convos,
		BotName:   botName,
		Admins:    admins,
	})
	return b, rec
}

func directEnvelope(source, message string) *Envelope {
	return &Envelope{
		Source:      source,
		Timestamp:   100,
		DataMessage: &DataMessage{Message: message},
	}
}

func groupEnvelope(source, groupID, message string) *Envelope {
	return &Envelope{
		Source:    source,
		Timestamp: 100,
		DataMessage: &DataMessage{
			Message:   message,
			GroupInfo: &GroupInfo{GroupID: groupID},
		},
	}
}

func TestDirectMessageRoundTrip(t *testing.T) {
	responder := &fakeResponder{answer: "**Hi** there"}
	b, rec := newTestBridge(t, responder, nil, "Eddie", nil)

	b.handleEnvelope(context.Background(), directEnvelope("+15552223333", "hello"))

	if got := responder.turnCount(); got != 1 {
		t.Fatalf("responder called %d times", got)
	}
	turn := responder.turns[0]
	if turn != "signal-15552223333|+15552223333|hello" {
		t.Errorf("turn = %q", turn)
	}

	sent := rec.lastSent(t)
	if sent.Message != "Hi there" {
		t.Errorf("reply = %q, want markdown flattened", sent.Message)
	}
	if len(sent.Recipients) != 1 || sent.Recipients[0] != "+15552223333" {
		t.Errorf("recipients = %v", sent.Recipients)
	}
	if rec.receipts != 1 {
		t.Errorf("receipts = %d", rec.receipts)
	}
	if len(rec.typing) != 2 || rec.typing[0] != http.MethodPut || rec.typing[1] != http.MethodDelete {
		t.Errorf("typing calls = %v", rec.typing)
	}
}

func TestGroupMessageRequiresMention(t *testing.T) {
	responder := &fakeResponder{answer: "yes?"}
	b, rec := newTestBridge(t, responder, nil, "Eddie", nil)

	b.handleEnvelope(context.Background(), groupEnvelope("+15552223333", "grp1", "what time is it"))
	if responder.turnCount() != 0 {
		t.Fatal("responder called for unaddressed group message")
	}

	b.handleEnvelope(context.Background(), groupEnvelope("+15552223333", "grp1", "eddie, what time is it"))
	if responder.turnCount() != 1 {
		t.Fatal("responder not called for addressed group message")
	}
	if got := responder.turns[0]; !strings.HasPrefix(got, "group-grp1|") {
		t.Errorf("turn = %q, want group conversation id", got)
	}
	sent := rec.lastSent(t)
	if sent.Recipients[0] != "group.grp1" {
		t.Errorf("recipient = %q", sent.Recipients[0])
	}
}

func TestEmptyMessagesDropped(t *testing.T) {
	responder := &fakeResponder{answer: "x"}
	b, _ := newTestBridge(t, responder, nil, "Eddie", nil)

	b.handleEnvelope(context.Background(), directEnvelope("+15552223333", "   "))
	b.handleEnvelope(context.Background(), &Envelope{Source: "+15552223333"})
	b.handleEnvelope(context.Background(), directEnvelope("", "hello"))

	if responder.turnCount() != 0 {
		t.Errorf("responder called %d times", responder.turnCount())
	}
}

func TestAdminIgnoreCommand(t *testing.T) {
	responder := &fakeResponder{answer: "x"}
	b, rec := newTestBridge(t, responder, nil, "Eddie", []string{"+15559990000"})

	b.handleEnvelope(context.Background(), directEnvelope("+15559990000", "/ignore +15552223333"))
	if responder.turnCount() != 0 {
		t.Fatal("command routed to responder")
	}
	if sent := rec.lastSent(t); !strings.Contains(sent.Message, "Ignoring") {
		t.Errorf("reply = %q", sent.Message)
	}

	// the ignored sender is now dropped entirely
	before := rec.sendCount()
	b.handleEnvelope(context.Background(), directEnvelope("+15552223333", "hello?"))
	if responder.turnCount() != 0 || rec.sendCount() != before {
		t.Error("ignored sender still processed")
	}
}

func TestAdminPromoteCommand(t *testing.T) {
	responder := &fakeResponder{answer: "x"}
	b, rec := newTestBridge(t, responder, nil, "Eddie", []string{"+15559990000"})

	b.handleEnvelope(context.Background(), directEnvelope("+15559990000", "/admin +15551112222"))
	if sent := rec.lastSent(t); !strings.Contains(sent.Message, "+15551112222") {
		t.Errorf("reply = %q", sent.Message)
	}

	// The promoted number can now issue commands itself.
	b.handleEnvelope(context.Background(), directEnvelope("+15551112222", "/ignore +15553334444"))
	if responder.turnCount() != 0 {
		t.Fatal("command from promoted admin routed to responder")
	}
	if sent := rec.lastSent(t); !strings.Contains(sent.Message, "Ignoring") {
		t.Errorf("reply = %q", sent.Message)
	}

	// Bare /admin stays a help text.
	b.handleEnvelope(context.Background(), directEnvelope("+15559990000", "/admin"))
	if sent := rec.lastSent(t); !strings.Contains(sent.Message, "Commands:") {
		t.Errorf("reply = %q", sent.Message)
	}
}

func TestAdminResetCommand(t *testing.T) {
	convos := &fakeConvos{}
	b, rec := newTestBridge(t, &fakeResponder{}, convos, "Eddie", []string{"+15559990000"})

	b.handleEnvelope(context.Background(), directEnvelope("+15559990000", "/reset"))

	if len(convos.resets) != 1 || convos.resets[0] != "signal-15559990000" {
		t.Errorf("resets = %v", convos.resets)
	}
	if sent := rec.lastSent(t); !strings.Contains(sent.Message, "cleared") {
		t.Errorf("reply = %q", sent.Message)
	}
}

func TestSlashFromNonAdminIsOrdinaryMessage(t *testing.T) {
	responder := &fakeResponder{answer: "that is not a command I run for you"}
	b, _ := newTestBridge(t, responder, nil, "Eddie", []string{"+15559990000"})

	b.handleEnvelope(context.Background(), directEnvelope("+15552223333", "/reset"))
	if responder.turnCount() != 1 {
		t.Fatal("non-admin slash message should reach the responder")
	}
}

func TestSendMessageNeedsKnownConversation(t *testing.T) {
	b, rec := newTestBridge(t, &fakeResponder{answer: "ok"}, nil, "Eddie", nil)

	if err := b.SendMessage("signal-unknown", "hi"); err == nil {
		t.Fatal("expected error for unseen conversation")
	}

	b.handleEnvelope(context.Background(), directEnvelope("+15552223333", "hello"))
	if err := b.SendMessage("signal-15552223333", "task update"); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if sent := rec.lastSent(t); sent.Message != "task update" {
		t.Errorf("sent = %q", sent.Message)
	}
}

func TestSendMessageSurvivesRestart(t *testing.T) {
	rec := &apiRecorder{}
	srv := httptest.NewServer(rec.handler(t))
	t.Cleanup(srv.Close)
	client := NewClient(srv.URL, "+15550001111", nil)
	routes := newTestRouteStore(t)

	first := NewBridge(BridgeConfig{
		Client:    client,
		Responder: &fakeResponder{answer: "noted"},
		Routes:    routes,
		BotName:   "Eddie",
	})
	first.handleEnvelope(context.Background(), directEnvelope("+15552223333", "watch the news for me"))

	// A fresh bridge over the same store, as after a process restart,
	// with no inbound traffic yet: recovered background tasks must
	// still reach their conversation.
	second := NewBridge(BridgeConfig{
		Client:  client,
		Routes:  routes,
		BotName: "Eddie",
	})
	if err := second.SendMessage("signal-15552223333", "the news: nothing happened"); err != nil {
		t.Fatalf("SendMessage after restart: %v", err)
	}
	sent := rec.lastSent(t)
	if sent.Recipients[0] != "+15552223333" {
		t.Errorf("recipient = %q", sent.Recipients[0])
	}
	if sent.Message != "the news: nothing happened" {
		t.Errorf("message = %q", sent.Message)
	}
}

func TestTurnErrorStillSendsApology(t *testing.T) {
	responder := &fakeResponder{
		answer: "I'm sorry, something went wrong while I was thinking about that. Please try again.",
		err:    context.DeadlineExceeded,
	}
	b, rec := newTestBridge(t, responder, nil, "Eddie", nil)

	b.handleEnvelope(context.Background(), directEnvelope("+15552223333", "hello"))
	if sent := rec.lastSent(t); !strings.Contains(sent.Message, "something went wrong") {
		t.Errorf("sent = %q", sent.Message)
	}
}

func TestSanitizeID(t *testing.T) {
	if got := sanitizeID("+1 (555) 222-3333"); got != "15552223333" {
		t.Errorf("sanitizeID = %q", got)
	}
	if got := sanitizeID("group/id=="); got != "groupid" {
		t.Errorf("sanitizeID = %q", got)
	}
}
