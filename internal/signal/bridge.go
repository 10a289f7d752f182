package signal

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/yavinfive/eddie/internal/render"
)

// handleTimeout bounds how long a single inbound message may be
// processed (turn machinery + response send).
const handleTimeout = 5 * time.Minute

// Responder runs one conversational turn. The real implementation is
// the orchestrator.
type Responder interface {
	HandleUserTurn(ctx context.Context, conversationID, userID, text string) (string, error)
}

// Conversations is the slice of the conversation store the bridge's
// admin commands need.
type Conversations interface {
	Reset(id string)
}

// BridgeConfig holds the dependencies for a Bridge.
type BridgeConfig struct {
	Client    *Client
	Responder Responder
	Convos    Conversations
	Logger    *slog.Logger

	// Routes persists the conversation-to-recipient mapping across
	// restarts. Optional; without it, recovered background tasks cannot
	// deliver until the conversation speaks again.
	Routes *RouteStore

	// BotName gates group messages: in a group the bridge only responds
	// when the message mentions this name.
	BotName string
	// Admins may issue /-prefixed control commands.
	Admins []string
}

// Bridge receives Signal messages, routes them through the turn
// machinery, and sends rendered responses back.
type Bridge struct {
	client    *Client
	responder Responder
	convos    Conversations
	routes    *RouteStore
	logger    *slog.Logger
	botName   string
	admins    map[string]bool

	mu         sync.Mutex
	ignored    map[string]bool
	recipients map[string]string // conversation ID -> send recipient
}

func NewBridge(cfg BridgeConfig) *Bridge {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	admins := make(map[string]bool, len(cfg.Admins))
	for _, a := range cfg.Admins {
		admins[a] = true
	}
	b := &Bridge{
		client:     cfg.Client,
		responder:  cfg.Responder,
		convos:     cfg.Convos,
		routes:     cfg.Routes,
		logger:     logger.With("component", "bridge"),
		botName:    cfg.BotName,
		admins:     admins,
		ignored:    make(map[string]bool),
		recipients: make(map[string]string),
	}
	// Seed the recipient map from disk so conversations recovered by
	// the task scheduler are reachable before their next inbound
	// message.
	if b.routes != nil {
		routes, err := b.routes.All()
		if err != nil {
			b.logger.Error("loading persisted routes failed", "error", err)
		} else {
			b.recipients = routes
			b.logger.Info("routes restored", "count", len(routes))
		}
	}
	return b
}

// Run consumes inbound envelopes until ctx is cancelled or the client
// stream closes.
func (b *Bridge) Run(ctx context.Context) {
	b.logger.Info("signal bridge started", "bot_name", b.botName)

	for {
		select {
		case <-ctx.Done():
			b.logger.Info("signal bridge shutting down")
			return
		case env, ok := <-b.client.Messages():
			if !ok {
				b.logger.Info("signal stream closed, bridge stopping")
				return
			}
			b.handleEnvelope(ctx, env)
		}
	}
}

// SendMessage delivers text to a conversation the bridge has seen.
// It satisfies the notifier and task-host contracts.
func (b *Bridge) SendMessage(conversationID, text string) error {
	b.mu.Lock()
	recipient, ok := b.recipients[conversationID]
	b.mu.Unlock()
	if !ok {
		return fmt.Errorf("no known recipient for conversation %s", conversationID)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	_, err := b.client.Send(ctx, recipient, render.PlainText(text))
	return err
}

func (b *Bridge) handleEnvelope(ctx context.Context, env *Envelope) {
	dm := env.DataMessage
	if dm == nil || strings.TrimSpace(dm.Message) == "" || env.Source == "" {
		return
	}

	b.mu.Lock()
	ignored := b.ignored[env.Source]
	b.mu.Unlock()
	if ignored {
		b.logger.Debug("dropping message from ignored sender", "sender", env.Source)
		return
	}

	recipient := env.Source
	convID := "signal-" + sanitizeID(env.Source)
	if dm.GroupInfo != nil {
		recipient = "group." + dm.GroupInfo.GroupID
		convID = "group-" + sanitizeID(dm.GroupInfo.GroupID)

		// In groups the bot only speaks when spoken to.
		if b.botName == "" || !strings.Contains(strings.ToLower(dm.Message), strings.ToLower(b.botName)) {
			return
		}
	}

	b.mu.Lock()
	changed := b.recipients[convID] != recipient
	b.recipients[convID] = recipient
	b.mu.Unlock()
	if changed && b.routes != nil {
		if err := b.routes.Save(convID, recipient); err != nil {
			b.logger.Warn("persisting route failed", "conversation", convID, "error", err)
		}
	}

	if strings.HasPrefix(dm.Message, "/") && b.admins[env.Source] {
		b.handleCommand(ctx, env, convID, recipient)
		return
	}

	b.handleMessage(ctx, env, convID, recipient)
}

// handleCommand processes admin control commands.
func (b *Bridge) handleCommand(ctx context.Context, env *Envelope, convID, recipient string) {
	fields := strings.Fields(env.DataMessage.Message)
	cmd := fields[0]
	b.logger.Info("admin command", "sender", env.Source, "command", cmd)

	var reply string
	switch cmd {
	case "/admin":
		if len(fields) >= 2 {
			b.admins[fields[1]] = true
			reply = "Added " + fields[1] + " as an administrator."
			break
		}
		reply = "Commands: /admin [<number>], /ignore <number>, /reset"
	case "/ignore":
		if len(fields) < 2 {
			reply = "Usage: /ignore <number>"
			break
		}
		b.mu.Lock()
		b.ignored[fields[1]] = true
		b.mu.Unlock()
		reply = "Ignoring " + fields[1]
	case "/reset":
		if b.convos != nil {
			b.convos.Reset(convID)
		}
		reply = "Conversation history cleared."
	default:
		reply = "Unknown command. Try /admin."
	}

	if _, err := b.client.Send(ctx, recipient, reply); err != nil {
		b.logger.Error("command reply failed", "sender", env.Source, "error", err)
	}
}

// handleMessage runs one inbound message through a full turn and sends
// the answer back.
func (b *Bridge) handleMessage(ctx context.Context, env *Envelope, convID, recipient string) {
	ctx, cancel := context.WithTimeout(ctx, handleTimeout)
	defer cancel()

	dm := env.DataMessage
	b.logger.Info("signal message received",
		"sender", env.Source, "conversation", convID, "message_len", len(dm.Message))

	ts := env.Timestamp
	if dm.Timestamp != 0 {
		ts = dm.Timestamp
	}
	if err := b.client.SendReceipt(ctx, env.Source, ts); err != nil {
		b.logger.Debug("read receipt failed", "error", err)
	}
	if err := b.client.SetTyping(ctx, recipient, true); err != nil {
		b.logger.Debug("typing indicator failed", "error", err)
	}

	answer, err := b.responder.HandleUserTurn(ctx, convID, env.Source, dm.Message)

	// Stop typing regardless of outcome; the handler context may
	// already be dead, so use a fresh one.
	stopCtx, stopCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer stopCancel()
	if typErr := b.client.SetTyping(stopCtx, recipient, false); typErr != nil {
		b.logger.Debug("typing stop failed", "error", typErr)
	}

	if err != nil {
		b.logger.Error("turn failed", "sender", env.Source, "conversation", convID, "error", err)
		// answer still carries the apology text; fall through and send it.
	}
	if answer == "" {
		return
	}

	if _, err := b.client.Send(ctx, recipient, render.PlainText(answer)); err != nil {
		b.logger.Error("reply send failed", "sender", env.Source, "conversation", convID, "error", err)
		return
	}
	b.logger.Info("reply sent", "sender", env.Source, "conversation", convID, "response_len", len(answer))
}

// sanitizeID strips non-alphanumeric characters so the value is safe
// inside a conversation ID.
func sanitizeID(s string) string {
	var sb strings.Builder
	for _, r := range s {
		if (r >= '0' && r <= '9') || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') {
			sb.WriteRune(r)
		}
	}
	return sb.String()
}
