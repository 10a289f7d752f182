// Package agent runs the turn state machine: it carries a user message
// through model exchanges and tool dispatches until a plain-text answer
// comes out, keeping the conversation context consistent throughout.
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/yavinfive/eddie/internal/convo"
	"github.com/yavinfive/eddie/internal/dispatch"
	"github.com/yavinfive/eddie/internal/interpret"
	"github.com/yavinfive/eddie/internal/llm"
	"github.com/yavinfive/eddie/internal/tools"
)

// apology is returned to the user when a turn cannot be completed. The
// conversation context is rolled back first, so the failed turn leaves
// no residue.
const apology = "I'm sorry, something went wrong while I was thinking about that. Please try again."

// toolsNotePrefix marks the transient system message carrying the
// capability listing. It is stripped at finalize.
const toolsNotePrefix = "You can call the following functions when they help answer. " +
	"To call one, reply with only a JSON object like " +
	`{"action": "function-call", "name": "<name>", "arguments": {...}}` + "\n"

// toolResultPrefix marks messages carrying dispatched capability
// output back to the model.
const toolResultPrefix = "Result of "

// Options bound the turn state machine.
type Options struct {
	// MaxToolDepth is the most tool dispatches a single turn may make.
	MaxToolDepth int
	// EmptyRetries is how many times an empty model response is retried
	// before the turn fails.
	EmptyRetries int
	// ContextBytes is the conversation prune budget.
	ContextBytes int
}

// Orchestrator drives turns for all conversations.
type Orchestrator struct {
	model      llm.Client
	store      *convo.Store
	registry   *tools.Registry
	dispatcher *dispatch.Dispatcher
	interp     *interpret.Interpreter
	opts       Options
	logger     *slog.Logger
}

func New(model llm.Client, store *convo.Store, registry *tools.Registry,
	dispatcher *dispatch.Dispatcher, interp *interpret.Interpreter,
	opts Options, logger *slog.Logger) *Orchestrator {
	if opts.MaxToolDepth <= 0 {
		opts.MaxToolDepth = 6
	}
	if opts.EmptyRetries <= 0 {
		opts.EmptyRetries = 3
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		model:      model,
		store:      store,
		registry:   registry,
		dispatcher: dispatcher,
		interp:     interp,
		opts:       opts,
		logger:     logger.With("component", "agent"),
	}
}

// triggerWords suggest a turn will need capabilities. The listing is
// only injected when one appears, so ordinary chat turns stay cheap.
var triggerWords = []string{
	"search", "weather", "fetch", "download", "look up", "news",
	"task", "remind", "schedule", "coordinates", "latitude", "longitude",
	"busca", "buscar", "clima", "tiempo", "noticias",
	"tarea", "recuerda", "agenda", "coordenadas",
}

func wantsTools(text string) bool {
	lower := strings.ToLower(text)
	for _, w := range triggerWords {
		if strings.Contains(lower, w) {
			return true
		}
	}
	return false
}

// HandleUserTurn runs one full turn and returns the final plain-text
// answer. On failure the conversation context is restored to its
// pre-turn state and an apology is returned along with the error.
func (o *Orchestrator) HandleUserTurn(ctx context.Context, conversationID, userID, text string) (string, error) {
	cctx := o.store.Get(conversationID)
	cctx.Lock()
	defer cctx.Unlock()

	snap := cctx.Snapshot()

	if wantsTools(text) {
		cctx.Append(convo.Message{
			Role:    convo.RoleSystem,
			Content: toolsNotePrefix + o.registry.Listing(),
		})
	}
	cctx.Append(convo.Message{Role: convo.RoleUser, Content: text})
	if o.opts.ContextBytes > 0 {
		cctx.Prune(o.opts.ContextBytes)
	}

	ctx = tools.WithCaller(ctx, tools.Caller{UserID: userID, ConversationID: conversationID})

	answer, err := o.exchange(ctx, cctx)
	if err != nil {
		cctx.Restore(snap)
		o.logger.Error("turn failed", "conversation", conversationID, "error", err)
		return apology, err
	}
	return answer, nil
}

// Query is the model-query primitive used by background jobs. It runs
// the same turn machinery against the job's conversation.
func (o *Orchestrator) Query(ctx context.Context, userID, prompt, conversationID string) (string, error) {
	return o.HandleUserTurn(ctx, conversationID, userID, prompt)
}

// exchange loops model call, interpretation, tool dispatch until a
// plain-text answer or the dispatch bound is hit. Caller holds the
// context lock.
func (o *Orchestrator) exchange(ctx context.Context, cctx *convo.Context) (string, error) {
	for depth := 0; ; depth++ {
		raw, err := o.chatWithRetry(ctx, cctx)
		if err != nil {
			return "", err
		}

		out := o.interp.Interpret(raw)
		if out.Call == nil {
			answer := out.Text
			if interpret.LooksStructured(answer) {
				// The model never produced prose; raw JSON must not
				// reach the user.
				o.logger.Warn("final answer still structured, substituting apology")
				answer = apology
			}
			o.finalize(cctx, answer)
			return answer, nil
		}

		if depth >= o.opts.MaxToolDepth {
			o.logger.Warn("tool depth exceeded", "depth", depth, "capability", out.Call.Name)
			// Surface whatever the model last said. A strict-JSON call
			// is raw structure and degrades to the apology; prose that
			// merely wrapped a tagged or pseudo-code call can stand on
			// its own.
			answer := raw
			if interpret.LooksStructured(answer) {
				answer = apology
			}
			o.finalize(cctx, answer)
			return answer, nil
		}

		cctx.Append(convo.Message{Role: convo.RoleAssistant, Content: raw})
		res := o.dispatcher.Dispatch(ctx, out.Call)
		o.logger.Debug("tool dispatched", "capability", out.Call.Name,
			"status", res.Status, "truncated", res.Truncated)
		cctx.Append(convo.Message{
			Role:    convo.RoleUser,
			Content: fmt.Sprintf("%s%s:\n%s", toolResultPrefix, out.Call.Name, res.Payload),
		})
	}
}

// chatWithRetry calls the model, strips the reasoning preamble, and
// retries when the remaining body is empty. Small models produce
// whitespace-only responses often enough that one retry usually
// recovers the turn.
func (o *Orchestrator) chatWithRetry(ctx context.Context, cctx *convo.Context) (string, error) {
	var raw string
	for attempt := 0; attempt < o.opts.EmptyRetries; attempt++ {
		body, err := o.model.Chat(ctx, toModelMessages(cctx.Messages()))
		if err != nil {
			return "", fmt.Errorf("model call: %w", err)
		}
		raw = strings.TrimSpace(interpret.StripReasoning(body))
		if raw != "" {
			return raw, nil
		}
		o.logger.Debug("empty model response", "attempt", attempt+1)
	}
	return "", fmt.Errorf("model returned an empty response %d times", o.opts.EmptyRetries)
}

// finalize cleans the context before the final answer is committed:
// the transient capability listing goes, and any tool-call scaffolding
// left at the tail goes with it.
func (o *Orchestrator) finalize(cctx *convo.Context, answer string) {
	cctx.TrimTailWhile(func(m convo.Message) bool {
		return interpret.LooksStructured(m.Content) ||
			strings.HasPrefix(m.Content, toolResultPrefix)
	})
	msgs := cctx.Messages()
	for i := len(msgs) - 1; i > 0; i-- {
		if msgs[i].Role == convo.RoleSystem && strings.HasPrefix(msgs[i].Content, toolsNotePrefix) {
			cctx.Remove(i)
		}
	}
	cctx.Append(convo.Message{Role: convo.RoleAssistant, Content: answer})
}

func toModelMessages(msgs []convo.Message) []llm.Message {
	out := make([]llm.Message, len(msgs))
	for i, m := range msgs {
		out[i] = llm.Message{Role: m.Role, Content: m.Content, Images: m.Attachments}
	}
	return out
}
