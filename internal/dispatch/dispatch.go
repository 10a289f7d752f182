// Package dispatch executes interpreted tool-call requests against the
// capability registry, coercing the model's named arguments into the
// positional form handlers take.
package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/yavinfive/eddie/internal/interpret"
	"github.com/yavinfive/eddie/internal/tools"
)

// Status classifies a dispatch outcome.
type Status string

const (
	StatusOK      Status = "ok"
	StatusError   Status = "error"
	StatusUnknown Status = "unknown_capability"
)

// Result is what a dispatched call produced. Payload is always
// model-readable text, including for failures.
type Result struct {
	Status    Status
	Payload   string
	Truncated bool
}

// Notifier delivers side-channel messages to a conversation's
// transport, outside the model exchange.
type Notifier interface {
	SendMessage(conversationID, text string) error
}

// Dispatcher routes tool-call requests to registered capabilities.
type Dispatcher struct {
	registry       *tools.Registry
	notifier       Notifier
	maxResultBytes int
	logger         *slog.Logger
}

func New(registry *tools.Registry, notifier Notifier, maxResultBytes int, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		registry:       registry,
		notifier:       notifier,
		maxResultBytes: maxResultBytes,
		logger:         logger.With("component", "dispatch"),
	}
}

// Dispatch executes one interpreted call. Handler failures and unknown
// capability names come back as results, not errors: the model reads
// them and decides what to do next.
func (d *Dispatcher) Dispatch(ctx context.Context, call *interpret.ToolCallRequest) Result {
	tool, ok := d.registry.Get(call.Name)
	if !ok {
		werr := &tools.CapabilityError{Capability: call.Name, Err: tools.ErrUnknownCapability}
		d.logger.Warn("unknown capability requested", "capability", call.Name)
		return Result{
			Status:  StatusUnknown,
			Payload: fmt.Sprintf("%s. Available: %s.", werr.Error(), strings.Join(d.registry.Names(), ", ")),
		}
	}

	args := Coerce(call.Args)
	d.logger.Debug("dispatching capability", "capability", call.Name, "args", len(args))

	payload, err := tool.Handler(ctx, args...)
	if err != nil {
		d.logger.Warn("capability failed", "capability", call.Name, "error", err)
		werr := &tools.CapabilityError{Capability: call.Name, Err: err}
		return Result{Status: StatusError, Payload: werr.Error()}
	}

	d.maybeNotifyURL(ctx, args, payload)

	res := Result{Status: StatusOK, Payload: payload}
	if d.maxResultBytes > 0 && len(res.Payload) > d.maxResultBytes {
		res.Payload = res.Payload[:d.maxResultBytes] + "\n[result truncated]"
		res.Truncated = true
	}
	return res
}

// maybeNotifyURL forwards a URL argument to the conversation so the
// user gets a tappable link alongside the model's summary. Skipped
// when the capability reported the resource missing.
func (d *Dispatcher) maybeNotifyURL(ctx context.Context, args []string, payload string) {
	if d.notifier == nil {
		return
	}
	caller, ok := tools.CallerFromContext(ctx)
	if !ok || caller.ConversationID == "" {
		return
	}
	if strings.Contains(strings.ToLower(payload), "not found") {
		return
	}
	for _, a := range args {
		if strings.HasPrefix(a, "http://") || strings.HasPrefix(a, "https://") {
			if err := d.notifier.SendMessage(caller.ConversationID, a); err != nil {
				d.logger.Warn("failed to forward url", "error", err)
			}
			return
		}
	}
}

// Coerce flattens interpreted arguments into positional strings,
// preserving the order the model emitted them in. Array values and
// bracket-delimited strings expand into consecutive arguments; empty
// strings are dropped.
func Coerce(args []interpret.Argument) []string {
	var out []string
	for _, a := range args {
		for _, s := range coerceValue(a.Value) {
			if s == "" {
				continue
			}
			out = append(out, s)
		}
	}
	return out
}

func coerceValue(v any) []string {
	switch t := v.(type) {
	case nil:
		return nil
	case string:
		if inner, ok := bracketList(t); ok {
			return inner
		}
		return []string{t}
	case []any:
		var out []string
		for _, elem := range t {
			out = append(out, coerceValue(elem)...)
		}
		return out
	case json.Number:
		return []string{t.String()}
	case bool:
		return []string{fmt.Sprintf("%t", t)}
	case *interpret.Object:
		// Nested objects pass through as JSON text.
		raw, err := json.Marshal(t)
		if err != nil {
			return nil
		}
		return []string{string(raw)}
	default:
		return []string{fmt.Sprint(t)}
	}
}

// bracketList splits strings like "[a, b, c]" into their elements.
func bracketList(s string) ([]string, bool) {
	trimmed := strings.TrimSpace(s)
	if len(trimmed) < 2 || trimmed[0] != '[' || trimmed[len(trimmed)-1] != ']' {
		return nil, false
	}
	var out []string
	for _, part := range strings.Split(trimmed[1:len(trimmed)-1], ",") {
		part = strings.Trim(strings.TrimSpace(part), `"'`)
		if part != "" {
			out = append(out, part)
		}
	}
	return out, true
}
