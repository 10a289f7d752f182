// Package interpret classifies raw model output as either a
// natural-language answer or a request to invoke a capability.
//
// Models encode tool calls inconsistently: strict JSON, JSON buried in
// commentary, vendor-specific delimiter markup, or pseudo-code. The
// interpreter runs an ordered chain of recognizers over the text;
// the first recognizer that matches decides the outcome. Recognizers
// are independent strategies so they can be added, removed, and tested
// without touching the orchestrator.
package interpret

import (
	"regexp"
	"strings"
)

// ToolCallRequest is the canonical normalized form of a recognized
// tool call. Args preserves the order the model emitted the keys in;
// the dispatcher passes values positionally in that order.
type ToolCallRequest struct {
	Name string
	Args []Argument
}

// Argument is one named argument of a tool call.
type Argument struct {
	Name  string
	Value any
}

// Result is the outcome of interpreting one model response. Exactly
// one of Call or Text is meaningful: a non-nil Call is a tool-call
// request, otherwise Text is the plain-text answer.
type Result struct {
	Call *ToolCallRequest
	Text string
}

// Recognizer is one strategy for extracting a tool call from raw text.
type Recognizer interface {
	// Name identifies the recognizer in logs.
	Name() string

	// TryRecognize inspects text. matched=false means the recognizer
	// has no opinion and the chain continues. matched=true with a nil
	// Call and empty Text means the text had the recognizer's shape
	// but could not be salvaged; the interpreter falls back to
	// PlainText(original) without consulting later recognizers.
	TryRecognize(text string) (out Result, matched bool)
}

// Interpreter runs a recognizer chain, first match wins.
type Interpreter struct {
	chain []Recognizer
}

// Capability describes a known tool to the fallback recognizers:
// its registry name and the primary argument the heuristics bind an
// extracted literal to.
type Capability struct {
	Name       string
	PrimaryArg string
	// Hints are lowercase fragments that suggest this capability in
	// pseudo-code output (e.g., "search" near "web").
	Hints []string
}

// New creates an interpreter with the standard chain: strict JSON,
// tagged markup, pseudo-code fallback. known drives the targeted
// sub-patterns of the two fallback recognizers.
func New(known []Capability) *Interpreter {
	return &Interpreter{chain: []Recognizer{
		&strictJSONRecognizer{},
		&taggedMarkupRecognizer{known: known},
		&pseudoCodeRecognizer{known: known},
	}}
}

// NewWithChain creates an interpreter with an explicit recognizer
// chain. Used by tests and callers with custom strategies.
func NewWithChain(chain ...Recognizer) *Interpreter {
	return &Interpreter{chain: chain}
}

// Interpret classifies text. The zero-value outcome is
// PlainText(text) unchanged.
func (in *Interpreter) Interpret(text string) Result {
	for _, r := range in.chain {
		out, matched := r.TryRecognize(text)
		if !matched {
			continue
		}
		if out.Call != nil {
			return out
		}
		if out.Text != "" {
			return Result{Text: out.Text}
		}
		// Matched shape but unsalvageable: plain text, chain stops.
		break
	}
	return Result{Text: text}
}

// normalizeAction collapses whitespace and redundant hyphens, so
// "function - call", "function--call", and "function-call" compare
// equal.
var multiHyphenRe = regexp.MustCompile(`-{2,}`)

func normalizeAction(s string) string {
	s = strings.Join(strings.Fields(s), "")
	return multiHyphenRe.ReplaceAllString(s, "-")
}

// fromObject applies normalization and the acceptance rule to a parsed
// object. It returns a tool call, or a near-miss plain-text recovery,
// or a zero Result when the object is neither.
//
// Acceptance is deliberately permissive: a non-empty name and
// non-empty arguments plus either an "action" field (any value) or a
// "role" field. Models frequently omit or misname "action"; the rule
// trades false positives for fewer missed tool calls. Treat it as a
// tunable policy, not a contract.
func fromObject(obj *Object) Result {
	// Field aliasing for the encodings models actually produce.
	obj.Rename("function_name", "name")
	obj.Rename("parameters", "arguments")

	if action := obj.GetString("action"); action != "" {
		for i := range obj.Members {
			if obj.Members[i].Key == "action" {
				obj.Members[i].Value = normalizeAction(action)
			}
		}
	}

	name := obj.GetString("name")
	args, hasArgs := obj.Get("arguments")
	argObj, argsIsObject := args.(*Object)

	accepted := name != "" &&
		hasArgs && argsIsObject && len(argObj.Members) > 0 &&
		(obj.Has("action") || obj.Has("role"))

	if accepted {
		call := &ToolCallRequest{Name: name}
		for _, m := range argObj.Members {
			call.Args = append(call.Args, Argument{Name: m.Key, Value: m.Value})
		}
		return Result{Call: call}
	}

	// Near-miss recovery: a structured reply that carries the answer
	// in a content field should not be surfaced as raw JSON.
	content := obj.GetString("content")
	if content != "" && (obj.Has("action") || obj.GetString("role") == "assistant") {
		return Result{Text: content}
	}

	return Result{}
}

// reasoningCloseRe matches a leading chain-of-thought block that some
// models emit before the visible reply, ending at its closing marker.
var reasoningCloseRe = regexp.MustCompile(`(?s)\A\s*(?:<think>)?.*?</think>\s*`)

// StripReasoning removes a leading reasoning block delimited by a
// closing </think> marker, if present. Text without the marker is
// returned unchanged.
func StripReasoning(text string) string {
	if !strings.Contains(text, "</think>") {
		return text
	}
	return reasoningCloseRe.ReplaceAllString(text, "")
}

// LooksStructured reports whether text still looks like a raw JSON
// object. The orchestrator uses this to strip tool-call scaffolding at
// finalize and to detect an unrecoverable formatting failure.
func LooksStructured(text string) bool {
	t := strings.TrimSpace(text)
	return strings.HasPrefix(t, "{") && strings.Contains(t, "}")
}
