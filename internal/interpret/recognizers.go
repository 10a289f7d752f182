package interpret

import (
	"regexp"
	"strings"
)

// --- strict JSON ---

// strictJSONRecognizer handles responses that are (or contain) a JSON
// object carrying an "action" or "role" member. The object is clipped
// from the first '{' to the last '}' so commentary around it is
// tolerated, then repaired and parsed with member order preserved.
type strictJSONRecognizer struct{}

var actionShapeRe = regexp.MustCompile(`(?ms)^\s*\{.*"(?:action|role)"\s*:`)

func (r *strictJSONRecognizer) Name() string { return "strict-json" }

func (r *strictJSONRecognizer) TryRecognize(text string) (Result, bool) {
	if !actionShapeRe.MatchString(text) {
		return Result{}, false
	}

	clipped := Clip(text)
	if clipped == "" {
		return Result{}, true
	}

	obj, err := ParseObject(Repair(clipped))
	if err != nil {
		// Strict-JSON shape that will not parse degrades to plain
		// text; later heuristics must not run on it.
		return Result{}, true
	}

	return fromObject(obj), true
}

// --- tagged markup ---

// Vendor delimiter tokens wrapping tool-call markup. The wrapped
// fragment is "function<sep>name" followed by a JSON argument blob
// that is frequently malformed, so arguments are extracted with
// targeted sub-patterns per known capability instead of a parser.
const (
	dsCallBegin = "<｜tool▁call▁begin｜>"
	dsCallEnd   = "<｜tool▁call▁end｜>"
	dsSep       = "<｜tool▁sep｜>"

	tagCallOpen  = "<tool_call>"
	tagCallClose = "</tool_call>"
)

type taggedMarkupRecognizer struct {
	known []Capability
}

func (r *taggedMarkupRecognizer) Name() string { return "tagged-markup" }

func (r *taggedMarkupRecognizer) TryRecognize(text string) (Result, bool) {
	fragment, ok := clipTagged(text)
	if !ok {
		return Result{}, false
	}

	for _, c := range r.known {
		idx := strings.Index(fragment, c.Name)
		if idx == -1 {
			continue
		}
		rest := fragment[idx+len(c.Name):]
		value, ok := firstArgumentValue(rest)
		if !ok {
			continue
		}
		return Result{Call: &ToolCallRequest{
			Name: c.Name,
			Args: []Argument{{Name: c.PrimaryArg, Value: value}},
		}}, true
	}

	// Markup present but no known capability name inside it.
	return Result{}, true
}

// clipTagged extracts the fragment between vendor delimiters. A
// missing end token takes the rest of the text, matching how models
// truncate.
func clipTagged(text string) (string, bool) {
	for _, tok := range [2][2]string{{dsCallBegin, dsCallEnd}, {tagCallOpen, tagCallClose}} {
		start := strings.Index(text, tok[0])
		if start == -1 {
			continue
		}
		frag := text[start+len(tok[0]):]
		if end := strings.Index(frag, tok[1]); end != -1 {
			frag = frag[:end]
		}
		return frag, true
	}
	return "", false
}

// firstArgumentValue finds the first `: "value"` pair in the fragment,
// falling back to the first quote-delimited literal that is not
// immediately followed by a colon (which would make it a key).
var colonValueRe = regexp.MustCompile(`:\s*"((?:[^"\\]|\\.)*)"`)
var quotedLiteralRe = regexp.MustCompile(`"((?:[^"\\]|\\.)*)"(\s*:)?`)

func firstArgumentValue(s string) (string, bool) {
	if m := colonValueRe.FindStringSubmatch(s); m != nil && m[1] != "" {
		return unescape(m[1]), true
	}
	for _, m := range quotedLiteralRe.FindAllStringSubmatch(s, -1) {
		if m[2] == "" && m[1] != "" {
			return unescape(m[1]), true
		}
	}
	return "", false
}

func unescape(s string) string {
	s = strings.ReplaceAll(s, `\"`, `"`)
	s = strings.ReplaceAll(s, `\\`, `\`)
	return s
}

// --- pseudo-code fallback ---

// pseudoCodeRecognizer catches models that answer with a source-code
// looking invocation, typically inside a python code fence:
//
//	```python
//	webSearch({"searchQuery": "current Ethereum price"})
//	```
//
// It never executes anything; it only pattern-matches hint words for a
// known capability plus a call-like "(" and lifts the first quoted
// literal out as that capability's primary argument.
type pseudoCodeRecognizer struct {
	known []Capability
}

func (r *pseudoCodeRecognizer) Name() string { return "pseudo-code" }

var anyQuotedRe = regexp.MustCompile("[\"'`]([^\"'`]+)[\"'`]")

func (r *pseudoCodeRecognizer) TryRecognize(text string) (Result, bool) {
	if !strings.Contains(text, "(") {
		return Result{}, false
	}
	lower := strings.ToLower(text)

	for _, c := range r.known {
		if len(c.Hints) == 0 || !containsAll(lower, c.Hints) {
			continue
		}

		literal := ""
		for _, m := range anyQuotedRe.FindAllStringSubmatch(text, -1) {
			v := strings.TrimSpace(m[1])
			if v == "" || isHintWord(v, c.Hints) {
				continue
			}
			literal = v
			break
		}
		if literal == "" {
			continue
		}

		return Result{Call: &ToolCallRequest{
			Name: c.Name,
			Args: []Argument{{Name: c.PrimaryArg, Value: literal}},
		}}, true
	}

	return Result{}, false
}

func containsAll(s string, words []string) bool {
	for _, w := range words {
		if !strings.Contains(s, w) {
			return false
		}
	}
	return true
}

// isHintWord filters out quoted fragments that are just the argument
// key or hint word itself (e.g. "searchQuery" in JSON-style calls).
func isHintWord(v string, hints []string) bool {
	lv := strings.ToLower(v)
	if strings.ContainsAny(v, " \t/.:?") {
		return false // phrases and URLs are payload, not keys
	}
	for _, h := range hints {
		if strings.Contains(lv, h) {
			return true
		}
	}
	return false
}
