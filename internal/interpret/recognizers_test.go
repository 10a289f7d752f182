package interpret

import "testing"

func TestTaggedMarkupRecognizer(t *testing.T) {
	in := New(testCaps)

	tests := []struct {
		name    string
		text    string
		wantArg string
	}{
		{
			name:    "vendor delimiters with json blob",
			text:    "<｜tool▁call▁begin｜>function<｜tool▁sep｜>web_search\n```json\n{\"query\": \"bitcoin price\"}\n```<｜tool▁call▁end｜>",
			wantArg: "bitcoin price",
		},
		{
			name:    "missing end token",
			text:    "<｜tool▁call▁begin｜>function<｜tool▁sep｜>web_search {\"query\": \"truncated output\"",
			wantArg: "truncated output",
		},
		{
			name:    "xml style tags",
			text:    `<tool_call>{"name": "web_search", "arguments": {"query": "go 1.24 release"}}</tool_call>`,
			wantArg: "go 1.24 release",
		},
		{
			name:    "garbled arguments fall back to quoted literal",
			text:    `<tool_call>web_search "ethereum news"</tool_call>`,
			wantArg: "ethereum news",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := in.Interpret(tt.text)
			if got.Call == nil {
				t.Fatalf("expected call, got text %q", got.Text)
			}
			if got.Call.Name != "web_search" {
				t.Fatalf("call name = %q", got.Call.Name)
			}
			if len(got.Call.Args) != 1 || got.Call.Args[0].Value != tt.wantArg {
				t.Fatalf("args = %+v, want primary %q", got.Call.Args, tt.wantArg)
			}
		})
	}
}

func TestTaggedMarkupUnknownCapabilityDegrades(t *testing.T) {
	in := New(testCaps)

	text := `<tool_call>{"name": "launch_missiles", "arguments": {"count": "1"}}</tool_call>`
	got := in.Interpret(text)
	if got.Call != nil {
		t.Fatalf("unexpected call to %s", got.Call.Name)
	}
	// Markup matched but nothing salvageable: the original text comes
	// back untouched, later recognizers do not run.
	if got.Text != text {
		t.Fatalf("text = %q, want original", got.Text)
	}
}

func TestPseudoCodeRecognizer(t *testing.T) {
	in := New(testCaps)

	tests := []struct {
		name     string
		text     string
		wantName string
		wantArg  string
	}{
		{
			name:     "python fence",
			text:     "```python\nweb_search({\"searchQuery\": \"current Ethereum price\"})\n```",
			wantName: "web_search",
			wantArg:  "current Ethereum price",
		},
		{
			name:     "bare invocation",
			text:     `webSearch("latest npm vulnerability")`,
			wantName: "web_search",
			wantArg:  "latest npm vulnerability",
		},
		{
			name:     "weather call",
			text:     `get_weather_for("Lisbon")`,
			wantName: "city_to_weather",
			wantArg:  "Lisbon",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := in.Interpret(tt.text)
			if got.Call == nil {
				t.Fatalf("expected call, got text %q", got.Text)
			}
			if got.Call.Name != tt.wantName {
				t.Fatalf("call name = %q, want %q", got.Call.Name, tt.wantName)
			}
			if len(got.Call.Args) != 1 || got.Call.Args[0].Value != tt.wantArg {
				t.Fatalf("args = %+v, want %q", got.Call.Args, tt.wantArg)
			}
		})
	}
}

func TestPseudoCodeIgnoresOrdinaryProse(t *testing.T) {
	in := New(testCaps)

	// Hint words present but no quoted payload: must stay plain text.
	got := in.Interpret("You could search the web (I recommend it).")
	if got.Call != nil {
		t.Fatalf("unexpected call to %s", got.Call.Name)
	}

	// Quoted literal that is itself a hint-like key is not payload.
	got = in.Interpret(`web search: call with ("searchQuery")`)
	if got.Call != nil {
		t.Fatalf("unexpected call to %s", got.Call.Name)
	}
}
