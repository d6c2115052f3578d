package parser

import (
	"fmt"
	"math/rand/v2"
	"strings"
	"testing"
	"time"

	"github.com/abdul-hamid-achik/toolloop/internal/errors"
	"github.com/abdul-hamid-achik/toolloop/internal/tools"
)

// testRegistry maps tool names to the kind whose parameters they take.
type testRegistry map[string]tools.Kind

func (r testRegistry) Lookup(name string) (tools.Schema, bool) {
	kind, ok := r[name]
	if !ok {
		return tools.Schema{}, false
	}
	return tools.Schema{Name: name, Kind: kind}, true
}

var registry = testRegistry{
	"writeFile":          tools.KindWriteToFile,
	"readFile":           tools.KindReadFile,
	"write_to_file":      tools.KindWriteToFile,
	"attempt_completion": tools.KindAttemptCompletion,
}

type completed struct {
	inv    Invocation
	params tools.Params
}

type closingError struct {
	inv Invocation
	err error
}

type validationError struct {
	inv Invocation
	err error
}

// recorder captures every event in order.
type recorder struct {
	updates    []Invocation
	completes  []completed
	invalid    []validationError
	unknown    []error
	closing    []closingError
	eventOrder []string
}

func (r *recorder) OnParameterUpdate(inv Invocation) {
	r.updates = append(r.updates, inv)
	r.eventOrder = append(r.eventOrder, "update")
}

func (r *recorder) OnInvocationComplete(inv Invocation, params tools.Params) {
	r.completes = append(r.completes, completed{inv, params})
	r.eventOrder = append(r.eventOrder, "complete")
}

func (r *recorder) OnValidationError(inv Invocation, err error) {
	r.invalid = append(r.invalid, validationError{inv, err})
	r.eventOrder = append(r.eventOrder, "invalid")
}

func (r *recorder) OnUnknownToolError(err error) {
	r.unknown = append(r.unknown, err)
	r.eventOrder = append(r.eventOrder, "unknown")
}

func (r *recorder) OnStreamClosingError(inv Invocation, err error) {
	r.closing = append(r.closing, closingError{inv, err})
	r.eventOrder = append(r.eventOrder, "closing")
}

func (r *recorder) errorCount() int {
	return len(r.invalid) + len(r.unknown) + len(r.closing)
}

func newTestParser(opts Options) (*Parser, *recorder) {
	rec := &recorder{}
	return New(registry, rec, opts), rec
}

// streamChars feeds input one rune at a time and returns the display text.
func streamChars(p *Parser, input string) string {
	var out strings.Builder
	for _, r := range input {
		out.WriteString(p.AppendText(string(r)))
	}
	out.WriteString(p.EndParsing())
	return out.String()
}

func TestParser_WriteFileScenario(t *testing.T) {
	p, rec := newTestParser(DefaultOptions())

	streamChars(p, `<tool name="writeFile"><path>/tmp/a.txt</path><content>hi</content></tool>`)

	if len(rec.updates) != 2 {
		t.Fatalf("expected 2 parameter updates, got %d", len(rec.updates))
	}
	if got := rec.updates[0].Params; len(got) != 1 || got["path"] != "/tmp/a.txt" {
		t.Errorf("first update = %v", got)
	}
	if got := rec.updates[1].Params; len(got) != 2 || got["content"] != "hi" {
		t.Errorf("second update = %v", got)
	}

	if len(rec.completes) != 1 {
		t.Fatalf("expected 1 completion, got %d", len(rec.completes))
	}
	c := rec.completes[0]
	if c.inv.Name != "writeFile" {
		t.Errorf("tool name = %q", c.inv.Name)
	}
	want := tools.WriteToFileParams{Path: "/tmp/a.txt", Content: "hi"}
	if c.params != want {
		t.Errorf("params = %+v, want %+v", c.params, want)
	}
	if c.inv.ID == "" || c.inv.ID != rec.updates[0].ID {
		t.Errorf("invocation id not stable: update %q, complete %q", rec.updates[0].ID, c.inv.ID)
	}
	if rec.errorCount() != 0 {
		t.Errorf("unexpected errors: %+v", rec)
	}
}

func TestParser_Completeness(t *testing.T) {
	tests := []struct {
		name   string
		tool   string
		params [][2]string
	}{
		{"one parameter", "attempt_completion", [][2]string{{"result", "done"}}},
		{"two parameters", "writeFile", [][2]string{{"path", "a.go"}, {"content", "package a"}}},
		{"three parameters", "readFile", [][2]string{{"path", "a.go"}, {"start_line", "1"}, {"end_line", "9"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var sb strings.Builder
			fmt.Fprintf(&sb, `<tool name="%s">`, tt.tool)
			for _, kv := range tt.params {
				fmt.Fprintf(&sb, "\n<%s>%s</%s>", kv[0], kv[1], kv[0])
			}
			sb.WriteString("\n</tool>")

			p, rec := newTestParser(DefaultOptions())
			streamChars(p, sb.String())

			n := len(tt.params)
			if len(rec.updates) != n {
				t.Fatalf("expected %d updates, got %d", n, len(rec.updates))
			}
			for i, u := range rec.updates {
				if len(u.Params) != i+1 {
					t.Errorf("update %d carries %d params, want %d", i, len(u.Params), i+1)
				}
			}
			if len(rec.completes) != 1 {
				t.Fatalf("expected 1 completion, got %d (%v)", len(rec.completes), rec.eventOrder)
			}
			if last := rec.eventOrder[len(rec.eventOrder)-1]; last != "complete" {
				t.Errorf("last event = %s", last)
			}
			final := rec.updates[n-1].Params
			for _, kv := range tt.params {
				if final[kv[0]] != kv[1] {
					t.Errorf("param %s = %q, want %q", kv[0], final[kv[0]], kv[1])
				}
			}
		})
	}
}

func TestParser_ChunkingDoesNotMatter(t *testing.T) {
	input := "I'll write it.\n<tool name=\"writeFile\">\n<path>a.txt</path>\n<content><b>x</b> & y</content>\n</tool>\nDone."
	wantDisplay := "I'll write it.\n\nDone."

	rng := rand.New(rand.NewPCG(1, 2))
	for i := 0; i < 200; i++ {
		p, rec := newTestParser(DefaultOptions())
		var display strings.Builder
		rest := input
		for rest != "" {
			n := 1 + rng.IntN(12)
			if n > len(rest) {
				n = len(rest)
			}
			display.WriteString(p.AppendText(rest[:n]))
			rest = rest[n:]
		}
		display.WriteString(p.EndParsing())

		if display.String() != wantDisplay {
			t.Fatalf("case %d: display = %q, want %q", i, display.String(), wantDisplay)
		}
		if len(rec.updates) != 2 || len(rec.completes) != 1 || rec.errorCount() != 0 {
			t.Fatalf("case %d: events = %v", i, rec.eventOrder)
		}
		got := rec.completes[0].params.(tools.WriteToFileParams)
		if got.Content != "<b>x</b> & y" {
			t.Fatalf("case %d: content = %q", i, got.Content)
		}
	}
}

func TestParser_Resilience(t *testing.T) {
	p, rec := newTestParser(DefaultOptions())

	streamChars(p, `<tool name="writeFile"><a>v`)

	if len(rec.closing) != 1 {
		t.Fatalf("expected 1 closing error, got %d", len(rec.closing))
	}
	if len(rec.completes) != 0 {
		t.Errorf("expected no completion, got %d", len(rec.completes))
	}
	ce := rec.closing[0]
	if code := errors.GetCode(ce.err); code != "unclosed_tool_tag" {
		t.Errorf("code = %q", code)
	}
	if ce.inv.Name != "writeFile" || ce.inv.Params["a"] != "v" {
		t.Errorf("abandoned invocation = %+v", ce.inv)
	}
	if p.InInvocation() {
		t.Error("invocation still open after EndParsing")
	}
}

func TestParser_UnknownToolSilence(t *testing.T) {
	p, rec := newTestParser(DefaultOptions())
	input := `<tool name="browser_action"><url>https://example.com</url><action><tool>nested</tool></action></tool>`

	display := streamChars(p, input)

	if len(rec.eventOrder) != 0 {
		t.Errorf("expected no events, got %v", rec.eventOrder)
	}
	if display != input {
		t.Errorf("unknown tool text should pass through, got %q", display)
	}

	// The parser is ready for the next known tool.
	streamChars(p, `<tool name="attempt_completion"><result>ok</result></tool>`)
	if len(rec.completes) != 1 {
		t.Errorf("expected completion after unknown tool, got %v", rec.eventOrder)
	}
}

func TestParser_MissingName(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"no attributes", `<tool><path>a</path></tool>`},
		{"other attribute", `<tool id="3"><path>a</path></tool>`},
		{"empty name", `<tool name=""><path>a</path></tool>`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, rec := newTestParser(DefaultOptions())
			streamChars(p, tt.input)

			if len(rec.unknown) != 1 {
				t.Fatalf("expected 1 unknown-tool error, got %v", rec.eventOrder)
			}
			if code := errors.GetCode(rec.unknown[0]); code != "malformed_tool_tag" {
				t.Errorf("code = %q", code)
			}
			if len(rec.updates) != 0 || len(rec.completes) != 0 || len(rec.closing) != 0 {
				t.Errorf("unexpected events %v", rec.eventOrder)
			}
		})
	}
}

func TestParser_MismatchedClosingTag(t *testing.T) {
	tests := []struct {
		name        string
		input       string
		wantDisplay string
		wantParams  map[string]string
	}{
		{
			name:        "wrong close at tool level",
			input:       `<tool name="writeFile"><path>a</path></oops>after`,
			wantDisplay: "after",
			wantParams:  map[string]string{"path": "a"},
		},
		{
			name:        "tool closed inside parameter",
			input:       `<tool name="writeFile"><path>a</tool>after`,
			wantDisplay: "after",
			wantParams:  map[string]string{"path": "a"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, rec := newTestParser(DefaultOptions())
			var display strings.Builder
			for _, r := range tt.input {
				display.WriteString(p.AppendText(string(r)))
			}

			// Reported before the stream ends.
			if len(rec.closing) != 1 {
				t.Fatalf("expected 1 closing error before EndParsing, got %v", rec.eventOrder)
			}
			if code := errors.GetCode(rec.closing[0].err); code != "mismatched_closing_tag" {
				t.Errorf("code = %q", code)
			}
			for k, v := range tt.wantParams {
				if rec.closing[0].inv.Params[k] != v {
					t.Errorf("param %s = %q, want %q", k, rec.closing[0].inv.Params[k], v)
				}
			}

			display.WriteString(p.EndParsing())
			if display.String() != tt.wantDisplay {
				t.Errorf("display = %q, want %q", display.String(), tt.wantDisplay)
			}
			if len(rec.closing) != 1 || len(rec.completes) != 0 {
				t.Errorf("events = %v", rec.eventOrder)
			}
		})
	}
}

func TestParser_ValidationError(t *testing.T) {
	p, rec := newTestParser(DefaultOptions())

	streamChars(p, `<tool name="writeFile"><content>x</content></tool><tool name="attempt_completion"><result>r</result></tool>`)

	if len(rec.invalid) != 1 {
		t.Fatalf("expected 1 validation error, got %v", rec.eventOrder)
	}
	if code := errors.GetCode(rec.invalid[0].err); code != "tool_validation_failed" {
		t.Errorf("code = %q", code)
	}
	if _, ok := errors.GetFields(rec.invalid[0].err)["path"]; !ok {
		t.Errorf("expected a path field error, got %v", errors.GetFields(rec.invalid[0].err))
	}
	if len(rec.completes) != 1 || rec.completes[0].inv.Name != "attempt_completion" {
		t.Errorf("parsing should continue after a validation error: %v", rec.eventOrder)
	}
}

func TestParser_SequentialInvocations(t *testing.T) {
	p, rec := newTestParser(DefaultOptions())
	input := "First.\n<tool name=\"readFile\"><path>a</path></tool>\nSecond.\n<tool name=\"readFile\"><path>b</path></tool>"

	display := streamChars(p, input)

	if display != "First.\n\nSecond.\n" {
		t.Errorf("display = %q", display)
	}
	if len(rec.completes) != 2 {
		t.Fatalf("expected 2 completions, got %d", len(rec.completes))
	}
	if rec.completes[0].inv.ID == rec.completes[1].inv.ID {
		t.Error("invocations share an id")
	}
	paths := []string{
		rec.completes[0].params.(tools.ReadFileParams).Path,
		rec.completes[1].params.(tools.ReadFileParams).Path,
	}
	if paths[0] != "a" || paths[1] != "b" {
		t.Errorf("paths = %v", paths)
	}
}

func TestParser_Passthrough(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"plain text", "hello world"},
		{"other tags", "<thinking>\nplan it\n</thinking>"},
		{"comparison", "if a < b && c > d {"},
		{"html comment", "<!-- note -->"},
		{"unfinished tag at end", "see <thin"},
		{"unicode", "héllo → 世界"},
		{"stray closing tag", "</tool> and </path>"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, rec := newTestParser(DefaultOptions())
			if got := streamChars(p, tt.input); got != tt.input {
				t.Errorf("display = %q, want %q", got, tt.input)
			}
			if len(rec.eventOrder) != 0 {
				t.Errorf("unexpected events %v", rec.eventOrder)
			}
		})
	}
}

func TestParser_ParameterValues(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"trimmed", "\n   spaced out \n", "spaced out"},
		{"markup kept", "<div class=\"a\">hi</div>\n<img src=\"a.png\">", "<div class=\"a\">hi</div>\n<img src=\"a.png\">"},
		{"nested same name", "a<content>b</content>c", "a<content>b</content>c"},
		{"less than", "if x < 3 {}", "if x < 3 {}"},
		{"backticks", "use `<b>` here", "use `<b>` here"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, rec := newTestParser(DefaultOptions())
			streamChars(p, `<tool name="writeFile"><path>f</path><content>`+tt.content+`</content></tool>`)
			if len(rec.completes) != 1 {
				t.Fatalf("expected completion, got %v", rec.eventOrder)
			}
			got := rec.completes[0].params.(tools.WriteToFileParams).Content
			if got != tt.want {
				t.Errorf("content = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestParser_CodeSpans(t *testing.T) {
	input := "Use `<tool name=\"writeFile\">` to write."

	p, rec := newTestParser(DefaultOptions())
	if got := streamChars(p, input); got != input {
		t.Errorf("display = %q", got)
	}
	if len(rec.eventOrder) != 0 {
		t.Errorf("tag inside a code span was parsed: %v", rec.eventOrder)
	}

	opts := DefaultOptions()
	opts.CodeSpans = false
	p, rec = newTestParser(opts)
	streamChars(p, input)
	if len(rec.closing) != 1 {
		t.Errorf("without code spans the tag should open an invocation, got %v", rec.eventOrder)
	}
}

func TestParser_LegacyTags(t *testing.T) {
	input := "<write_to_file>\n<path>a.txt</path>\n<content>x</content>\n</write_to_file>"

	p, rec := newTestParser(DefaultOptions())
	streamChars(p, input)
	if len(rec.completes) != 1 {
		t.Fatalf("expected legacy invocation to complete, got %v", rec.eventOrder)
	}
	if rec.completes[0].inv.Name != "write_to_file" {
		t.Errorf("name = %q", rec.completes[0].inv.Name)
	}

	opts := DefaultOptions()
	opts.LegacyTags = false
	p, rec = newTestParser(opts)
	if got := streamChars(p, input); got != input {
		t.Errorf("legacy tags disabled: display = %q", got)
	}
	if len(rec.eventOrder) != 0 {
		t.Errorf("legacy tags disabled: events %v", rec.eventOrder)
	}
}

func TestParser_CustomContainer(t *testing.T) {
	p, rec := newTestParser(Options{ContainerTag: "action"})
	streamChars(p, `<action name='readFile'><path>x</path></action><tool name="readFile"><path>y</path></tool>`)

	if len(rec.completes) != 1 {
		t.Fatalf("expected 1 completion, got %v", rec.eventOrder)
	}
	if got := rec.completes[0].params.(tools.ReadFileParams).Path; got != "x" {
		t.Errorf("path = %q", got)
	}
}

func TestParser_SelfClosing(t *testing.T) {
	p, rec := newTestParser(DefaultOptions())
	streamChars(p, `<tool name="writeFile"><path>a</path><content/></tool>`)

	if len(rec.updates) != 2 || len(rec.completes) != 1 {
		t.Fatalf("events = %v", rec.eventOrder)
	}
	if got := rec.completes[0].params.(tools.WriteToFileParams); got.Content != "" || got.Path != "a" {
		t.Errorf("params = %+v", got)
	}
}

func TestParser_IDsAndTimestamps(t *testing.T) {
	p, rec := newTestParser(DefaultOptions())
	clock := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	p.now = func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}
	n := 0
	p.newID = func() string {
		n++
		return fmt.Sprintf("inv-%d", n)
	}

	streamChars(p, `<tool name="readFile"><path>a</path></tool><tool name="readFile"><path>b</path></tool>`)

	if len(rec.completes) != 2 {
		t.Fatalf("events = %v", rec.eventOrder)
	}
	first, second := rec.completes[0].inv, rec.completes[1].inv
	if first.ID != "inv-1" || second.ID != "inv-2" {
		t.Errorf("ids = %q, %q", first.ID, second.ID)
	}
	if !first.UpdatedAt.After(first.StartedAt) {
		t.Errorf("UpdatedAt %v not after StartedAt %v", first.UpdatedAt, first.StartedAt)
	}
	if !second.StartedAt.After(first.UpdatedAt) {
		t.Error("second invocation should start after the first was updated")
	}
}

func TestParser_EventsDoNotAlias(t *testing.T) {
	p, rec := newTestParser(DefaultOptions())
	streamChars(p, `<tool name="writeFile"><path>a</path><content>b</content></tool>`)

	if len(rec.updates) != 2 {
		t.Fatalf("events = %v", rec.eventOrder)
	}
	if _, ok := rec.updates[0].Params["content"]; ok {
		t.Error("first update was mutated by a later parameter")
	}
}

func TestParser_Reset(t *testing.T) {
	p, rec := newTestParser(DefaultOptions())
	p.AppendText(`<tool name="writeFile"><path>a`)
	if !p.InInvocation() {
		t.Fatal("expected open invocation")
	}
	p.Reset()
	if p.InInvocation() || p.State() != StateText {
		t.Errorf("state after reset: %s, in invocation %v", p.State(), p.InInvocation())
	}
	if out := p.EndParsing(); out != "" {
		t.Errorf("EndParsing after reset returned %q", out)
	}
	if len(rec.closing) != 0 {
		t.Errorf("reset should not report an error, got %v", rec.eventOrder)
	}
}

func TestParser_States(t *testing.T) {
	p, _ := newTestParser(DefaultOptions())
	steps := []struct {
		input string
		want  State
	}{
		{"hi ", StateText},
		{"<", StateTagOpen},
		{"tool", StateTagName},
		{` name="readFile"`, StateAttributes},
		{">", StateContent},
		{"<path>x</", StateTagClose},
		{"path>", StateContent},
		{"</tool>", StateText},
	}
	for _, s := range steps {
		p.AppendText(s.input)
		if p.State() != s.want {
			t.Errorf("after %q: state %s, want %s", s.input, p.State(), s.want)
		}
	}
}

func TestParser_NilHandler(t *testing.T) {
	p := New(registry, nil, DefaultOptions())
	if got := streamChars(p, `x<tool name="readFile"><path>a</path></tool>y<tool name="readFile">`); got != "xy" {
		t.Errorf("display = %q", got)
	}
}

func TestStateString(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateText, "TEXT"},
		{StateTagOpen, "TAG_OPEN"},
		{StateTagName, "TAG_NAME"},
		{StateAttributes, "ATTRIBUTES"},
		{StateTagClose, "TAG_CLOSE"},
		{StateContent, "CONTENT"},
		{State(42), "UNKNOWN"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", tt.state, got, tt.want)
		}
	}
}
