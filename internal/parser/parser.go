// Package parser extracts tool invocations from a model's streamed text.
//
// The stream is read one rune at a time. Text outside tool tags is handed
// back to the caller for display; a container tag such as
//
//	<tool name="write_to_file"><path>a.txt</path><content>hi</content></tool>
//
// becomes an Invocation whose child tags are parameters.
package parser

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/abdul-hamid-achik/toolloop/internal/errors"
	"github.com/abdul-hamid-achik/toolloop/internal/tools"
)

// DefaultContainerTag is the outer tag that wraps a tool invocation.
const DefaultContainerTag = "tool"

// State is the position of the parser's state machine.
type State int

const (
	StateText       State = iota // outside any tag
	StateTagOpen                 // just read '<'
	StateTagName                 // reading an opening tag name
	StateAttributes              // reading attributes of an opening tag
	StateTagClose                // reading the name after "</"
	StateContent                 // inside an open tool or parameter tag
)

func (s State) String() string {
	switch s {
	case StateText:
		return "TEXT"
	case StateTagOpen:
		return "TAG_OPEN"
	case StateTagName:
		return "TAG_NAME"
	case StateAttributes:
		return "ATTRIBUTES"
	case StateTagClose:
		return "TAG_CLOSE"
	case StateContent:
		return "CONTENT"
	default:
		return "UNKNOWN"
	}
}

// Registry resolves tool names to schemas.
type Registry interface {
	Lookup(name string) (tools.Schema, bool)
}

// Options configures a Parser.
type Options struct {
	// ContainerTag is the outer tag name. Defaults to "tool".
	ContainerTag string `yaml:"container_tag"`
	// LegacyTags also accepts <read_file>...</read_file>, where the tag
	// name itself is a registered tool.
	LegacyTags bool `yaml:"legacy_tags"`
	// CodeSpans makes a backtick in text toggle a code span in which '<'
	// never starts a tag.
	CodeSpans bool `yaml:"code_spans"`
}

// DefaultOptions returns the options used when none are configured.
func DefaultOptions() Options {
	return Options{
		ContainerTag: DefaultContainerTag,
		LegacyTags:   true,
		CodeSpans:    true,
	}
}

// Parser is a streaming tag parser. It is not safe for concurrent use; one
// parser serves one model response.
type Parser struct {
	registry Registry
	handler  Handler
	opts     Options
	now      func() time.Time
	newID    func() string

	state      State
	tag        strings.Builder // raw text of the tag being read, from '<'
	name       strings.Builder
	attrs      strings.Builder
	quote      rune
	closeSpace bool // whitespace followed a closing tag's name
	inCode     bool
	display    strings.Builder

	// stack holds the open tags of the current invocation: the container
	// and, while one is open, the parameter.
	stack      []string
	inv        *Invocation
	paramBuf   strings.Builder
	paramDepth int

	// skipTag is the container of an unknown or malformed tool; its body
	// is passed through as text until the matching close.
	skipTag   string
	skipDepth int
}

// New creates a parser. A nil handler discards events.
func New(registry Registry, handler Handler, opts Options) *Parser {
	if opts.ContainerTag == "" {
		opts.ContainerTag = DefaultContainerTag
	}
	if handler == nil {
		handler = Handlers{}
	}
	return &Parser{
		registry: registry,
		handler:  handler,
		opts:     opts,
		now:      time.Now,
		newID:    uuid.NewString,
	}
}

// State returns the current state of the state machine.
func (p *Parser) State() State {
	return p.state
}

// InInvocation reports whether a tool invocation is open.
func (p *Parser) InInvocation() bool {
	return p.inv != nil
}

// AppendText feeds a chunk of the stream and returns the part of it that is
// plain text for display. Tags that turn out not to be tool tags are
// returned verbatim; the body of a tool invocation is not.
func (p *Parser) AppendText(chunk string) string {
	for _, r := range chunk {
		p.step(r)
	}
	return p.takeDisplay()
}

// EndParsing marks the end of the stream. An invocation that is still open
// is abandoned and reported through OnStreamClosingError. Any half-read tag
// outside an invocation is returned as text.
func (p *Parser) EndParsing() string {
	if p.state == StateTagOpen || p.state == StateTagName || p.state == StateAttributes || p.state == StateTagClose {
		p.revertTag()
	}
	if p.inv != nil {
		p.abandon(errors.UnclosedToolTag(p.stack[0]))
	}
	p.skipTag, p.skipDepth = "", 0
	p.inCode = false
	p.state = StateText
	return p.takeDisplay()
}

// Reset discards all state so the parser can read a new stream.
func (p *Parser) Reset() {
	p.state = StateText
	p.resetTag()
	p.inCode = false
	p.display.Reset()
	p.clearInvocation()
	p.skipTag, p.skipDepth = "", 0
}

func (p *Parser) step(r rune) {
	switch p.state {
	case StateText, StateContent:
		p.readText(r)
	case StateTagOpen:
		p.readTagOpen(r)
	case StateTagName:
		p.readTagName(r)
	case StateAttributes:
		p.readAttributes(r)
	case StateTagClose:
		p.readTagClose(r)
	}
}

func (p *Parser) readText(r rune) {
	if p.opts.CodeSpans && p.inv == nil {
		if r == '`' {
			p.inCode = !p.inCode
			p.emit("`")
			return
		}
		if p.inCode {
			p.emitRune(r)
			return
		}
	}
	if r == '<' {
		p.resetTag()
		p.tag.WriteRune(r)
		p.state = StateTagOpen
		return
	}
	p.emitRune(r)
}

func (p *Parser) readTagOpen(r rune) {
	switch {
	case r == '/':
		p.tag.WriteRune(r)
		p.state = StateTagClose
	case isNameStart(r):
		p.tag.WriteRune(r)
		p.name.WriteRune(r)
		p.state = StateTagName
	default:
		p.revertTag()
		p.step(r)
	}
}

func (p *Parser) readTagName(r rune) {
	switch {
	case r == '>':
		p.tag.WriteRune(r)
		p.openTag()
	case isNameChar(r):
		p.tag.WriteRune(r)
		p.name.WriteRune(r)
		p.checkTagLength()
	case r == ' ' || r == '\t' || r == '\n' || r == '\r' || r == '/':
		p.tag.WriteRune(r)
		p.attrs.WriteRune(r)
		p.state = StateAttributes
	default:
		p.revertTag()
		p.step(r)
	}
}

func (p *Parser) readAttributes(r rune) {
	if p.quote != 0 {
		if r == p.quote {
			p.quote = 0
		}
		p.tag.WriteRune(r)
		p.attrs.WriteRune(r)
		p.checkTagLength()
		return
	}
	switch r {
	case '>':
		p.tag.WriteRune(r)
		p.openTag()
	case '<':
		p.revertTag()
		p.step(r)
	case '"', '\'':
		p.quote = r
		fallthrough
	default:
		p.tag.WriteRune(r)
		p.attrs.WriteRune(r)
		p.checkTagLength()
	}
}

func (p *Parser) readTagClose(r rune) {
	switch {
	case r == '>' && p.name.Len() > 0:
		p.tag.WriteRune(r)
		p.closeTag()
	case !p.closeSpace && (isNameStart(r) || p.name.Len() > 0 && isNameChar(r)):
		p.tag.WriteRune(r)
		p.name.WriteRune(r)
		p.checkTagLength()
	case p.name.Len() > 0 && (r == ' ' || r == '\t'):
		p.tag.WriteRune(r)
		p.closeSpace = true
	default:
		p.revertTag()
		p.step(r)
	}
}

func (p *Parser) checkTagLength() {
	if p.tag.Len() > maxTagLength {
		p.revertTag()
	}
}

// revertTag gives up on the tag being read and treats its text as content.
func (p *Parser) revertTag() {
	raw := p.tag.String()
	p.resetTag()
	p.state = p.restingState()
	p.emit(raw)
}

func (p *Parser) resetTag() {
	p.tag.Reset()
	p.name.Reset()
	p.attrs.Reset()
	p.quote = 0
	p.closeSpace = false
}

func (p *Parser) restingState() State {
	if p.inv != nil {
		return StateContent
	}
	return StateText
}

func (p *Parser) openTag() {
	name := p.name.String()
	attrs := p.attrs.String()
	raw := p.tag.String()
	p.resetTag()
	defer func() { p.state = p.restingState() }()

	switch {
	case p.inv != nil && p.inParam():
		// Markup inside a parameter value is part of the value.
		if name == p.currentParam() {
			p.paramDepth++
		}
		p.paramBuf.WriteString(raw)

	case p.inv != nil:
		if selfClosing(attrs) {
			p.inv.Params[name] = ""
			p.inv.UpdatedAt = p.now()
			p.handler.OnParameterUpdate(p.inv.clone())
			return
		}
		p.stack = append(p.stack, name)
		p.paramBuf.Reset()
		p.paramDepth = 1

	case p.skipTag != "":
		if name == p.skipTag && !selfClosing(attrs) {
			p.skipDepth++
		}
		p.emit(raw)

	case name == p.opts.ContainerTag:
		toolName, ok := attribute(attrs, "name")
		if !ok || strings.TrimSpace(toolName) == "" {
			p.handler.OnUnknownToolError(errors.MalformedToolTag(name))
			p.skip(name, attrs)
			p.emit(raw)
			return
		}
		if _, known := p.registry.Lookup(toolName); !known {
			p.skip(name, attrs)
			p.emit(raw)
			return
		}
		p.begin(name, toolName)
		if selfClosing(attrs) {
			p.finish()
		}

	case p.opts.LegacyTags && p.isTool(name):
		p.begin(name, name)
		if selfClosing(attrs) {
			p.finish()
		}

	default:
		p.emit(raw)
	}
}

func (p *Parser) closeTag() {
	name := p.name.String()
	raw := p.tag.String()
	p.resetTag()
	defer func() { p.state = p.restingState() }()

	switch {
	case p.inv != nil && p.inParam():
		param := p.currentParam()
		switch name {
		case param:
			p.paramDepth--
			if p.paramDepth > 0 {
				p.paramBuf.WriteString(raw)
				return
			}
			p.inv.Params[param] = strings.TrimSpace(p.paramBuf.String())
			p.inv.UpdatedAt = p.now()
			p.stack = p.stack[:len(p.stack)-1]
			p.paramBuf.Reset()
			p.paramDepth = 0
			p.handler.OnParameterUpdate(p.inv.clone())
		case p.stack[0]:
			p.abandon(errors.MismatchedClosingTag(param, name))
		default:
			p.paramBuf.WriteString(raw)
		}

	case p.inv != nil:
		if name != p.stack[0] {
			p.abandon(errors.MismatchedClosingTag(p.stack[0], name))
			return
		}
		p.finish()

	case p.skipTag != "":
		if name == p.skipTag {
			p.skipDepth--
			if p.skipDepth == 0 {
				p.skipTag = ""
			}
		}
		p.emit(raw)

	default:
		p.emit(raw)
	}
}

func (p *Parser) begin(container, toolName string) {
	ts := p.now()
	p.inv = &Invocation{
		ID:        p.newID(),
		Name:      toolName,
		Params:    map[string]string{},
		StartedAt: ts,
		UpdatedAt: ts,
	}
	p.stack = append(p.stack[:0], container)
}

func (p *Parser) finish() {
	inv := p.inv.clone()
	p.clearInvocation()

	schema, ok := p.registry.Lookup(inv.Name)
	if !ok {
		p.handler.OnValidationError(inv, errors.ToolNotFound(inv.Name))
		return
	}
	params, err := schema.Validate(inv.Params)
	if err != nil {
		p.handler.OnValidationError(inv, err)
		return
	}
	p.handler.OnInvocationComplete(inv, params)
}

// abandon drops the open invocation and reports err. Text after this point
// is read as plain text again.
func (p *Parser) abandon(err error) {
	inv := p.inv.clone()
	if p.inParam() {
		// Keep what was read of the open parameter for the error report.
		inv.Params[p.currentParam()] = strings.TrimSpace(p.paramBuf.String())
	}
	p.clearInvocation()
	p.handler.OnStreamClosingError(inv, err)
}

func (p *Parser) clearInvocation() {
	p.inv = nil
	p.stack = p.stack[:0]
	p.paramBuf.Reset()
	p.paramDepth = 0
}

// skip passes the body of an unrecognised container through as text until
// its matching close.
func (p *Parser) skip(container, attrs string) {
	if selfClosing(attrs) {
		return
	}
	p.skipTag = container
	p.skipDepth = 1
}

func (p *Parser) inParam() bool {
	return len(p.stack) > 1
}

func (p *Parser) currentParam() string {
	return p.stack[len(p.stack)-1]
}

func (p *Parser) isTool(name string) bool {
	_, ok := p.registry.Lookup(name)
	return ok
}

// emit routes text to the open parameter, or to the display buffer when no
// invocation is open. Text between parameters of an invocation is dropped.
func (p *Parser) emit(s string) {
	switch {
	case p.inv == nil:
		p.display.WriteString(s)
	case p.inParam():
		p.paramBuf.WriteString(s)
	}
}

func (p *Parser) emitRune(r rune) {
	switch {
	case p.inv == nil:
		p.display.WriteRune(r)
	case p.inParam():
		p.paramBuf.WriteRune(r)
	}
}

func (p *Parser) takeDisplay() string {
	out := p.display.String()
	p.display.Reset()
	return out
}
