package parser

import (
	"maps"
	"time"

	"github.com/abdul-hamid-achik/toolloop/internal/tools"
)

// Invocation is a tool call being read from the stream. Params holds the
// raw, trimmed parameter values collected so far.
type Invocation struct {
	ID        string
	Name      string
	Params    map[string]string
	StartedAt time.Time
	UpdatedAt time.Time
}

func (inv Invocation) clone() Invocation {
	inv.Params = maps.Clone(inv.Params)
	if inv.Params == nil {
		inv.Params = map[string]string{}
	}
	return inv
}

// Handler receives the lifecycle events of tool invocations. Every method is
// called synchronously from AppendText or EndParsing.
type Handler interface {
	// OnParameterUpdate fires each time a parameter tag closes, with every
	// parameter collected so far.
	OnParameterUpdate(inv Invocation)
	// OnInvocationComplete fires when the container closes and the
	// parameters validate against the tool's schema.
	OnInvocationComplete(inv Invocation, params tools.Params)
	// OnValidationError fires instead of OnInvocationComplete when the
	// parameters do not validate.
	OnValidationError(inv Invocation, err error)
	// OnUnknownToolError fires for a container tag without a name attribute.
	OnUnknownToolError(err error)
	// OnStreamClosingError fires when the invocation is abandoned: on a
	// closing tag that does not match, or at EndParsing inside a tool.
	OnStreamClosingError(inv Invocation, err error)
}

// Handlers adapts a set of optional functions to Handler.
type Handlers struct {
	ParameterUpdate    func(inv Invocation)
	InvocationComplete func(inv Invocation, params tools.Params)
	ValidationError    func(inv Invocation, err error)
	UnknownToolError   func(err error)
	StreamClosingError func(inv Invocation, err error)
}

func (h Handlers) OnParameterUpdate(inv Invocation) {
	if h.ParameterUpdate != nil {
		h.ParameterUpdate(inv)
	}
}

func (h Handlers) OnInvocationComplete(inv Invocation, params tools.Params) {
	if h.InvocationComplete != nil {
		h.InvocationComplete(inv, params)
	}
}

func (h Handlers) OnValidationError(inv Invocation, err error) {
	if h.ValidationError != nil {
		h.ValidationError(inv, err)
	}
}

func (h Handlers) OnUnknownToolError(err error) {
	if h.UnknownToolError != nil {
		h.UnknownToolError(err)
	}
}

func (h Handlers) OnStreamClosingError(inv Invocation, err error) {
	if h.StreamClosingError != nil {
		h.StreamClosingError(inv, err)
	}
}
