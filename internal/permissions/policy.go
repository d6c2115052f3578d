// Package permissions decides whether a tool invocation may run.
package permissions

import (
	"fmt"
	"strings"
	"sync"

	"github.com/abdul-hamid-achik/toolloop/internal/tools"
)

// Mode is the approval policy selected with --approval.
type Mode int

const (
	ModeAsk      Mode = iota // reads run, writes and commands are confirmed
	ModeAuto                 // everything runs
	ModeStrict               // everything is confirmed
	ModeReadOnly             // reads run, everything else is refused
)

var modeNames = map[Mode]string{
	ModeAsk:      "ask",
	ModeAuto:     "auto",
	ModeStrict:   "strict",
	ModeReadOnly: "read-only",
}

func (m Mode) String() string {
	if s, ok := modeNames[m]; ok {
		return s
	}
	return "unknown"
}

// ParseMode maps a mode name to a Mode. The empty string selects ModeAsk.
func ParseMode(s string) (Mode, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	switch s {
	case "":
		return ModeAsk, nil
	case "readonly":
		return ModeReadOnly, nil
	}
	for m, name := range modeNames {
		if name == s {
			return m, nil
		}
	}
	return ModeAsk, fmt.Errorf("unknown permission mode %q (want auto, ask, strict or read-only)", s)
}

type verdict int

const (
	allow verdict = iota
	deny
	ask
)

// rules gives the verdict for each mode and permission level before any
// remembered answer is consulted.
var rules = map[Mode]map[tools.PermissionLevel]verdict{
	ModeAsk:      {tools.PermissionRead: allow, tools.PermissionWrite: ask, tools.PermissionExecute: ask},
	ModeAuto:     {tools.PermissionRead: allow, tools.PermissionWrite: allow, tools.PermissionExecute: allow},
	ModeStrict:   {tools.PermissionRead: ask, tools.PermissionWrite: ask, tools.PermissionExecute: ask},
	ModeReadOnly: {tools.PermissionRead: allow, tools.PermissionWrite: deny, tools.PermissionExecute: deny},
}

// InputHandler reads the user's answer to a prompt.
type InputHandler interface {
	ReadLine(prompt string) (string, error)
}

// OutputHandler shows what is being asked for.
type OutputHandler interface {
	PermissionPrompt(toolName string, level tools.PermissionLevel, description string)
}

const answerPrompt = "[y]es / [n]o / [a]lways / ne[v]er: "

// Policy answers approval requests for the dispatcher. Answers of "always"
// and "never" are remembered per tool for the rest of the process.
type Policy struct {
	mode Mode
	in   InputHandler
	out  OutputHandler

	mu         sync.Mutex
	remembered map[string]bool
}

func NewPolicy(mode Mode, in InputHandler, out OutputHandler) *Policy {
	return &Policy{mode: mode, in: in, out: out, remembered: map[string]bool{}}
}

func (p *Policy) Mode() Mode { return p.mode }

// Check reports whether toolName may run. It prompts only when the mode
// asks for this level and no answer was remembered; with no input handler
// such calls are refused.
func (p *Policy) Check(toolName string, level tools.PermissionLevel, description string) (bool, error) {
	v, ok := rules[p.mode][level]
	if !ok {
		v = ask
	}
	switch v {
	case allow:
		return true, nil
	case deny:
		return false, nil
	}

	p.mu.Lock()
	approved, known := p.remembered[toolName]
	p.mu.Unlock()
	if known {
		return approved, nil
	}
	if p.in == nil {
		return false, nil
	}

	if p.out != nil {
		p.out.PermissionPrompt(toolName, level, description)
	}
	answer, err := p.in.ReadLine(answerPrompt)
	if err != nil {
		return false, fmt.Errorf("read permission answer: %w", err)
	}
	return p.record(toolName, answer), nil
}

// record interprets an answer, remembering the sticky ones. Anything
// unrecognised is a refusal.
func (p *Policy) record(toolName, answer string) bool {
	var approved, sticky bool
	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "y", "yes":
		approved = true
	case "a", "always":
		approved, sticky = true, true
	case "v", "never":
		sticky = true
	}
	if sticky {
		p.mu.Lock()
		p.remembered[toolName] = approved
		p.mu.Unlock()
	}
	return approved
}
