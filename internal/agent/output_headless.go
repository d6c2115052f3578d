package agent

import (
	"fmt"
	"io"
	"os"
)

// HeadlessOutput is used when stdout is piped: model text goes to Out,
// warnings and errors to ErrOut, and tool progress is dropped.
type HeadlessOutput struct {
	discard
	Out    io.Writer
	ErrOut io.Writer
}

func NewHeadlessOutput() *HeadlessOutput {
	return &HeadlessOutput{Out: os.Stdout, ErrOut: os.Stderr}
}

func (h *HeadlessOutput) StreamText(text string) { fmt.Fprint(h.Out, text) }
func (h *HeadlessOutput) StreamDone()            { fmt.Fprintln(h.Out) }
func (h *HeadlessOutput) Error(err error)        { fmt.Fprintln(h.ErrOut, "Error:", err) }
func (h *HeadlessOutput) Warning(msg string)     { fmt.Fprintln(h.ErrOut, "Warning:", msg) }

// HeadlessInput refuses every approval prompt.
type HeadlessInput struct{}

func (*HeadlessInput) ReadLine(string) (string, error) { return "n", nil }
