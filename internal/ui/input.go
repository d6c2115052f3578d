package ui

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
)

// InputHandler reads answers to prompts, one line at a time.
type InputHandler struct {
	r   *bufio.Reader
	out io.Writer
}

// NewInputHandler reads stdin and prompts on stdout.
func NewInputHandler() *InputHandler {
	return NewInputHandlerFrom(os.Stdin, os.Stdout)
}

func NewInputHandlerFrom(r io.Reader, prompts io.Writer) *InputHandler {
	return &InputHandler{r: bufio.NewReader(r), out: prompts}
}

// ReadLine prints prompt and returns the next line, trimmed. A final line
// without a newline is still returned; io.EOF is reported only once input
// is exhausted.
func (h *InputHandler) ReadLine(prompt string) (string, error) {
	fmt.Fprint(h.out, prompt)
	line, err := h.r.ReadString('\n')
	if err == io.EOF && line != "" {
		err = nil
	}
	return strings.TrimSpace(line), err
}
