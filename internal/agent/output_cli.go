package agent

import "github.com/abdul-hamid-achik/toolloop/internal/ui"

// CLIOutput drives a terminal: progress goes through the output handler
// and approval answers come from the input handler.
type CLIOutput struct {
	*ui.OutputHandler
	*ui.InputHandler
}

var (
	_ AgentOutput = CLIOutput{}
	_ AgentInput  = CLIOutput{}
)
