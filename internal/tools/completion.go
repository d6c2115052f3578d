package tools

import "context"

// AttemptCompletionTool ends the task with a final result. It has no side
// effects; the agent loop stops after it runs.
type AttemptCompletionTool struct{}

func (t *AttemptCompletionTool) Schema() Schema {
	return Schema{
		Name:        string(KindAttemptCompletion),
		Kind:        KindAttemptCompletion,
		Description: "Present the final result of the task once it is complete. Optionally give a command that demonstrates the result.",
		Parameters: []ParamSpec{
			{Name: "result", Description: "The final result of the task.", Required: true},
			{Name: "command", Description: "A command the user can run to see the result."},
		},
	}
}

func (t *AttemptCompletionTool) Permission() PermissionLevel {
	return PermissionRead
}

func (t *AttemptCompletionTool) Execute(_ context.Context, params Params) (string, error) {
	p := params.(AttemptCompletionParams)
	if p.Command != "" {
		return p.Result + "\n\nDemo command: " + p.Command, nil
	}
	return p.Result, nil
}
