package agent

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/abdul-hamid-achik/toolloop/internal/config"
	ctxmgr "github.com/abdul-hamid-achik/toolloop/internal/context"
	"github.com/abdul-hamid-achik/toolloop/internal/llm"
	"github.com/abdul-hamid-achik/toolloop/internal/logging"
	"github.com/abdul-hamid-achik/toolloop/internal/parser"
	"github.com/abdul-hamid-achik/toolloop/internal/session"
	"github.com/abdul-hamid-achik/toolloop/internal/tools"
)

// maxNoProgressTurns is how many consecutive turns may pass without a
// successful tool call before the task is stopped.
const maxNoProgressTurns = 3

const basePrompt = `You are an autonomous coding agent working in a local repository. You complete the user's task step by step by calling tools.

## Calling tools
Call a tool by writing its tag in your response. Each parameter is a child tag:

<%[1]s name="read_file">
<path>src/main.go</path>
</%[1]s>

Tools run after your response ends, in the order you wrote them, and their results come back in the next message. Wait for those results before relying on them. When the task is done, call attempt_completion with the result. Do not end a response without a tool call.

## Guidelines
1. Read files before modifying them.
2. write_to_file replaces the whole file; always send the complete content.
3. Prefer search_files and list_files over guessing paths.
4. Keep explanations short.

# Tools

`

// Config holds agent configuration
type Config struct {
	LLM      llm.LLMClient
	Tools    ToolSet
	Approver Approver         // nil approves every call
	Sessions *session.Manager // nil disables persistence
	Output   AgentOutput
	Config   *config.Config
	Logger   *logging.Logger
	WorkDir  string // shown to the model; defaults to the process directory
}

// Agent runs tasks against a model, executing the tools it calls until the
// task completes.
type Agent struct {
	llm        llm.LLMClient
	tools      ToolSet
	sessions   *session.Manager
	output     AgentOutput
	config     *config.Config
	log        *logging.Logger
	contextMgr *ctxmgr.ContextManager
	dispatcher *Dispatcher

	systemPrompt string
	workDir      string

	// Track if we've shown the context warning this task
	shownContextWarning bool
}

// TaskResult reports how a task ended.
type TaskResult struct {
	SessionID  string
	Completed  bool
	Completion string
	Iterations int
	Usage      llm.Usage
	Cost       float64
}

// New creates an agent.
func New(cfg Config) *Agent {
	conf := cfg.Config
	if conf == nil {
		conf = config.DefaultConfig()
	}
	out := cfg.Output
	if out == nil {
		out = discard{}
	}
	workDir := cfg.WorkDir
	if workDir == "" {
		workDir, _ = os.Getwd()
	}

	opts := parser.Options{
		ContainerTag: conf.Parser.ContainerTag,
		LegacyTags:   conf.Parser.LegacyTags,
		CodeSpans:    conf.Parser.CodeSpans,
	}
	prompt := buildSystemPrompt(cfg.Tools, opts.ContainerTag, loadProjectInstructions(workDir))

	cm := ctxmgr.NewContextManager(prompt, ctxmgr.ContextConfig{
		ContextWindow:     conf.Context.ContextWindow,
		TruncateThreshold: conf.Context.TruncateThreshold,
		TruncateDivisor:   conf.Context.TruncateDivisor,
		HardLimitReserve:  conf.Context.HardLimitReserve,
		WarnThreshold:     conf.Context.WarnThreshold,
	})

	a := &Agent{
		llm:          cfg.LLM,
		tools:        cfg.Tools,
		sessions:     cfg.Sessions,
		output:       out,
		config:       conf,
		log:          cfg.Logger.WithPrefix("agent"),
		contextMgr:   cm,
		systemPrompt: prompt,
		workDir:      workDir,
	}
	a.dispatcher = NewDispatcher(DispatcherConfig{
		Tools:    cfg.Tools,
		Approver: cfg.Approver,
		Sink:     cm,
		Output:   out,
		Logger:   cfg.Logger,
		Parser:   opts,
	})
	return a
}

// Run starts a new task and drives it to an end.
func (a *Agent) Run(ctx context.Context, task string) (*TaskResult, error) {
	if a.sessions != nil && a.sessions.GetCurrentSession() == nil {
		if _, err := a.sessions.StartNew(); err != nil {
			return nil, err
		}
	}
	a.log.Event(logging.EventTaskStart, logging.Task(task), logging.Model(a.llm.GetModel()))
	a.log.Metrics().RecordTask()
	a.output.ModelInfo(a.llm.GetModel())

	text := fmt.Sprintf("<task>\n%s\n</task>\n\n%s", strings.TrimSpace(task), a.environmentDetails())
	a.contextMgr.AddMessage(llm.UserMessage(text))
	return a.runLoop(ctx)
}

// Resume continues a stored session. The conversation is healed before
// the first request, so a session saved mid-turn resumes cleanly. followup,
// when not empty, is passed to the model as new instructions.
func (a *Agent) Resume(ctx context.Context, sess *session.Session, followup string) (*TaskResult, error) {
	if a.sessions != nil {
		a.sessions.SetCurrent(sess)
	}
	a.log.Event(logging.EventSessionResume,
		logging.SessionID(sess.ID),
		logging.MessageCount(len(sess.Messages)),
	)
	a.log.Metrics().RecordTask()
	a.output.ModelInfo(a.llm.GetModel())

	notice := fmt.Sprintf("Task resumption: this task was interrupted %s. It may or may not be complete, so reassess the task context. The project state may have changed since then. If the task is not complete, retry the last step before the interruption and continue.",
		session.FormatRelativeTime(sess.UpdatedAt))
	if f := strings.TrimSpace(followup); f != "" {
		notice += fmt.Sprintf("\n\nNew instructions for task continuation:\n<user_message>\n%s\n</user_message>", f)
	}
	notice += "\n\n" + a.environmentDetails()

	a.contextMgr.Calibrator().Seed(sess.Calibration)
	msgs := ctxmgr.Heal(sess.Messages)
	a.contextMgr.SetMessages(ctxmgr.MergeIntoUserTurn(msgs, llm.TextBlock(notice)))
	return a.runLoop(ctx)
}

// Context returns the agent's context manager.
func (a *Agent) Context() *ctxmgr.ContextManager {
	return a.contextMgr
}

// SystemPrompt returns the system prompt sent with every request.
func (a *Agent) SystemPrompt() string {
	return a.systemPrompt
}

// environmentDetails describes where the agent runs.
func (a *Agent) environmentDetails() string {
	return fmt.Sprintf("<environment_details>\nCurrent working directory: %s\nCurrent time: %s\n</environment_details>",
		a.workDir, time.Now().Format(time.RFC1123))
}

// buildSystemPrompt renders the base prompt, the usage of every registered
// tool and any project instructions.
func buildSystemPrompt(ts ToolSet, containerTag, projectInstructions string) string {
	if containerTag == "" {
		containerTag = parser.DefaultContainerTag
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, basePrompt, containerTag)
	if ts != nil {
		for _, t := range ts.List() {
			sb.WriteString(t.Schema().Usage(containerTag))
			sb.WriteString("\n")
		}
	}
	if projectInstructions != "" {
		sb.WriteString("# Project-Specific Instructions\n\n")
		sb.WriteString(projectInstructions)
		sb.WriteString("\n")
	}
	return sb.String()
}

// loadProjectInstructions reads AGENTS.md from the working directory.
// Returns the file contents if found, empty string otherwise
func loadProjectInstructions(dir string) string {
	content, err := os.ReadFile(filepath.Join(dir, "AGENTS.md"))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(content))
}

var _ ToolSet = (*tools.Registry)(nil)
