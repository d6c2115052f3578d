package main

import (
	"fmt"
	"path/filepath"

	"github.com/abdul-hamid-achik/toolloop/internal/agent"
	"github.com/abdul-hamid-achik/toolloop/internal/config"
	ctxmgr "github.com/abdul-hamid-achik/toolloop/internal/context"
	"github.com/abdul-hamid-achik/toolloop/internal/llm"
	"github.com/abdul-hamid-achik/toolloop/internal/logging"
	"github.com/abdul-hamid-achik/toolloop/internal/permissions"
	"github.com/abdul-hamid-achik/toolloop/internal/session"
	"github.com/abdul-hamid-achik/toolloop/internal/tools"
	"github.com/abdul-hamid-achik/toolloop/internal/ui"
)

// app holds what every command needs: configuration, the logger and the
// session store.
type app struct {
	dir      string
	cfg      *config.Config
	log      *logging.Logger
	sessions *session.Manager
}

func newApp() (*app, error) {
	dir, err := filepath.Abs(workDir)
	if err != nil {
		return nil, fmt.Errorf("resolve workspace: %w", err)
	}

	cfg, err := config.LoadFrom(dir)
	if err != nil {
		return nil, err
	}

	logCfg := logging.ConfigFromEnv().WithVerbose(verbose)
	if !filepath.IsAbs(logCfg.LogDir) {
		logCfg.LogDir = filepath.Join(dir, logCfg.LogDir)
	}
	log, err := logging.Init(logCfg)
	if err != nil {
		return nil, fmt.Errorf("init logging: %w", err)
	}

	sessions, err := session.NewManager(cfg.Session, log)
	if err != nil {
		_ = log.Close()
		return nil, err
	}
	return &app{dir: dir, cfg: cfg, log: log, sessions: sessions}, nil
}

func (a *app) Close() {
	_ = a.log.Close()
}

// outputMode selects how a task reports progress.
type outputMode int

const (
	outputTerminal outputMode = iota
	outputHeadless
	outputJSON
)

type runOptions struct {
	mode     outputMode
	approval string
	model    string
}

// agentOutput builds the output and the input the permission policy prompts
// with. Only the terminal mode can answer prompts.
func agentOutput(mode outputMode) (agent.AgentOutput, permissions.InputHandler, *ui.OutputHandler) {
	switch mode {
	case outputHeadless:
		return agent.NewHeadlessOutput(), &agent.HeadlessInput{}, nil
	case outputJSON:
		return &agent.JSONOutput{}, &agent.HeadlessInput{}, nil
	default:
		out := ui.NewOutputHandler()
		cli := agent.CLIOutput{OutputHandler: out, InputHandler: ui.NewInputHandler()}
		return cli, cli, out
	}
}

// newClient stacks the model client: the API client, the proactive rate
// limiter and the retrying circuit breaker.
func (a *app) newClient(term *ui.OutputHandler) llm.LLMClient {
	base := llm.NewClient(a.cfg, a.log)

	var client llm.LLMClient = base
	if a.cfg.RateLimit.EnableRateLimiting {
		limited := llm.NewRateLimitedClient(base, a.cfg.RateLimit, estimateRequest, a.log)
		if term != nil {
			limited.SetWaitCallback(ui.NewSpinner(term).RateLimitWait)
		}
		client = limited
	}
	return llm.NewResilientClient(client, a.cfg.RateLimit, a.log)
}

func estimateRequest(messages []llm.Message, systemPrompt string) int {
	return ctxmgr.EstimateTokens(messages) + ctxmgr.EstimateTextTokens(systemPrompt)
}

// newAgent wires an agent for a task run.
func (a *app) newAgent(opts runOptions) (*agent.Agent, agent.AgentOutput, error) {
	if err := a.cfg.RequireAPIKey(); err != nil {
		return nil, nil, err
	}
	approval := a.cfg.Agent.Approval
	if opts.approval != "" {
		approval = opts.approval
	}
	mode, err := permissions.ParseMode(approval)
	if err != nil {
		return nil, nil, err
	}

	ws, err := tools.NewWorkspace(a.dir)
	if err != nil {
		return nil, nil, err
	}
	registry := tools.NewDefaultRegistry(ws, tools.ExecConfig{
		Timeout:   a.cfg.Agent.ToolTimeout,
		MaxOutput: a.cfg.Agent.MaxToolOutput,
		Sandbox:   a.cfg.Agent.Sandbox,
	})

	out, in, term := agentOutput(opts.mode)
	client := a.newClient(term)
	if opts.model != "" {
		client.SetModel(opts.model)
	}

	ag := agent.New(agent.Config{
		LLM:      client,
		Tools:    registry,
		Approver: permissions.NewPolicy(mode, in, out),
		Sessions: a.sessions,
		Output:   out,
		Config:   a.cfg,
		Logger:   a.log,
		WorkDir:  a.dir,
	})
	return ag, out, nil
}
