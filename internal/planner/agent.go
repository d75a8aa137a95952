package planner

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"itinerary-planner/internal/apperrors"
	"itinerary-planner/internal/archive"
	"itinerary-planner/internal/models"
	"itinerary-planner/internal/telemetry"
)

// protocolPrefixes mark assistant lines that are mirrored into the job's progress log.
var protocolPrefixes = []string{"STATUS:", "TOOL:", "TOOL_RESULT:", "RESULT:"}

// AgentConfig bounds one agent run.
type AgentConfig struct {
	MaxTurns     int
	WindowSize   int
	MaxTokens    int
	Temperature  float64
	HTTPMaxCalls int
}

// Agent plans trips by letting a tool-calling model research and save an itinerary.
type Agent struct {
	model    ChatModel
	tools    map[string]Tool
	specs    []ToolSpec
	cfg      AgentConfig
	archiver archive.Archiver
	log      zerolog.Logger
}

// NewAgent wires a model to its tools. archiver may be nil.
func NewAgent(model ChatModel, tools []Tool, cfg AgentConfig, archiver archive.Archiver, log zerolog.Logger) *Agent {
	if cfg.MaxTurns <= 0 {
		cfg.MaxTurns = 24
	}
	a := &Agent{
		model:    model,
		tools:    make(map[string]Tool, len(tools)),
		cfg:      cfg,
		archiver: archiver,
		log:      log.With().Str("component", "agent").Logger(),
	}
	for _, t := range tools {
		spec := t.Spec()
		a.tools[spec.Name] = t
		a.specs = append(a.specs, spec)
	}
	return a
}

func (a *Agent) Plan(ctx context.Context, req Request, progress ProgressFunc) (models.Result, error) {
	logger := a.log.With().Str("job_id", req.JobID).Logger()
	run := NewRun(req)
	system := SystemPrompt(a.cfg.HTTPMaxCalls)
	msgs := []Message{{Role: RoleUser, Text: UserPrompt(req)}}
	var transcript []string
	calls := 0

	for turn := 1; turn <= a.cfg.MaxTurns; turn++ {
		if err := ctx.Err(); err != nil {
			return models.Result{}, err
		}
		resp, err := a.model.Converse(ctx, ChatRequest{
			System:      system,
			Messages:    trimWindow(msgs, a.cfg.WindowSize),
			Tools:       a.specs,
			MaxTokens:   a.cfg.MaxTokens,
			Temperature: a.cfg.Temperature,
		})
		if err != nil {
			return models.Result{}, apperrors.Execution("model", err)
		}
		reply := resp.Message
		reply.Role = RoleAssistant
		msgs = append(msgs, reply)

		if text := strings.TrimSpace(reply.Text); text != "" {
			transcript = append(transcript, text)
			for _, line := range protocolLines(text) {
				report(ctx, progress, line)
			}
		}
		if len(reply.ToolCalls) == 0 {
			if resp.Truncated {
				logger.Warn().Int("turn", turn).Msg("model stopped at token limit")
			}
			return a.finish(ctx, run, transcript, progress, logger), nil
		}

		results := make([]ToolResult, 0, len(reply.ToolCalls))
		for _, call := range reply.ToolCalls {
			calls++
			results = append(results, a.invoke(ctx, run, call, calls, progress, logger))
			if err := ctx.Err(); err != nil {
				return models.Result{}, err
			}
		}
		msgs = append(msgs, Message{Role: RoleUser, ToolResults: results})
	}
	return models.Result{}, apperrors.Execution("agent", fmt.Errorf("no final answer after %d turns", a.cfg.MaxTurns))
}

func (a *Agent) invoke(ctx context.Context, run *Run, call ToolCall, n int, progress ProgressFunc, logger zerolog.Logger) ToolResult {
	report(ctx, progress, fmt.Sprintf("Tool #%d: %s", n, call.Name))
	tool, ok := a.tools[call.Name]
	if !ok {
		telemetry.ToolCalls.WithLabelValues("unknown", "error").Inc()
		return ToolResult{CallID: call.ID, Content: fmt.Sprintf("unknown tool %q", call.Name), IsError: true}
	}
	out, err := tool.Call(ctx, run, call.Input)
	if err != nil {
		telemetry.ToolCalls.WithLabelValues(call.Name, "error").Inc()
		logger.Warn().Err(err).Str("tool", call.Name).Msg("tool failed")
		return ToolResult{CallID: call.ID, Content: err.Error(), IsError: true}
	}
	telemetry.ToolCalls.WithLabelValues(call.Name, "ok").Inc()
	return ToolResult{CallID: call.ID, Content: out}
}

func (a *Agent) finish(ctx context.Context, run *Run, transcript []string, progress ProgressFunc, logger zerolog.Logger) models.Result {
	res := models.Result{Message: strings.Join(transcript, "\n\n")}
	it, ok := run.Saved()
	if !ok {
		logger.Warn().Msg("agent finished without saving an itinerary")
		return res
	}
	res.ItineraryID = it.ItineraryID
	res.ArchiveURL = archiveItinerary(ctx, a.archiver, it, progress, logger)
	return res
}

// protocolLines returns the STATUS/TOOL/TOOL_RESULT/RESULT lines of text.
func protocolLines(text string) []string {
	var out []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		for _, p := range protocolPrefixes {
			if strings.HasPrefix(line, p) {
				out = append(out, line)
				break
			}
		}
	}
	return out
}

var _ Planner = (*Agent)(nil)
