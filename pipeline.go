package tdev

import (
	"context"
	"time"

	"github.com/tdevlabs/tdev/llm"
)

// Stage is one step of a pipeline. Implementations read prior results
// from the PipelineContext and return their structured output. The
// backend argument is the LLM resolved for this stage; stages that
// don't call a model ignore it.
type Stage interface {
	Name() string
	Execute(ctx context.Context, pc *PipelineContext, task AgentTask, backend llm.LLM) (*StageOutput, error)
}

// StageOutput is what a stage execution produces.
type StageOutput struct {
	// Data is the stage's structured output, recorded in the
	// PipelineContext under the stage name
	Data map[string]any

	// Usage is the LLM usage of this execution
	Usage UsageMetrics
}

// PipelineStage wraps a Stage with its execution policy.
type PipelineStage struct {
	// Stage is the step to execute
	Stage Stage

	// Retry overrides the default retry policy (optional)
	Retry *RetryPolicy

	// Timeout bounds one execution attempt (0 uses DefaultStageTimeout)
	Timeout time.Duration
}

// Pipeline is an ordered list of stages executed by a Run.
type Pipeline struct {
	// Name identifies the pipeline ("generation", "evolution-cycle")
	Name string

	// Stages execute in order; a stage failure fails the run
	Stages []PipelineStage
}

// StageNames returns the stage names in execution order.
func (p *Pipeline) StageNames() []string {
	names := make([]string, 0, len(p.Stages))
	for _, s := range p.Stages {
		names = append(names, s.Stage.Name())
	}
	return names
}

// AgentStage executes an Agent: build a prompt from the context, call
// the model, parse the response into structured output.
type AgentStage struct {
	// Agent is the blueprint this stage runs
	Agent Agent

	// BuildPrompt produces the user message from accumulated context
	BuildPrompt func(pc *PipelineContext) (string, error)

	// Parse converts the raw model response into stage output. When
	// nil the raw content is stored under "content".
	Parse func(content string, pc *PipelineContext) (map[string]any, error)
}

// Name returns the agent name.
func (s *AgentStage) Name() string {
	return s.Agent.Name
}

// Execute runs one attempt of the agent.
func (s *AgentStage) Execute(ctx context.Context, pc *PipelineContext, task AgentTask, backend llm.LLM) (*StageOutput, error) {
	if backend == nil {
		return nil, ErrNoBackend
	}

	prompt, err := s.BuildPrompt(pc)
	if err != nil {
		return nil, err
	}

	params := pc.Params
	if s.Agent.Params != nil {
		params = *s.Agent.Params
	}

	req := llm.Request{
		Model:       s.Agent.Model,
		Messages:    []llm.Message{{Role: llm.RoleUser, Content: prompt}},
		Temperature: &params.Temperature,
		TopP:        &params.TopP,
		MaxTokens:   params.MaxTokens,
	}
	if s.Agent.System != nil {
		req.System = s.Agent.System.Prompt()
	}

	resp, err := backend.Generate(ctx, req)
	if err != nil {
		return nil, err
	}

	usage := UsageMetrics{
		InputTokens:  resp.InputTokens,
		OutputTokens: resp.OutputTokens,
		CostUSD:      resp.CostUSD,
		Calls:        1,
	}

	if s.Parse == nil {
		return &StageOutput{
			Data:  map[string]any{"content": resp.Content},
			Usage: usage,
		}, nil
	}

	data, err := s.Parse(resp.Content, pc)
	if err != nil {
		return nil, err
	}
	return &StageOutput{Data: data, Usage: usage}, nil
}
