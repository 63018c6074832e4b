package tdev

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tdevlabs/tdev/llm"
	"github.com/tdevlabs/tdev/workspace"
)

// Context keys for values shared between generation stages.
const (
	keyRequirements = "requirements"
	keyPlan         = "plan"
	keyFiles        = "files"
)

// PlannedComponent is one file the plan stage decided to generate.
type PlannedComponent struct {
	Path    string `json:"path"`
	Purpose string `json:"purpose"`
}

// Requirements is the requirements stage output.
type Requirements struct {
	ProjectName string   `json:"project_name"`
	Summary     string   `json:"summary"`
	Features    []string `json:"features"`
}

// ProjectValidator checks an assembled project, typically by running a
// build or install command in a sandbox.
type ProjectValidator interface {
	Validate(ctx context.Context, dir string) error
}

// GenerationPipeline builds the standard four-stage generation
// pipeline: requirements analysis, architecture plan, component
// generation, assembly. The validator may be nil.
func GenerationPipeline(validator ProjectValidator) *Pipeline {
	return &Pipeline{
		Name: "generation",
		Stages: []PipelineStage{
			{Stage: RequirementsStage()},
			{Stage: PlanStage()},
			{Stage: ComponentStage(), Timeout: 20 * time.Minute},
			{Stage: &AssemblyStage{Validator: validator}, Retry: &RetryPolicy{MaxAttempts: 1}},
		},
	}
}

// RequirementsStage extracts structured requirements from the
// natural-language description.
func RequirementsStage() Stage {
	return &AgentStage{
		Agent: Agent{
			Name: "requirements",
			System: StaticPrompt("You analyze software project descriptions. " +
				"Respond with a single JSON object: " +
				`{"project_name": string, "summary": string, "features": [string]}. ` +
				"No prose outside the JSON."),
		},
		BuildPrompt: func(pc *PipelineContext) (string, error) {
			var b strings.Builder
			fmt.Fprintf(&b, "Project description:\n%s\n", pc.Request.Description)
			if len(pc.Request.Features) > 0 {
				fmt.Fprintf(&b, "\nRequested features:\n- %s\n",
					strings.Join(pc.Request.Features, "\n- "))
			}
			if len(pc.Request.Constraints) > 0 {
				fmt.Fprintf(&b, "\nConstraints:\n- %s\n",
					strings.Join(pc.Request.Constraints, "\n- "))
			}
			return b.String(), nil
		},
		Parse: func(content string, pc *PipelineContext) (map[string]any, error) {
			var reqs Requirements
			if err := DecodeJSONBlock(content, &reqs); err != nil {
				return nil, fmt.Errorf("parse requirements: %w", err)
			}
			if reqs.ProjectName == "" {
				reqs.ProjectName = pc.Request.ProjectName
			}
			if reqs.ProjectName == "" {
				reqs.ProjectName = "generated-project"
			}
			pc.Set(keyRequirements, reqs)
			return map[string]any{
				"project_name": reqs.ProjectName,
				"summary":      reqs.Summary,
				"features":     reqs.Features,
			}, nil
		},
	}
}

// PlanStage turns requirements into a bounded list of components.
func PlanStage() Stage {
	return &AgentStage{
		Agent: Agent{
			Name: "plan",
			System: StaticPrompt("You are a software architect. " +
				"Respond with a single JSON object: " +
				`{"components": [{"path": string, "purpose": string}]}. ` +
				"Paths are relative, POSIX style. No prose outside the JSON."),
		},
		BuildPrompt: func(pc *PipelineContext) (string, error) {
			v, ok := pc.Get(keyRequirements)
			if !ok {
				return "", fmt.Errorf("requirements stage output missing")
			}
			reqs := v.(Requirements)

			var b strings.Builder
			fmt.Fprintf(&b, "Plan the file layout for %q.\n\nSummary: %s\n",
				reqs.ProjectName, reqs.Summary)
			if len(reqs.Features) > 0 {
				fmt.Fprintf(&b, "\nFeatures:\n- %s\n", strings.Join(reqs.Features, "\n- "))
			}
			fmt.Fprintf(&b, "\nEmit at most %d components.\n", pc.Params.PlanDepth)
			return b.String(), nil
		},
		Parse: func(content string, pc *PipelineContext) (map[string]any, error) {
			var plan struct {
				Components []PlannedComponent `json:"components"`
			}
			if err := DecodeJSONBlock(content, &plan); err != nil {
				return nil, fmt.Errorf("parse plan: %w", err)
			}
			if len(plan.Components) == 0 {
				return nil, fmt.Errorf("plan has no components")
			}
			if limit := pc.Params.PlanDepth; limit > 0 && len(plan.Components) > limit {
				plan.Components = plan.Components[:limit]
			}
			pc.Set(keyPlan, plan.Components)

			paths := make([]string, 0, len(plan.Components))
			for _, c := range plan.Components {
				paths = append(paths, c.Path)
			}
			return map[string]any{"components": paths}, nil
		},
	}
}

// componentStage generates file contents for every planned component,
// fanned out under the run's parallelism bound.
type componentStage struct {
	agent Agent
}

// ComponentStage returns the component generation stage.
func ComponentStage() Stage {
	return &componentStage{
		agent: Agent{
			Name: "generate",
			System: StaticPrompt("You write complete source files. " +
				"Respond with the raw file content only: no code fences, no commentary."),
		},
	}
}

func (s *componentStage) Name() string {
	return s.agent.Name
}

func (s *componentStage) Execute(ctx context.Context, pc *PipelineContext, task AgentTask, backend llm.LLM) (*StageOutput, error) {
	if backend == nil {
		return nil, ErrNoBackend
	}
	v, ok := pc.Get(keyPlan)
	if !ok {
		return nil, fmt.Errorf("plan stage output missing")
	}
	components := v.([]PlannedComponent)

	v, ok = pc.Get(keyRequirements)
	if !ok {
		return nil, fmt.Errorf("requirements stage output missing")
	}
	reqs := v.(Requirements)

	parallelism := pc.Params.Parallelism
	if parallelism < 1 {
		parallelism = 1
	}

	var mu sync.Mutex
	usage := UsageMetrics{}
	written := make([]string, 0, len(components))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(parallelism)

	for _, comp := range components {
		g.Go(func() error {
			prompt := fmt.Sprintf(
				"Project: %s\nSummary: %s\n\nWrite the file %s.\nPurpose: %s\n",
				reqs.ProjectName, reqs.Summary, comp.Path, comp.Purpose)

			resp, err := backend.Generate(gctx, llm.Request{
				Model:       s.agent.Model,
				System:      s.agent.System.Prompt(),
				Messages:    []llm.Message{{Role: llm.RoleUser, Content: prompt}},
				Temperature: &pc.Params.Temperature,
				TopP:        &pc.Params.TopP,
				MaxTokens:   pc.Params.MaxTokens,
			})
			if err != nil {
				return fmt.Errorf("generate %s: %w", comp.Path, err)
			}

			content := StripCodeFence(resp.Content)
			if pc.WorkDir != "" {
				if err := workspace.WriteFile(pc.WorkDir, comp.Path, []byte(content)); err != nil {
					return err
				}
			} else {
				pc.Set("file:"+comp.Path, content)
			}

			mu.Lock()
			written = append(written, comp.Path)
			usage.Add(UsageMetrics{
				InputTokens:  resp.InputTokens,
				OutputTokens: resp.OutputTokens,
				CostUSD:      resp.CostUSD,
				Calls:        1,
			})
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	pc.Set(keyFiles, written)
	return &StageOutput{
		Data:  map[string]any{"files": written, "planned": len(components)},
		Usage: usage,
	}, nil
}

// AssemblyStage writes the project manifest and, when a validator is
// configured, checks the assembled project.
type AssemblyStage struct {
	Validator ProjectValidator
}

func (s *AssemblyStage) Name() string {
	return "assembly"
}

func (s *AssemblyStage) Execute(ctx context.Context, pc *PipelineContext, task AgentTask, backend llm.LLM) (*StageOutput, error) {
	v, ok := pc.Get(keyFiles)
	if !ok {
		return nil, fmt.Errorf("generate stage output missing")
	}
	files := v.([]string)

	manifest := map[string]any{
		"request":      pc.Request,
		"files":        files,
		"params":       pc.Params,
		"assembled_at": time.Now().UTC().Format(time.RFC3339),
	}
	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal manifest: %w", err)
	}

	validated := false
	if pc.WorkDir != "" {
		if err := workspace.WriteFile(pc.WorkDir, "tdev-manifest.json", data); err != nil {
			return nil, err
		}
		if s.Validator != nil {
			if err := s.Validator.Validate(ctx, pc.WorkDir); err != nil {
				return nil, fmt.Errorf("validation: %w", err)
			}
			validated = true
		}
	}

	return &StageOutput{
		Data: map[string]any{
			"files":     len(files),
			"manifest":  "tdev-manifest.json",
			"validated": validated,
		},
	}, nil
}

// DecodeJSONBlock extracts the first JSON object from model output,
// tolerating code fences and surrounding prose.
func DecodeJSONBlock(content string, v any) error {
	s := StripCodeFence(content)

	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start < 0 || end <= start {
		return fmt.Errorf("no JSON object in response")
	}
	return json.Unmarshal([]byte(s[start:end+1]), v)
}

// StripCodeFence removes a single wrapping markdown code fence, if any.
func StripCodeFence(s string) string {
	trimmed := strings.TrimSpace(s)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}

	// Drop the opening fence line (which may carry a language tag).
	if idx := strings.IndexByte(trimmed, '\n'); idx >= 0 {
		trimmed = trimmed[idx+1:]
	} else {
		return strings.TrimSpace(strings.TrimPrefix(trimmed, "```"))
	}

	if idx := strings.LastIndex(trimmed, "```"); idx >= 0 {
		trimmed = trimmed[:idx]
	}
	return strings.TrimSpace(trimmed)
}
