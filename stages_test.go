package tdev

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/tdevlabs/tdev/llm"
	"github.com/tdevlabs/tdev/workspace"
)

func TestDecodeJSONBlock(t *testing.T) {
	type payload struct {
		Name  string   `json:"name"`
		Items []string `json:"items"`
	}

	tests := []struct {
		name    string
		content string
		want    string
		wantErr bool
	}{
		{"plain object", `{"name": "a", "items": ["x"]}`, "a", false},
		{"fenced", "```json\n{\"name\": \"b\", \"items\": []}\n```", "b", false},
		{"fence without tag", "```\n{\"name\": \"c\", \"items\": []}\n```", "c", false},
		{"surrounding prose", "Here you go:\n{\"name\": \"d\", \"items\": []}\nHope that helps!", "d", false},
		{"no object", "sorry, I cannot do that", "", true},
		{"malformed", `{"name": `, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var p payload
			err := DecodeJSONBlock(tt.content, &p)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("DecodeJSONBlock: %v", err)
			}
			if p.Name != tt.want {
				t.Errorf("name = %q, want %q", p.Name, tt.want)
			}
		})
	}
}

func TestStripCodeFence(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"no fence", "plain text", "plain text"},
		{"fence with tag", "```go\npackage main\n```", "package main"},
		{"fence without tag", "```\nhello\n```", "hello"},
		{"leading whitespace", "  ```js\nlet x = 1;\n```  ", "let x = 1;"},
		{"unterminated fence", "```python\nprint(1)", "print(1)"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := StripCodeFence(tt.in); got != tt.want {
				t.Errorf("StripCodeFence(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestGenerationPipelineShape(t *testing.T) {
	p := GenerationPipeline(nil)

	want := []string{"requirements", "plan", "generate", "assembly"}
	got := p.StageNames()
	if len(got) != len(want) {
		t.Fatalf("stages = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("stage[%d] = %q, want %q", i, got[i], want[i])
		}
	}

	// Assembly must not retry: it mutates the workspace.
	last := p.Stages[len(p.Stages)-1]
	if last.Retry == nil || last.Retry.MaxAttempts != 1 {
		t.Error("assembly stage should run exactly once")
	}
}

// generationBackend scripts the full pipeline conversation.
func generationBackend() *mockLLM {
	return &mockLLM{
		responses: []*llm.Response{
			{
				Content: "```json\n" +
					`{"project_name": "todo-api", "summary": "A todo API", "features": ["crud"]}` +
					"\n```",
				InputTokens: 100, OutputTokens: 40,
			},
			{
				Content: `{"components": [` +
					`{"path": "index.js", "purpose": "entrypoint"},` +
					`{"path": "lib/store.js", "purpose": "storage"}]}`,
				InputTokens: 120, OutputTokens: 60,
			},
			{Content: "```js\nconsole.log('index');\n```", InputTokens: 80, OutputTokens: 30},
			{Content: "module.exports = {};", InputTokens: 80, OutputTokens: 25},
		},
	}
}

func TestGenerationPipelineEndToEnd(t *testing.T) {
	workspaces, err := workspace.NewManager(t.TempDir())
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	orch := NewOrchestrator(
		WithLLM(generationBackend()),
		WithWorkspaces(workspaces),
	)
	defer orch.Shutdown(context.Background())

	run, err := orch.StartRun(GenerationPipeline(nil), ServiceRequest{
		Description: "A todo API",
	})
	if err != nil {
		t.Fatalf("StartRun: %v", err)
	}
	if err := waitForRun(t, run); err != nil {
		t.Fatalf("run failed: %v", err)
	}

	dir, err := workspaces.Dir(run.ID)
	if err != nil {
		t.Fatalf("workspace dir: %v", err)
	}

	// Generated files are fence-stripped and written into the workspace.
	data, err := os.ReadFile(filepath.Join(dir, "index.js"))
	if err != nil {
		t.Fatalf("read index.js: %v", err)
	}
	if strings.Contains(string(data), "```") {
		t.Error("code fence not stripped from generated file")
	}
	if _, err := os.Stat(filepath.Join(dir, "lib", "store.js")); err != nil {
		t.Errorf("lib/store.js not written: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "tdev-manifest.json")); err != nil {
		t.Errorf("manifest not written: %v", err)
	}

	res, ok := run.Context.Result("generate")
	if !ok {
		t.Fatal("generate result missing")
	}
	files, _ := res.Output["files"].([]string)
	if len(files) != 2 {
		t.Errorf("generated files = %v, want 2 entries", files)
	}
	if planned, _ := res.Output["planned"].(int); planned != 2 {
		t.Errorf("planned = %v, want 2", res.Output["planned"])
	}
}

// rejectingValidator always fails validation.
type rejectingValidator struct{}

func (rejectingValidator) Validate(ctx context.Context, dir string) error {
	return errors.New("tests failed in sandbox")
}

func TestGenerationPipelineValidationFailure(t *testing.T) {
	workspaces, err := workspace.NewManager(t.TempDir())
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	orch := NewOrchestrator(
		WithLLM(generationBackend()),
		WithWorkspaces(workspaces),
	)
	defer orch.Shutdown(context.Background())

	run, err := orch.StartRun(GenerationPipeline(rejectingValidator{}), ServiceRequest{
		Description: "A todo API",
	})
	if err != nil {
		t.Fatalf("StartRun: %v", err)
	}

	runErr := waitForRun(t, run)
	if runErr == nil {
		t.Fatal("expected validation to fail the run")
	}
	if !strings.Contains(runErr.Error(), "validation") {
		t.Errorf("error %v does not mention validation", runErr)
	}

	var stageErr *StageError
	if !errors.As(runErr, &stageErr) || stageErr.Stage != "assembly" {
		t.Errorf("expected assembly StageError, got %v", runErr)
	}
}

func TestPlanDepthBoundsComponents(t *testing.T) {
	backend := &mockLLM{
		responses: []*llm.Response{
			{Content: `{"project_name": "big", "summary": "big project", "features": []}`},
			{Content: `{"components": [` +
				`{"path": "a.js", "purpose": "a"},` +
				`{"path": "b.js", "purpose": "b"},` +
				`{"path": "c.js", "purpose": "c"}]}`},
			{Content: "a"}, {Content: "b"}, {Content: "c"},
		},
	}
	orch := NewOrchestrator(WithLLM(backend))
	defer orch.Shutdown(context.Background())

	params := DefaultGenerationParams()
	params.PlanDepth = 2

	run, err := orch.StartRun(GenerationPipeline(nil), ServiceRequest{
		Description: "big project",
	}, WithParams(params))
	if err != nil {
		t.Fatalf("StartRun: %v", err)
	}
	if err := waitForRun(t, run); err != nil {
		t.Fatalf("run failed: %v", err)
	}

	res, _ := run.Context.Result("generate")
	files, _ := res.Output["files"].([]string)
	if len(files) != 2 {
		t.Errorf("generated %d files, want plan truncated to 2", len(files))
	}

	// Without a workspace the contents land in the context.
	found := 0
	for _, f := range files {
		if _, ok := run.Context.Get("file:" + f); ok {
			found++
		}
	}
	if found != 2 {
		t.Errorf("found %d in-context files, want 2", found)
	}
}
