package llm

import (
	"context"
	"errors"
	"testing"
)

// scriptedLLM returns canned responses or errors in order.
type scriptedLLM struct {
	resp  *Response
	err   error
	calls int
}

func (s *scriptedLLM) Generate(ctx context.Context, req Request) (*Response, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return s.resp, nil
}

func TestRouterFailover(t *testing.T) {
	primary := &scriptedLLM{err: &APIError{Provider: "anthropic", Status: 529, Message: "overloaded"}}
	fallback := &scriptedLLM{resp: &Response{Content: "from fallback"}}

	r := NewRouter()
	r.Register("anthropic", primary)
	r.Register("openai", fallback)

	resp, err := r.Generate(context.Background(), Request{})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if resp.Content != "from fallback" {
		t.Errorf("content = %q, want fallback response", resp.Content)
	}
	if primary.calls != 1 || fallback.calls != 1 {
		t.Errorf("calls = %d/%d, want 1/1", primary.calls, fallback.calls)
	}
}

func TestRouterNonRetryableStopsFailover(t *testing.T) {
	primary := &scriptedLLM{err: &APIError{Provider: "anthropic", Status: 400, Message: "bad request"}}
	fallback := &scriptedLLM{resp: &Response{Content: "should not be reached"}}

	r := NewRouter()
	r.Register("anthropic", primary)
	r.Register("openai", fallback)

	_, err := r.Generate(context.Background(), Request{})
	if err == nil {
		t.Fatal("expected error")
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Status != 400 {
		t.Errorf("error = %v, want the primary's 400", err)
	}
	if fallback.calls != 0 {
		t.Errorf("fallback called %d times on a non-retryable error", fallback.calls)
	}
}

func TestRouterAllBackendsFail(t *testing.T) {
	a := &scriptedLLM{err: &APIError{Status: 500}}
	b := &scriptedLLM{err: &APIError{Status: 503}}

	r := NewRouter()
	r.Register("a", a)
	r.Register("b", b)

	_, err := r.Generate(context.Background(), Request{})
	if err == nil {
		t.Fatal("expected error when every backend fails")
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Status != 503 {
		t.Errorf("error = %v, want the last backend's 503 wrapped", err)
	}
}

func TestRouterNoBackends(t *testing.T) {
	r := NewRouter()
	if _, err := r.Generate(context.Background(), Request{}); err == nil {
		t.Fatal("expected error with no backends registered")
	}
	if order := r.Backends(); len(order) != 0 {
		t.Errorf("Backends() = %v, want empty", order)
	}
}

func TestRouterSetPrimary(t *testing.T) {
	first := &scriptedLLM{resp: &Response{Content: "first"}}
	second := &scriptedLLM{resp: &Response{Content: "second"}}

	r := NewRouter()
	r.Register("first", first)
	r.Register("second", second)

	if err := r.SetPrimary("second"); err != nil {
		t.Fatalf("SetPrimary: %v", err)
	}

	resp, err := r.Generate(context.Background(), Request{})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if resp.Content != "second" {
		t.Errorf("content = %q, want the promoted primary", resp.Content)
	}

	order := r.Backends()
	if len(order) != 2 || order[0] != "second" || order[1] != "first" {
		t.Errorf("failover order = %v, want [second first]", order)
	}

	if err := r.SetPrimary("missing"); err == nil {
		t.Error("SetPrimary accepted an unregistered backend")
	}
}

func TestKeyRotator(t *testing.T) {
	rot := NewKeyRotator([]string{"k1", "k2", "k3"})
	want := []string{"k1", "k2", "k3", "k1", "k2"}
	for i, w := range want {
		if got := rot.Next(); got != w {
			t.Errorf("Next() #%d = %q, want %q", i, got, w)
		}
	}

	empty := NewKeyRotator(nil)
	if got := empty.Next(); got != "" {
		t.Errorf("empty rotator returned %q", got)
	}
}
