package executil

import (
	"context"
	"strings"
	"sync"
	"time"
)

// FakeRunner is a scripted Runner for unit tests: components depending on
// Runner never need a live host to exercise their command construction.
type FakeRunner struct {
	mu         sync.Mutex
	Calls      [][]string
	StdinCalls []string
	Handlers   map[string]func(args []string) (Result, error)
	Default    Result
	Err        error
}

// NewFakeRunner returns an empty FakeRunner; register per-command behavior
// with On, or set Default/Err for a blanket response.
func NewFakeRunner() *FakeRunner {
	return &FakeRunner{Handlers: make(map[string]func(args []string) (Result, error))}
}

// On registers a handler keyed by the binary name (e.g. "nft", "ip").
func (f *FakeRunner) On(name string, handler func(args []string) (Result, error)) {
	f.Handlers[name] = handler
}

func (f *FakeRunner) Run(_ context.Context, _ time.Duration, name string, args ...string) (Result, error) {
	f.mu.Lock()
	f.Calls = append(f.Calls, append([]string{name}, args...))
	f.mu.Unlock()

	if h, ok := f.Handlers[name]; ok {
		return h(args)
	}
	if f.Err != nil {
		return Result{}, f.Err
	}
	return f.Default, nil
}

// RunWithStdin records the call the same way Run does; StdinCalls separately
// records what was piped in, for tests asserting a restore tool received
// the expected blob.
func (f *FakeRunner) RunWithStdin(_ context.Context, _ time.Duration, name string, stdin string, args ...string) (Result, error) {
	f.mu.Lock()
	f.Calls = append(f.Calls, append([]string{name}, args...))
	f.StdinCalls = append(f.StdinCalls, stdin)
	f.mu.Unlock()

	if h, ok := f.Handlers[name]; ok {
		return h(args)
	}
	if f.Err != nil {
		return Result{}, f.Err
	}
	return f.Default, nil
}

// CallStrings renders every recorded call as a single shell-like string,
// useful for assertions in component tests.
func (f *FakeRunner) CallStrings() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.Calls))
	for i, c := range f.Calls {
		out[i] = strings.Join(c, " ")
	}
	return out
}

// AnyCallContains reports whether any recorded call's joined form contains substr.
func (f *FakeRunner) AnyCallContains(substr string) bool {
	for _, c := range f.CallStrings() {
		if strings.Contains(c, substr) {
			return true
		}
	}
	return false
}
