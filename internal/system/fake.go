package system

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// Fake is a scriptable Runner for tests. Commands are matched by their
// joined "name arg arg..." form; unmatched commands succeed with empty
// output unless StrictMode is set.
type Fake struct {
	mu sync.Mutex

	// Binaries lists names Look resolves; everything else is absent.
	Binaries map[string]string
	// Outputs maps a command line to its stdout.
	Outputs map[string]string
	// Errors maps a command line to a forced failure.
	Errors map[string]error
	// StrictMode makes unscripted commands fail the test path.
	StrictMode bool

	// Calls records every executed command line, in order.
	Calls []string
}

func NewFake() *Fake {
	return &Fake{
		Binaries: map[string]string{},
		Outputs:  map[string]string{},
		Errors:   map[string]error{},
	}
}

func (f *Fake) Look(name string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.Binaries[name]
	return p, ok
}

func (f *Fake) Run(ctx context.Context, name string, args ...string) error {
	_, err := f.record(name, args)
	return err
}

func (f *Fake) Output(ctx context.Context, name string, args ...string) (string, error) {
	return f.record(name, args)
}

func (f *Fake) Interactive(ctx context.Context, name string, args ...string) error {
	_, err := f.record(name, args)
	return err
}

// Called reports whether any recorded command line has the given prefix.
func (f *Fake) Called(prefix string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.Calls {
		if strings.HasPrefix(c, prefix) {
			return true
		}
	}
	return false
}

func (f *Fake) record(name string, args []string) (string, error) {
	line := name
	if len(args) > 0 {
		line += " " + strings.Join(args, " ")
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls = append(f.Calls, line)

	if err, ok := f.Errors[line]; ok {
		return "", err
	}
	if out, ok := f.Outputs[line]; ok {
		return out, nil
	}
	if f.StrictMode {
		return "", fmt.Errorf("unscripted command: %s", line)
	}
	return "", nil
}
