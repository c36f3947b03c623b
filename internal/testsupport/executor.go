package testsupport

import (
	"context"
	"slices"
	"sync"

	"tonearm/internal/procexec"
)

// Call records one invocation seen by a ScriptedExecutor.
type Call struct {
	Binary string
	Args   []string
}

// Emit writes a line to the caller's line handler.
type Emit func(stream procexec.Stream, line string)

// ScriptedExecutor is a procexec.Executor whose behaviour is supplied by a
// handler function. It records every call for later assertions.
type ScriptedExecutor struct {
	Handler func(ctx context.Context, call Call, emit Emit) error

	mu    sync.Mutex
	calls []Call
}

// Run implements procexec.Executor.
func (s *ScriptedExecutor) Run(ctx context.Context, binary string, args []string, onLine procexec.LineHandler) error {
	call := Call{Binary: binary, Args: slices.Clone(args)}
	s.mu.Lock()
	s.calls = append(s.calls, call)
	s.mu.Unlock()

	if s.Handler == nil {
		return nil
	}
	emit := func(stream procexec.Stream, line string) {
		if onLine != nil {
			onLine(stream, line)
		}
	}
	return s.Handler(ctx, call, emit)
}

// Calls returns a copy of the recorded invocations.
func (s *ScriptedExecutor) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.calls)
}

// ArgValue returns the argument following flag in args, or "" when absent.
func ArgValue(args []string, flag string) string {
	for i := 0; i+1 < len(args); i++ {
		if args[i] == flag {
			return args[i+1]
		}
	}
	return ""
}
