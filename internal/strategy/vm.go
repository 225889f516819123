package strategy

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dop251/goja"
)

// LogEntry represents a single log message from the script.
type LogEntry struct {
	Bet     int    `json:"bet"`
	Message string `json:"message"`
}

var errScriptTimeout = errors.New("script execution timeout")

// VM wraps a goja runtime with sandbox restrictions and global function
// injection. It is not safe for concurrent use.
type VM struct {
	runtime     *goja.Runtime
	callTimeout time.Duration

	logs    []LogEntry
	maxLogs int
	bet     int

	stopRequested bool
	stopReason    string
	newClientSeed *string
}

// NewVM creates a sandboxed goja runtime with global functions injected.
func NewVM(callTimeout time.Duration) *VM {
	if callTimeout <= 0 {
		callTimeout = defaultCallTimeout
	}
	vm := &VM{
		runtime:     goja.New(),
		callTimeout: callTimeout,
		maxLogs:     500,
	}
	vm.injectGlobalFunctions()
	return vm
}

// injectGlobalFunctions registers log, console.log, stop and resetseed.
func (vm *VM) injectGlobalFunctions() {
	vm.runtime.Set("log", func(call goja.FunctionCall) goja.Value {
		parts := make([]string, len(call.Arguments))
		for i, arg := range call.Arguments {
			parts[i] = arg.String()
		}
		if len(vm.logs) >= vm.maxLogs {
			vm.logs = vm.logs[1:]
		}
		vm.logs = append(vm.logs, LogEntry{Bet: vm.bet, Message: strings.Join(parts, " ")})
		return goja.Undefined()
	})

	console := vm.runtime.NewObject()
	_ = console.Set("log", vm.runtime.Get("log"))
	vm.runtime.Set("console", console)

	// stop(reason?) ends the replay after the current bet.
	vm.runtime.Set("stop", func(call goja.FunctionCall) goja.Value {
		vm.stopRequested = true
		if len(call.Arguments) > 0 {
			vm.stopReason = call.Arguments[0].String()
		}
		return goja.Undefined()
	})

	// resetseed(clientSeed) switches the client seed before the next bet.
	vm.runtime.Set("resetseed", func(call goja.FunctionCall) goja.Value {
		if len(call.Arguments) == 0 {
			panic(vm.runtime.NewTypeError("resetseed requires a client seed"))
		}
		seed := call.Arguments[0].String()
		if seed == "" || len(seed) > maxClientSeedLength {
			panic(vm.runtime.NewTypeError("resetseed: client seed must be 1 to %d bytes", maxClientSeedLength))
		}
		vm.newClientSeed = &seed
		return goja.Undefined()
	})

	// Block dangerous globals.
	vm.runtime.Set("require", goja.Undefined())
	vm.runtime.Set("fetch", goja.Undefined())
	vm.runtime.Set("XMLHttpRequest", goja.Undefined())
	vm.runtime.Set("eval", goja.Undefined())
	vm.runtime.Set("Function", goja.Undefined())
}

// Execute runs the script source once so it can set up state and define
// dobet().
func (vm *VM) Execute(ctx context.Context, source string) error {
	return vm.runWithTimeout(ctx, func() error {
		if _, err := vm.runtime.RunString(source); err != nil {
			return fmt.Errorf("script execution error: %w", err)
		}
		return nil
	})
}

// HasDobet reports whether the script defined a dobet() function.
func (vm *VM) HasDobet() bool {
	_, ok := goja.AssertFunction(vm.runtime.Get("dobet"))
	return ok
}

// CallDobet calls the user-defined dobet() function.
func (vm *VM) CallDobet(ctx context.Context) error {
	return vm.runWithTimeout(ctx, func() error {
		callable, ok := goja.AssertFunction(vm.runtime.Get("dobet"))
		if !ok {
			return errors.New("dobet is not a function")
		}
		if _, err := callable(goja.Undefined()); err != nil {
			return fmt.Errorf("dobet() error: %w", err)
		}
		return nil
	})
}

// IsStopRequested returns true if stop() was called from the script.
func (vm *VM) IsStopRequested() bool {
	return vm.stopRequested
}

// takeClientSeed returns the seed passed to resetseed() since the last call.
func (vm *VM) takeClientSeed() (string, bool) {
	if vm.newClientSeed == nil {
		return "", false
	}
	seed := *vm.newClientSeed
	vm.newClientSeed = nil
	return seed, true
}

// Logs returns a copy of the current log buffer.
func (vm *VM) Logs() []LogEntry {
	out := make([]LogEntry, len(vm.logs))
	copy(out, vm.logs)
	return out
}

// runWithTimeout interrupts the runtime when the call outlives callTimeout or
// ctx is cancelled.
func (vm *VM) runWithTimeout(ctx context.Context, fn func() error) error {
	timer := time.AfterFunc(vm.callTimeout, func() {
		vm.runtime.Interrupt(errScriptTimeout)
	})
	stopCtx := context.AfterFunc(ctx, func() {
		vm.runtime.Interrupt(ctx.Err())
	})
	err := fn()
	timer.Stop()
	stopCtx()
	vm.runtime.ClearInterrupt()

	var interrupted *goja.InterruptedError
	if errors.As(err, &interrupted) {
		if cause, ok := interrupted.Value().(error); ok {
			return fmt.Errorf("script interrupted: %w", cause)
		}
		return fmt.Errorf("script interrupted: %v", interrupted.Value())
	}
	return err
}
