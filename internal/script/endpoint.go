package script

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dop251/goja"
	"github.com/rs/zerolog"

	"wssession/internal/endpoint"
)

// DefaultTimeout bounds a single script call
const DefaultTimeout = 100 * time.Millisecond

var (
	// ErrTimeout is returned when a script call runs longer than its timeout
	ErrTimeout = errors.New("script execution timed out")
	// ErrInvalidScript is returned when a script does not define an endpoint
	ErrInvalidScript = errors.New("invalid endpoint script")
)

// Endpoint is an endpoint.Endpoint[any] defined by a JavaScript file.
//
// A script declares the globals:
//
//	subscribe    string or object sent when the first subscriber joins
//	unsubscribe  string or object sent when the last subscriber leaves (optional)
//	canHandle(msg) -> bool
//	extract(msg) -> value (optional; the whole message by default)
//	dedupKey(msg) -> string (optional)
//
// msg is the decoded JSON message. Calls are serialized on one VM.
type Endpoint struct {
	name        string
	file        string
	subscribe   string
	unsubscribe string
	timeout     time.Duration
	logger      zerolog.Logger

	mu        sync.Mutex
	rt        *runtime
	canHandle goja.Callable
	extract   goja.Callable
	dedupKey  goja.Callable
}

// Compile evaluates source and binds the endpoint it declares
func Compile(name, source string, timeout time.Duration, logger zerolog.Logger) (*Endpoint, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	logger = logger.With().Str("component", "script").Str("endpoint", name).Logger()

	e := &Endpoint{
		name:    name,
		timeout: timeout,
		logger:  logger,
		rt:      newRuntime(logger),
	}

	program, err := goja.Compile(name, source, true)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidScript, name, err)
	}
	if err := e.guard(func() error {
		_, err := e.rt.vm.RunProgram(program)
		return err
	}); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidScript, name, err)
	}

	if e.canHandle, err = e.rt.function("canHandle"); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidScript, name, err)
	}
	if e.canHandle == nil {
		return nil, fmt.Errorf("%w: %s: canHandle function not defined", ErrInvalidScript, name)
	}
	if e.extract, err = e.rt.function("extract"); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidScript, name, err)
	}
	if e.dedupKey, err = e.rt.function("dedupKey"); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidScript, name, err)
	}
	if e.subscribe, err = e.rt.message("subscribe"); err != nil {
		return nil, fmt.Errorf("%w: %s: subscribe: %v", ErrInvalidScript, name, err)
	}
	if e.unsubscribe, err = e.rt.message("unsubscribe"); err != nil {
		return nil, fmt.Errorf("%w: %s: unsubscribe: %v", ErrInvalidScript, name, err)
	}
	return e, nil
}

func (e *Endpoint) Key() string                { return e.name }
func (e *Endpoint) SubscribeMessage() string   { return e.subscribe }
func (e *Endpoint) UnsubscribeMessage() string { return e.unsubscribe }

// File returns the path the endpoint was loaded from, if any
func (e *Endpoint) File() string {
	return e.file
}

// CanHandle calls canHandle(msg); script errors count as no match
func (e *Endpoint) CanHandle(env endpoint.Envelope) bool {
	v, err := e.call(e.canHandle, env)
	if err != nil {
		e.logger.Warn().Err(err).Msg("canHandle failed")
		return false
	}
	return v.ToBoolean()
}

// ExtractValue calls extract(msg)
func (e *Endpoint) ExtractValue(env endpoint.Envelope) (any, error) {
	if e.extract == nil {
		return env.Result().Value(), nil
	}
	v, err := e.call(e.extract, env)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", endpoint.ErrExtraction, e.name, err)
	}
	return v.Export(), nil
}

// DedupKey calls dedupKey(msg); "" when the script has none
func (e *Endpoint) DedupKey(env endpoint.Envelope) string {
	if e.dedupKey == nil {
		return ""
	}
	v, err := e.call(e.dedupKey, env)
	if err != nil {
		e.logger.Warn().Err(err).Msg("dedupKey failed")
		return ""
	}
	if goja.IsUndefined(v) || goja.IsNull(v) {
		return ""
	}
	return v.String()
}

func (e *Endpoint) call(fn goja.Callable, env endpoint.Envelope) (goja.Value, error) {
	var result goja.Value
	err := e.guard(func() error {
		var err error
		result, err = fn(goja.Undefined(), e.rt.vm.ToValue(env.Result().Value()))
		return err
	})
	return result, err
}

// guard runs fn on the VM with the timeout armed
func (e *Endpoint) guard(fn func() error) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	vm := e.rt.vm
	timer := time.AfterFunc(e.timeout, func() {
		vm.Interrupt(ErrTimeout)
	})
	err := fn()
	timer.Stop()
	vm.ClearInterrupt()

	if err == nil {
		return nil
	}
	var interrupted *goja.InterruptedError
	if errors.As(err, &interrupted) {
		return fmt.Errorf("%w after %s", ErrTimeout, e.timeout)
	}
	var exception *goja.Exception
	if errors.As(err, &exception) {
		return fmt.Errorf("%s", exception.String())
	}
	return err
}
