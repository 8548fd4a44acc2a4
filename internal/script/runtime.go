package script

import (
	"encoding/json"
	"fmt"

	"github.com/dop251/goja"
	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"
)

// runtime wraps a goja VM with the bindings available to endpoint scripts
type runtime struct {
	vm     *goja.Runtime
	logger zerolog.Logger
}

func newRuntime(logger zerolog.Logger) *runtime {
	r := &runtime{
		vm:     goja.New(),
		logger: logger,
	}
	r.setupConsole()
	r.setupUtils()
	return r
}

// setupConsole routes console.* to the logger
func (r *runtime) setupConsole() {
	console := r.vm.NewObject()
	levels := map[string]zerolog.Level{
		"log":   zerolog.InfoLevel,
		"info":  zerolog.InfoLevel,
		"warn":  zerolog.WarnLevel,
		"error": zerolog.ErrorLevel,
		"debug": zerolog.DebugLevel,
	}
	for name, level := range levels {
		console.Set(name, func(call goja.FunctionCall) goja.Value {
			args := make([]interface{}, len(call.Arguments))
			for i, arg := range call.Arguments {
				args[i] = arg.Export()
			}
			r.logger.WithLevel(level).Msgf("[script] %v", args)
			return goja.Undefined()
		})
	}
	r.vm.Set("console", console)
}

func (r *runtime) setupUtils() {
	utils := r.vm.NewObject()

	// get reads a gjson path from a JSON string or value
	utils.Set("get", func(call goja.FunctionCall) goja.Value {
		if len(call.Arguments) < 2 {
			panic(r.vm.ToValue("get requires a document and a path"))
		}
		doc, err := r.toJSON(call.Arguments[0])
		if err != nil {
			panic(r.vm.ToValue(err.Error()))
		}
		v := gjson.Get(doc, call.Arguments[1].String())
		if !v.Exists() {
			return goja.Undefined()
		}
		return r.vm.ToValue(v.Value())
	})

	utils.Set("parseJSON", func(call goja.FunctionCall) goja.Value {
		if len(call.Arguments) < 1 {
			panic(r.vm.ToValue("parseJSON requires string"))
		}
		var result interface{}
		if err := json.Unmarshal([]byte(call.Arguments[0].String()), &result); err != nil {
			panic(r.vm.ToValue(fmt.Sprintf("invalid JSON: %v", err)))
		}
		return r.vm.ToValue(result)
	})

	utils.Set("stringifyJSON", func(call goja.FunctionCall) goja.Value {
		if len(call.Arguments) < 1 {
			panic(r.vm.ToValue("stringifyJSON requires value"))
		}
		data, err := r.toJSON(call.Arguments[0])
		if err != nil {
			panic(r.vm.ToValue(err.Error()))
		}
		return r.vm.ToValue(data)
	})

	r.vm.Set("utils", utils)
}

// toJSON returns strings unchanged and encodes anything else
func (r *runtime) toJSON(v goja.Value) (string, error) {
	if s, ok := v.Export().(string); ok {
		return s, nil
	}
	data, err := json.Marshal(v.Export())
	if err != nil {
		return "", fmt.Errorf("JSON stringify error: %w", err)
	}
	return string(data), nil
}

// function returns the global function name, or nil when it is not defined
func (r *runtime) function(name string) (goja.Callable, error) {
	v := r.vm.Get(name)
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return nil, nil
	}
	fn, ok := goja.AssertFunction(v)
	if !ok {
		return nil, fmt.Errorf("%s is not a function", name)
	}
	return fn, nil
}

// message returns the global name as a control message; objects are JSON-encoded
func (r *runtime) message(name string) (string, error) {
	v := r.vm.Get(name)
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return "", nil
	}
	return r.toJSON(v)
}
