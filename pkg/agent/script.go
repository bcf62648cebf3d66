package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/dop251/goja"

	"github.com/devicelab-dev/agentenv/pkg/core"
	"github.com/devicelab-dev/agentenv/pkg/hierarchy"
	"github.com/devicelab-dev/agentenv/pkg/logger"
)

const entryPoint = "nextAction"

// ScriptAgent runs a JavaScript policy. The script defines
// nextAction(observation) returning a raw action string, or null when it
// is done. Helpers tap, swipe, text, back, home, enter, complete and
// impossible build raw actions; findText and findId look up nodes of the
// current observation; chat records conversation for the step.
type ScriptAgent struct {
	runtime *goja.Runtime
	fn      goja.Callable
	output  map[string]interface{}
	chat    []string
	obs     Observation
	timeout time.Duration
	closed  bool
	mu      sync.Mutex
}

// LoadScript reads and compiles a script file.
func LoadScript(path string) (*ScriptAgent, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, core.ErrResourceNotFound.
				WithMessage(fmt.Sprintf("agent script not found: %s", path)).
				WithCause(err)
		}
		return nil, fmt.Errorf("read agent script: %w", err)
	}
	return NewScript(path, string(data))
}

// NewScript compiles source. name is used in stack traces.
func NewScript(name, source string) (*ScriptAgent, error) {
	s := &ScriptAgent{
		runtime: goja.New(),
		output:  make(map[string]interface{}),
		timeout: 10 * time.Second,
	}
	s.setupBuiltins()

	prog, err := goja.Compile(name, source, false)
	if err != nil {
		return nil, scriptError("compile", err)
	}
	if _, err := s.runtime.RunProgram(prog); err != nil {
		return nil, scriptError("run", err)
	}

	fn, ok := goja.AssertFunction(s.runtime.Get(entryPoint))
	if !ok {
		return nil, core.ErrInvalidConfig.WithMessage(fmt.Sprintf("agent script %s does not define %s(observation)", name, entryPoint))
	}
	s.fn = fn
	return s, nil
}

func scriptError(stage string, err error) error {
	return core.ErrInvalidConfig.WithMessage(fmt.Sprintf("agent script %s error", stage)).WithCause(err)
}

// setupBuiltins registers console, json, output, env and the action
// builders.
func (s *ScriptAgent) setupBuiltins() {
	rt := s.runtime

	console := rt.NewObject()
	console.Set("log", s.consoleFunc(logger.Info))
	console.Set("warn", s.consoleFunc(logger.Warn))
	console.Set("error", s.consoleFunc(logger.Error))
	rt.Set("console", console)

	rt.Set("json", func(call goja.FunctionCall) goja.Value {
		if len(call.Arguments) < 1 {
			panic(rt.NewTypeError("json requires 1 argument"))
		}
		var v interface{}
		if err := json.Unmarshal([]byte(call.Arguments[0].String()), &v); err != nil {
			panic(rt.NewTypeError(fmt.Sprintf("invalid JSON: %v", err)))
		}
		return rt.ToValue(v)
	})

	rt.Set("output", s.output)

	rt.Set("chat", func(call goja.FunctionCall) goja.Value {
		s.chat = append(s.chat, joinArgs(call))
		return goja.Undefined()
	})

	env := rt.NewObject()
	env.DefineAccessorProperty("instruction", rt.ToValue(func() string {
		return s.obs.Instruction
	}), nil, goja.FLAG_FALSE, goja.FLAG_TRUE)
	env.DefineAccessorProperty("step", rt.ToValue(func() int {
		return s.obs.Step
	}), nil, goja.FLAG_FALSE, goja.FLAG_TRUE)
	rt.Set("env", env)

	rt.Set("tap", func(call goja.FunctionCall) goja.Value {
		return rt.ToValue(TapAction(s.boundsArg(call, 0), s.obs.Width, s.obs.Height))
	})
	rt.Set("swipe", func(call goja.FunctionCall) goja.Value {
		dist := Short
		if len(call.Arguments) > 2 {
			dist = Distance(call.Arguments[2].String())
		}
		raw, err := SwipeAction(s.boundsArg(call, 0), s.obs.Width, s.obs.Height, Direction(call.Argument(1).String()), dist)
		if err != nil {
			panic(rt.NewTypeError(err.Error()))
		}
		return rt.ToValue(raw)
	})
	rt.Set("text", func(call goja.FunctionCall) goja.Value {
		return rt.ToValue(TextAction(call.Argument(0).String()))
	})
	rt.Set("findText", func(call goja.FunctionCall) goja.Value {
		return s.find(hierarchy.WithText(call.Argument(0).String()))
	})
	rt.Set("findId", func(call goja.FunctionCall) goja.Value {
		return s.find(hierarchy.WithResourceID(call.Argument(0).String()))
	})
	for name, kind := range map[string]string{
		"back":       "press_back",
		"home":       "press_home",
		"enter":      "press_enter",
		"complete":   "status_task_complete",
		"impossible": "status_task_impossible",
	} {
		raw := "action_type: " + kind
		rt.Set(name, func(goja.FunctionCall) goja.Value { return rt.ToValue(raw) })
	}
}

func (s *ScriptAgent) consoleFunc(log func(string, ...interface{})) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		log("script: %s", joinArgs(call))
		return goja.Undefined()
	}
}

func joinArgs(call goja.FunctionCall) string {
	parts := make([]string, len(call.Arguments))
	for i, arg := range call.Arguments {
		parts[i] = fmt.Sprint(arg.Export())
	}
	return strings.Join(parts, " ")
}

// find returns the first matching node of the current observation, or null.
func (s *ScriptAgent) find(pred func(hierarchy.Node) bool) goja.Value {
	n, ok := hierarchy.Find(s.obs.Nodes, pred)
	if !ok {
		return goja.Null()
	}
	v, err := s.toJS(n)
	if err != nil {
		panic(s.runtime.NewGoError(err))
	}
	return v
}

// boundsArg accepts a node object with bounds or a bare [[x1,y1],[x2,y2]].
func (s *ScriptAgent) boundsArg(call goja.FunctionCall, i int) [2][2]int {
	v := call.Argument(i)
	if obj, ok := v.(*goja.Object); ok {
		if b := obj.Get("bounds"); b != nil && !goja.IsUndefined(b) {
			v = b
		}
	}

	var out [2][2]int
	data, err := json.Marshal(v.Export())
	if err == nil {
		err = json.Unmarshal(data, &out)
	}
	if err != nil {
		panic(s.runtime.NewTypeError(fmt.Sprintf("invalid bounds: %v", err)))
	}
	return out
}

// NextAction calls nextAction(observation). A script that runs past its
// timeout is interrupted.
func (s *ScriptAgent) NextAction(ctx context.Context, obs Observation) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return "", true, nil
	}
	s.runtime.ClearInterrupt()
	s.chat = s.chat[:0]

	arg, err := s.toJS(obs)
	if err != nil {
		return "", false, err
	}
	s.obs = obs

	done := make(chan struct{})
	defer close(done)
	go func() {
		timer := time.NewTimer(s.timeout)
		defer timer.Stop()
		select {
		case <-done:
		case <-ctx.Done():
			s.runtime.Interrupt(ctx.Err())
		case <-timer.C:
			s.runtime.Interrupt(fmt.Sprintf("%s exceeded %v", entryPoint, s.timeout))
		}
	}()

	res, err := s.fn(goja.Undefined(), arg)
	if err != nil {
		return "", false, scriptError(entryPoint, err)
	}
	if res == nil || goja.IsUndefined(res) || goja.IsNull(res) {
		return "", true, nil
	}
	return res.String(), false, nil
}

// toJS converts a value through JSON so scripts see the same field names
// as the persisted .vh files.
func (s *ScriptAgent) toJS(in interface{}) (goja.Value, error) {
	data, err := json.Marshal(in)
	if err != nil {
		return nil, fmt.Errorf("encode %T: %w", in, err)
	}
	var v map[string]interface{}
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("decode %T: %w", in, err)
	}
	return s.runtime.ToValue(v), nil
}

// Output returns a copy of values the script stored on output.
func (s *ScriptAgent) Output() map[string]interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()

	source := s.output
	if v := s.runtime.Get("output"); v != nil && !goja.IsUndefined(v) {
		if m, ok := v.Export().(map[string]interface{}); ok {
			source = m
		}
	}
	result := make(map[string]interface{}, len(source))
	for k, v := range source {
		result[k] = v
	}
	return result
}

// Conversation returns what the script passed to chat during the last
// NextAction, one call per line.
func (s *ScriptAgent) Conversation() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return strings.Join(s.chat, "\n")
}

// Close interrupts any running call. Later calls report done.
func (s *ScriptAgent) Close() error {
	s.runtime.Interrupt("closed")
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}
