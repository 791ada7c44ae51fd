package activity

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/aarzilli/golua/lua"
	"github.com/hedzr/go-ringbuf/v2/mpmc"
	"github.com/sirupsen/logrus"
	"github.com/srg/openstrap/internal/store"
)

const (
	classifyFunction = "classify"

	// outputBufferSize bounds captured print output; the oldest lines are overwritten.
	outputBufferSize uint32 = 256
)

// ScriptError describes a failure to load or run a classifier script.
type ScriptError struct {
	Stage      string // "load", "runtime" or "result"
	Source     string
	Message    string
	Underlying error
}

func (e *ScriptError) Error() string {
	if e.Source != "" {
		return fmt.Sprintf("lua %s error in %s: %s", e.Stage, e.Source, e.Message)
	}
	return fmt.Sprintf("lua %s error: %s", e.Stage, e.Message)
}

func (e *ScriptError) Unwrap() error {
	return e.Underlying
}

// OutputLine is one line printed by a script.
type OutputLine struct {
	Content   string
	Timestamp time.Time
}

// LuaClassifier delegates classification to a script defining
//
//	function classify(readings) -- readings[i] = {time=unix, bpm=n, rr={...}}
//	    return labels           -- labels[i] = "active"|"inactive"|"sleep"|"unknown" or 0..3
//	end
//
// print output is captured and available through Output.
type LuaClassifier struct {
	mu          sync.Mutex
	state       *lua.State
	source      string
	logger      *logrus.Logger
	output      mpmc.RichOverlappedRingBuffer[OutputLine]
	overwritten uint64
}

// LoadLuaClassifier reads a classifier script from path.
func LoadLuaClassifier(path string, logger *logrus.Logger) (*LuaClassifier, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read script %s: %w", path, err)
	}
	return NewLuaClassifier(string(content), path, logger)
}

// NewLuaClassifier runs script and checks that it defines classify.
func NewLuaClassifier(script, source string, logger *logrus.Logger) (*LuaClassifier, error) {
	if strings.TrimSpace(script) == "" {
		return nil, &ScriptError{Stage: "load", Source: source, Message: "empty script"}
	}
	if logger == nil {
		logger = logrus.New()
	}

	c := &LuaClassifier{
		state:  lua.NewState(),
		source: source,
		logger: logger,
		output: mpmc.NewOverlappedRingBuffer[OutputLine](outputBufferSize),
	}
	c.state.OpenLibs()
	c.registerPrint()

	if err := c.state.DoString(script); err != nil {
		c.state.Close()
		return nil, &ScriptError{Stage: "load", Source: source, Message: err.Error(), Underlying: err}
	}

	c.state.GetGlobal(classifyFunction)
	defined := c.state.IsFunction(-1)
	c.state.Pop(1)
	if !defined {
		c.state.Close()
		return nil, &ScriptError{Stage: "load", Source: source, Message: "script does not define classify(readings)"}
	}

	logger.WithField("script", source).Debug("Lua classifier loaded")
	return c, nil
}

// registerPrint replaces print so output lands in the ring buffer instead of stdout.
func (c *LuaClassifier) registerPrint() {
	c.state.PushGoFunction(func(L *lua.State) int {
		top := L.GetTop()
		parts := make([]string, 0, top)
		for i := 1; i <= top; i++ {
			switch L.Type(i) {
			case lua.LUA_TNIL:
				parts = append(parts, "nil")
			case lua.LUA_TBOOLEAN:
				parts = append(parts, fmt.Sprintf("%t", L.ToBoolean(i)))
			case lua.LUA_TNUMBER:
				parts = append(parts, fmt.Sprintf("%v", L.ToNumber(i)))
			case lua.LUA_TSTRING:
				parts = append(parts, L.ToString(i))
			default:
				L.GetGlobal("tostring")
				L.PushValue(i)
				L.Call(1, 1)
				parts = append(parts, L.ToString(-1))
				L.Pop(1)
			}
		}

		overwrites, err := c.output.EnqueueM(OutputLine{
			Content:   strings.Join(parts, "\t"),
			Timestamp: time.Now(),
		})
		if err != nil {
			c.logger.WithError(err).Warn("Failed to capture script output")
		}
		c.overwritten += uint64(overwrites)
		return 0
	})
	c.state.SetGlobal("print")
}

// Classify calls the script's classify function.
func (c *LuaClassifier) Classify(readings []store.HeartRateReading) ([]store.Activity, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == nil {
		return nil, &ScriptError{Stage: "runtime", Source: c.source, Message: "classifier is closed"}
	}
	L := c.state
	top := L.GetTop()
	defer L.SetTop(top)

	L.GetGlobal(classifyFunction)
	L.CreateTable(len(readings), 0)
	for i, r := range readings {
		L.CreateTable(0, 3)
		L.PushInteger(r.Time.Unix())
		L.SetField(-2, "time")
		L.PushInteger(int64(r.BPM))
		L.SetField(-2, "bpm")
		L.CreateTable(len(r.RR), 0)
		for j, v := range r.RR {
			L.PushInteger(int64(v))
			L.RawSeti(-2, j+1)
		}
		L.SetField(-2, "rr")
		L.RawSeti(-2, i+1)
	}

	if err := L.Call(1, 1); err != nil {
		return nil, &ScriptError{Stage: "runtime", Source: c.source, Message: err.Error(), Underlying: err}
	}
	if !L.IsTable(-1) {
		return nil, &ScriptError{Stage: "result", Source: c.source, Message: "classify must return a table"}
	}

	labels := make([]store.Activity, len(readings))
	for i := range readings {
		L.RawGeti(-1, i+1)
		label, err := toActivity(L)
		L.Pop(1)
		if err != nil {
			return nil, &ScriptError{
				Stage:      "result",
				Source:     c.source,
				Message:    fmt.Sprintf("label %d: %v", i+1, err),
				Underlying: err,
			}
		}
		labels[i] = label
	}
	return labels, nil
}

func toActivity(L *lua.State) (store.Activity, error) {
	switch L.Type(-1) {
	case lua.LUA_TNUMBER:
		a := store.Activity(L.ToInteger(-1))
		if a < store.ActivityUnknown || a > store.ActivitySleep {
			return store.ActivityUnknown, fmt.Errorf("activity %d out of range", a)
		}
		return a, nil
	case lua.LUA_TSTRING:
		return store.ParseActivity(L.ToString(-1))
	case lua.LUA_TNIL:
		return store.ActivityUnknown, fmt.Errorf("missing")
	default:
		return store.ActivityUnknown, fmt.Errorf("unsupported label type %s", L.Typename(int(L.Type(-1))))
	}
}

// Output drains lines printed by the script since the last call.
func (c *LuaClassifier) Output() []string {
	var lines []string
	for !c.output.IsEmpty() {
		line, err := c.output.Dequeue()
		if err != nil {
			break
		}
		lines = append(lines, line.Content)
	}
	return lines
}

// Overwritten is the number of output lines lost to buffer overflow.
func (c *LuaClassifier) Overwritten() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.overwritten
}

func (c *LuaClassifier) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != nil {
		c.state.Close()
		c.state = nil
	}
}
