//go:build !no_automation

// Package automation runs Lua hook scripts that react to device events and
// drive devices through the ratbag module.
package automation

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	lua "github.com/yuin/gopher-lua"

	"github.com/niltonperimneto/libratbag/internal/manager"
)

const runTimeout = 5 * time.Second

// RunResult is the result of a one-shot script execution.
type RunResult struct {
	OK       bool     `json:"ok"`
	Error    string   `json:"error,omitempty"`
	Logs     []string `json:"logs"`
	Duration string   `json:"duration"`
}

// handler is a Lua callback registered with ratbag.on.
type handler struct {
	eventType string
	device    string // empty matches any device
	property  string // empty matches any property
	profile   int    // -1 matches any profile
	fn        *lua.LFunction
}

// scriptVM is one running Lua state. Every access to the state goes through
// the commands channel, drained by a single goroutine.
type scriptVM struct {
	id       string
	state    *lua.LState
	commands chan func(*lua.LState)
	ctx      context.Context
	cancel   context.CancelFunc

	mu       sync.Mutex
	handlers []handler

	// logf receives ratbag.log output.
	logf func(msg string)
}

func (vm *scriptVM) addHandler(h handler) bool {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	if len(vm.handlers) >= maxHandlersPerScript {
		return false
	}
	vm.handlers = append(vm.handlers, h)
	return true
}

func (vm *scriptVM) snapshotHandlers() []handler {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	return append([]handler(nil), vm.handlers...)
}

// Engine owns the running script VMs and feeds them manager events.
type Engine struct {
	mgr    *manager.Manager
	lib    *Library
	logger *slog.Logger

	mu    sync.Mutex
	vms   map[string]*scriptVM
	unsub func()
}

func NewEngine(mgr *manager.Manager, lib *Library, logger *slog.Logger) *Engine {
	return &Engine{
		mgr:    mgr,
		lib:    lib,
		logger: logger.With("component", "automation"),
		vms:    make(map[string]*scriptVM),
	}
}

// Start subscribes to manager events and starts every enabled script.
func (e *Engine) Start() {
	e.unsub = e.mgr.Events().OnAll(e.dispatch)

	scripts, err := e.lib.List()
	if err != nil {
		e.logger.Error("load scripts", "err", err)
		return
	}
	for _, s := range scripts {
		if !s.Meta.Enabled {
			continue
		}
		if err := e.startScript(s); err != nil {
			e.logger.Error("start script", "id", s.ID, "err", err)
		}
	}
	e.mu.Lock()
	n := len(e.vms)
	e.mu.Unlock()
	e.logger.Info("automation engine started", "scripts", n)
}

// Stop unsubscribes and stops all scripts.
func (e *Engine) Stop() {
	if e.unsub != nil {
		e.unsub()
	}
	e.mu.Lock()
	for id, vm := range e.vms {
		vm.cancel()
		delete(e.vms, id)
	}
	e.mu.Unlock()
	e.logger.Info("automation engine stopped")
}

// Running returns the ids of running scripts.
func (e *Engine) Running() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	ids := make([]string, 0, len(e.vms))
	for id := range e.vms {
		ids = append(ids, id)
	}
	return ids
}

// ReloadScript restarts a script from disk. Disabled scripts are only stopped.
func (e *Engine) ReloadScript(id string) error {
	e.StopScript(id)
	s, err := e.lib.Get(id)
	if err != nil {
		return err
	}
	if !s.Meta.Enabled {
		return nil
	}
	return e.startScript(s)
}

func (e *Engine) StopScript(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if vm, ok := e.vms[id]; ok {
		vm.cancel()
		delete(e.vms, id)
		e.logger.Info("script stopped", "id", id)
	}
}

// newVM builds a sandboxed state with the ratbag module installed.
func (e *Engine) newVM(ctx context.Context, cancel context.CancelFunc, id string) *scriptVM {
	L := lua.NewState()
	for _, name := range []string{"os", "io", "loadfile", "dofile", "require", "load", "debug", "package"} {
		L.SetGlobal(name, lua.LNil)
	}
	L.SetContext(ctx)

	vm := &scriptVM{
		id:       id,
		state:    L,
		commands: make(chan func(*lua.LState), 64),
		ctx:      ctx,
		cancel:   cancel,
	}
	vm.logf = func(msg string) { e.logger.Info("script log", "id", id, "msg", msg) }
	registerRatbagModule(L, vm, e)
	return vm
}

func (e *Engine) startScript(s *Script) error {
	ctx, cancel := context.WithCancel(context.Background())
	vm := e.newVM(ctx, cancel, s.ID)
	L := vm.state

	if err := L.DoString(s.LuaCode); err != nil {
		cancel()
		L.Close()
		return fmt.Errorf("execute script %s: %w", s.ID, err)
	}

	e.mu.Lock()
	if old, ok := e.vms[s.ID]; ok {
		old.cancel()
	}
	e.vms[s.ID] = vm
	e.mu.Unlock()

	go func() {
		defer L.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case fn := <-vm.commands:
				fn(L)
			}
		}
	}()

	e.logger.Info("script started", "id", s.ID, "name", s.Meta.Name, "handlers", len(vm.snapshotHandlers()))
	return nil
}

// RunScript executes a stored script once, see RunLuaCode.
func (e *Engine) RunScript(id string) *RunResult {
	s, err := e.lib.Get(id)
	if err != nil {
		return &RunResult{Error: err.Error(), Logs: []string{}, Duration: "0s"}
	}
	return e.RunLuaCode(s.LuaCode)
}

// RunLuaCode runs code in a throwaway VM with a timeout, then calls each
// handler it registered once with a synthetic event. ratbag.log output is
// captured in the result.
func (e *Engine) RunLuaCode(code string) *RunResult {
	start := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), runTimeout)
	defer cancel()

	vm := e.newVM(ctx, cancel, "run")
	L := vm.state
	defer L.Close()

	logs := []string{}
	vm.logf = func(msg string) { logs = append(logs, msg) }

	result := func(err error) *RunResult {
		r := &RunResult{OK: err == nil, Logs: logs, Duration: time.Since(start).String()}
		if err != nil {
			r.Error = err.Error()
			if strings.Contains(r.Error, "context deadline exceeded") {
				r.Error = "timeout (" + runTimeout.String() + ")"
			}
		}
		return r
	}

	if err := L.DoString(code); err != nil {
		return result(err)
	}
	for _, h := range vm.snapshotHandlers() {
		fields := map[string]any{"type": h.eventType}
		if h.device != "" {
			fields["device"] = h.device
		}
		if h.property != "" {
			fields["property"] = h.property
		}
		if h.profile >= 0 {
			fields["profile"] = h.profile
		}
		if err := L.CallByParam(lua.P{Fn: h.fn, NRet: 0, Protect: true}, goToLua(L, fields)); err != nil {
			return result(err)
		}
	}
	return result(nil)
}

// dispatch queues matching handlers on their VMs. It never blocks: a full
// queue drops the event.
func (e *Engine) dispatch(event manager.Event) {
	fields := eventFields(event)

	e.mu.Lock()
	vms := make([]*scriptVM, 0, len(e.vms))
	for _, vm := range e.vms {
		vms = append(vms, vm)
	}
	e.mu.Unlock()

	for _, vm := range vms {
		for _, h := range vm.snapshotHandlers() {
			if !h.matches(event.Type, fields) {
				continue
			}
			fn := h.fn
			select {
			case <-vm.ctx.Done():
			case vm.commands <- func(L *lua.LState) { e.call(L, vm.id, fn, fields) }:
			default:
				e.logger.Warn("script queue full, dropping event", "id", vm.id, "type", event.Type)
			}
		}
	}
}

func (h handler) matches(eventType string, fields map[string]any) bool {
	if h.eventType != eventType && h.eventType != "*" {
		return false
	}
	if h.device != "" {
		if d, _ := fields["device"].(string); d != h.device {
			return false
		}
	}
	if h.property != "" {
		if p, _ := fields["property"].(string); p != h.property {
			return false
		}
	}
	if h.profile >= 0 {
		if p, ok := fields["profile"].(int); !ok || p != h.profile {
			return false
		}
	}
	return true
}

func (e *Engine) call(L *lua.LState, id string, fn *lua.LFunction, fields map[string]any) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("lua handler panic", "id", id, "panic", r)
		}
	}()
	if err := L.CallByParam(lua.P{Fn: fn, NRet: 0, Protect: true}, goToLua(L, fields)); err != nil {
		e.logger.Error("lua handler error", "id", id, "err", err)
	}
}

// eventFields flattens an event into the table passed to Lua handlers.
func eventFields(event manager.Event) map[string]any {
	f := map[string]any{"type": event.Type}
	switch d := event.Data.(type) {
	case manager.DeviceEvent:
		f["device"] = d.Device
		f["name"] = d.Name
		f["model"] = d.Model
	case manager.ChangeEvent:
		f["device"] = d.Device
		f["path"] = d.Path
		f["profile"] = d.Profile
		f["index"] = d.Index
		f["property"] = d.Property
	case manager.CommitEvent:
		f["device"] = d.Device
		f["status"] = d.Status
		f["written"] = d.Written
		f["failed"] = d.Failed
	case map[string]any:
		for k, v := range d {
			f[k] = v
		}
	}
	return f
}

// goToLua converts a Go value to a Lua value.
func goToLua(L *lua.LState, v any) lua.LValue {
	switch val := v.(type) {
	case nil:
		return lua.LNil
	case bool:
		return lua.LBool(val)
	case string:
		return lua.LString(val)
	case int:
		return lua.LNumber(val)
	case int32:
		return lua.LNumber(val)
	case int64:
		return lua.LNumber(val)
	case uint32:
		return lua.LNumber(val)
	case float64:
		return lua.LNumber(val)
	case []int:
		t := L.NewTable()
		for _, n := range val {
			t.Append(lua.LNumber(n))
		}
		return t
	case []any:
		t := L.NewTable()
		for _, vv := range val {
			t.Append(goToLua(L, vv))
		}
		return t
	case map[string]any:
		t := L.NewTable()
		for k, vv := range val {
			t.RawSetString(k, goToLua(L, vv))
		}
		return t
	default:
		return lua.LString(fmt.Sprintf("%v", val))
	}
}
