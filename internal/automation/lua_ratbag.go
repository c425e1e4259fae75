//go:build !no_automation

package automation

import (
	"context"
	"strings"
	"time"

	lua "github.com/yuin/gopher-lua"

	"github.com/niltonperimneto/libratbag/internal/device"
)

const (
	maxHandlersPerScript = 100
	commitTimeout        = 10 * time.Second
)

// registerRatbagModule installs the `ratbag` global. Profile, resolution
// and LED indices are 0-based, as on the HTTP surface. Functions that can
// fail return nil plus an error message instead of raising.
func registerRatbagModule(L *lua.LState, vm *scriptVM, e *Engine) {
	fns := map[string]lua.LGFunction{
		"on":                    func(L *lua.LState) int { return ratbagOn(L, vm) },
		"after":                 func(L *lua.LState) int { return ratbagAfter(L, vm, e) },
		"log":                   func(L *lua.LState) int { vm.logf(L.CheckString(1)); return 0 },
		"devices":               func(L *lua.LState) int { return ratbagDevices(L, e) },
		"active_profile":        func(L *lua.LState) int { return ratbagActiveProfile(L, e) },
		"set_active_profile":    func(L *lua.LState) int { return ratbagSetActiveProfile(L, e) },
		"set_active_resolution": func(L *lua.LState) int { return ratbagSetActiveResolution(L, e) },
		"set_led_color":         func(L *lua.LState) int { return ratbagSetLedColor(L, e) },
		"commit":                func(L *lua.LState) int { return ratbagCommit(L, e) },
	}
	L.SetGlobal("ratbag", L.SetFuncs(L.NewTable(), fns))
}

// ratbag.on(type, [filter], fn). filter may hold device, property and profile.
func ratbagOn(L *lua.LState, vm *scriptVM) int {
	h := handler{eventType: L.CheckString(1), profile: -1}
	fnArg := 2
	if tbl, ok := L.Get(2).(*lua.LTable); ok {
		if v := tbl.RawGetString("device"); v != lua.LNil {
			h.device = v.String()
		}
		if v := tbl.RawGetString("property"); v != lua.LNil {
			h.property = v.String()
		}
		if v, ok := tbl.RawGetString("profile").(lua.LNumber); ok {
			h.profile = int(v)
		}
		fnArg = 3
	}
	h.fn = L.CheckFunction(fnArg)

	if !vm.addHandler(h) {
		L.RaiseError("too many handlers (max %d)", maxHandlersPerScript)
	}
	return 0
}

// ratbag.after(seconds, fn)
func ratbagAfter(L *lua.LState, vm *scriptVM, e *Engine) int {
	delay := time.Duration(float64(L.CheckNumber(1)) * float64(time.Second))
	fn := L.CheckFunction(2)

	go func() {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-vm.ctx.Done():
			return
		}
		select {
		case vm.commands <- func(L *lua.LState) {
			if err := L.CallByParam(lua.P{Fn: fn, NRet: 0, Protect: true}); err != nil {
				e.logger.Error("after callback error", "id", vm.id, "err", err)
			}
		}:
		case <-vm.ctx.Done():
		default:
			e.logger.Warn("after: script queue full", "id", vm.id)
		}
	}()
	return 0
}

// ratbag.devices() returns {id, name, model, active_profile, dirty}.
func ratbagDevices(L *lua.LState, e *Engine) int {
	tbl := L.NewTable()
	for _, d := range e.mgr.Registry().Devices() {
		info, err := d.Info()
		if err != nil {
			continue
		}
		dirty := false
		for _, p := range info.Profiles {
			dirty = dirty || p.IsDirty
		}
		t := L.NewTable()
		t.RawSetString("id", lua.LString(info.ID))
		t.RawSetString("name", lua.LString(info.Name))
		t.RawSetString("model", lua.LString(info.Model))
		t.RawSetString("active_profile", lua.LNumber(info.ActiveProfile()))
		t.RawSetString("dirty", lua.LBool(dirty))
		tbl.Append(t)
	}
	L.Push(tbl)
	return 1
}

// ratbag.active_profile(dev)
func ratbagActiveProfile(L *lua.LState, e *Engine) int {
	d, ok := checkDevice(L, e)
	if !ok {
		return 2
	}
	info, err := d.Info()
	if err != nil {
		return pushError(L, err)
	}
	L.Push(lua.LNumber(info.ActiveProfile()))
	return 1
}

// ratbag.set_active_profile(dev, profile)
func ratbagSetActiveProfile(L *lua.LState, e *Engine) int {
	d, ok := checkDevice(L, e)
	if !ok {
		return 2
	}
	return pushResult(L, d.SetActiveProfile(L.CheckInt(2)))
}

// ratbag.set_active_resolution(dev, profile, resolution)
func ratbagSetActiveResolution(L *lua.LState, e *Engine) int {
	d, ok := checkDevice(L, e)
	if !ok {
		return 2
	}
	return pushResult(L, d.SetActiveResolution(L.CheckInt(2), L.CheckInt(3)))
}

// ratbag.set_led_color(dev, profile, led, r, g, b)
func ratbagSetLedColor(L *lua.LState, e *Engine) int {
	d, ok := checkDevice(L, e)
	if !ok {
		return 2
	}
	p, l := L.CheckInt(2), L.CheckInt(3)
	c, err := device.NewColor(uint32(L.CheckInt(4)), uint32(L.CheckInt(5)), uint32(L.CheckInt(6)))
	if err != nil {
		return pushError(L, err)
	}
	return pushResult(L, d.SetLedColor(p, l, c))
}

// ratbag.commit(dev) returns the commit status code.
func ratbagCommit(L *lua.LState, e *Engine) int {
	d, ok := checkDevice(L, e)
	if !ok {
		return 2
	}
	ctx, cancel := context.WithTimeout(context.Background(), commitTimeout)
	defer cancel()
	res, err := e.mgr.Commit(ctx, d.ID())
	if err != nil {
		return pushError(L, err)
	}
	L.Push(lua.LNumber(res.Status))
	return 1
}

// checkDevice resolves argument 1 by id or, failing that, by name. On
// failure it pushes nil and a message.
func checkDevice(L *lua.LState, e *Engine) (*device.Device, bool) {
	target := L.CheckString(1)
	if d, err := e.mgr.Device(target); err == nil {
		return d, true
	}
	for _, d := range e.mgr.Registry().Devices() {
		if info, err := d.Info(); err == nil && strings.EqualFold(info.Name, target) {
			return d, true
		}
	}
	L.Push(lua.LNil)
	L.Push(lua.LString("device not found: " + target))
	return nil, false
}

func pushResult(L *lua.LState, err error) int {
	if err != nil {
		return pushError(L, err)
	}
	L.Push(lua.LTrue)
	return 1
}

func pushError(L *lua.LState, err error) int {
	L.Push(lua.LNil)
	L.Push(lua.LString(err.Error()))
	return 2
}
