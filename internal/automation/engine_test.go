//go:build !no_automation && !no_dev_hooks

package automation

import (
	"fmt"
	"strings"
	"testing"
	"time"

	lua "github.com/yuin/gopher-lua"

	"github.com/niltonperimneto/libratbag/internal/device"
	"github.com/niltonperimneto/libratbag/internal/manager"
)

const threeProfiles = `{"profiles": [
	{"resolutions": [{"xres": 800}, {"xres": 1600}]},
	{"resolutions": [{"xres": 800}, {"xres": 1600}]},
	{"resolutions": [{"xres": 800}, {"xres": 1600}]}
]}`

func newTestEngine(t *testing.T) (*Engine, *Library, *device.Device) {
	t.Helper()
	logger := testLogger()
	mgr := manager.New(nil, nil, nil, manager.NewEventBus(logger), manager.Config{}, logger)
	handle, err := mgr.LoadTestDevice(threeProfiles)
	if err != nil {
		t.Fatal(err)
	}
	d, _, err := mgr.Resolve(handle)
	if err != nil {
		t.Fatal(err)
	}
	lib, err := NewLibrary(t.TempDir(), logger)
	if err != nil {
		t.Fatal(err)
	}
	e := NewEngine(mgr, lib, logger)
	t.Cleanup(e.Stop)
	return e, lib, d
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestGoToLua(t *testing.T) {
	L := lua.NewState()
	defer L.Close()

	tests := []struct {
		name string
		val  any
		want lua.LValueType
	}{
		{"nil", nil, lua.LTNil},
		{"bool", true, lua.LTBool},
		{"string", "hello", lua.LTString},
		{"int", 42, lua.LTNumber},
		{"uint32", uint32(1000), lua.LTNumber},
		{"int slice", []int{0, 2}, lua.LTTable},
		{"map", map[string]any{"a": 1}, lua.LTTable},
		{"unknown", struct{}{}, lua.LTString},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := goToLua(L, tt.val).Type(); got != tt.want {
				t.Errorf("goToLua(%v) type = %v, want %v", tt.val, got, tt.want)
			}
		})
	}
}

func TestHandlerMatches(t *testing.T) {
	fields := map[string]any{"device": "test-1", "property": "IsActive", "profile": 2}
	tests := []struct {
		name string
		h    handler
		want bool
	}{
		{"type only", handler{eventType: "profile_changed", profile: -1}, true},
		{"wildcard", handler{eventType: "*", profile: -1}, true},
		{"other type", handler{eventType: "committed", profile: -1}, false},
		{"device match", handler{eventType: "profile_changed", device: "test-1", profile: -1}, true},
		{"device mismatch", handler{eventType: "profile_changed", device: "test-2", profile: -1}, false},
		{"property mismatch", handler{eventType: "profile_changed", property: "Name", profile: -1}, false},
		{"profile match", handler{eventType: "profile_changed", profile: 2}, true},
		{"profile mismatch", handler{eventType: "profile_changed", profile: 0}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.h.matches("profile_changed", fields); got != tt.want {
				t.Errorf("matches = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRunLuaCodeLogs(t *testing.T) {
	e, _, _ := newTestEngine(t)
	res := e.RunLuaCode(`ratbag.log("hello") ratbag.log("world")`)
	if !res.OK {
		t.Fatalf("run failed: %s", res.Error)
	}
	if len(res.Logs) != 2 || res.Logs[0] != "hello" || res.Logs[1] != "world" {
		t.Errorf("logs = %v", res.Logs)
	}
}

func TestRunLuaCodeErrors(t *testing.T) {
	e, _, _ := newTestEngine(t)
	tests := []struct {
		name string
		code string
	}{
		{"syntax", `this is not lua`},
		{"runtime", `error("boom")`},
		{"sandbox os", `os.exit(1)`},
		{"sandbox io", `io.write("x")`},
		{"sandbox require", `require("socket")`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := e.RunLuaCode(tt.code)
			if res.OK || res.Error == "" {
				t.Errorf("result = %+v, want error", res)
			}
		})
	}
}

func TestRunLuaCodeTimeout(t *testing.T) {
	if testing.Short() {
		t.Skip("waits for the run timeout")
	}
	e, _, _ := newTestEngine(t)
	res := e.RunLuaCode(`while true do end`)
	if res.OK || !strings.HasPrefix(res.Error, "timeout") {
		t.Errorf("result = %+v, want timeout", res)
	}
}

func TestRatbagSetActiveProfile(t *testing.T) {
	e, _, d := newTestEngine(t)
	code := fmt.Sprintf(`
		assert(ratbag.set_active_profile(%q, 2))
		ratbag.log(tostring(ratbag.active_profile(%q)))
	`, d.ID(), d.ID())
	res := e.RunLuaCode(code)
	if !res.OK {
		t.Fatalf("run failed: %s", res.Error)
	}
	if len(res.Logs) != 1 || res.Logs[0] != "2" {
		t.Errorf("logs = %v, want [2]", res.Logs)
	}
	p, _ := d.Profile(2)
	if !p.IsActive || !p.IsDirty {
		t.Errorf("profile 2 = active %v dirty %v", p.IsActive, p.IsDirty)
	}
}

func TestRatbagErrors(t *testing.T) {
	e, _, d := newTestEngine(t)
	code := fmt.Sprintf(`
		local ok, err = ratbag.set_active_profile("nope", 0)
		ratbag.log(err)
		ok, err = ratbag.set_active_resolution(%q, 0, 9)
		ratbag.log(tostring(ok))
		ok, err = ratbag.set_led_color(%q, 0, 0, 300, 0, 0)
		ratbag.log(tostring(ok))
	`, d.ID(), d.ID())
	res := e.RunLuaCode(code)
	if !res.OK {
		t.Fatalf("run failed: %s", res.Error)
	}
	want := []string{"device not found: nope", "nil", "nil"}
	if len(res.Logs) != len(want) {
		t.Fatalf("logs = %v, want %v", res.Logs, want)
	}
	for i := range want {
		if res.Logs[i] != want[i] {
			t.Errorf("log %d = %q, want %q", i, res.Logs[i], want[i])
		}
	}
}

func TestRatbagCommitNoDriver(t *testing.T) {
	e, _, d := newTestEngine(t)
	res := e.RunLuaCode(fmt.Sprintf(`ratbag.log(tostring(ratbag.commit(%q)))`, d.ID()))
	if !res.OK {
		t.Fatalf("run failed: %s", res.Error)
	}
	if len(res.Logs) != 1 || res.Logs[0] != fmt.Sprint(device.StatusNoDriver) {
		t.Errorf("logs = %v", res.Logs)
	}
}

func TestRatbagDevices(t *testing.T) {
	e, _, d := newTestEngine(t)
	res := e.RunLuaCode(`
		for _, dev in ipairs(ratbag.devices()) do
			ratbag.log(dev.id .. " " .. dev.active_profile .. " " .. tostring(dev.dirty))
		end
	`)
	if !res.OK {
		t.Fatalf("run failed: %s", res.Error)
	}
	want := d.ID() + " 0 false"
	if len(res.Logs) != 1 || res.Logs[0] != want {
		t.Errorf("logs = %v, want [%s]", res.Logs, want)
	}
}

func TestRunLuaCodeInvokesHandlers(t *testing.T) {
	e, _, d := newTestEngine(t)
	code := fmt.Sprintf(`
		ratbag.on("profile_changed", {device = %q, profile = 1}, function(ev)
			ratbag.log(ev.type .. " " .. ev.device .. " " .. ev.profile)
		end)
	`, d.ID())
	res := e.RunLuaCode(code)
	if !res.OK {
		t.Fatalf("run failed: %s", res.Error)
	}
	want := "profile_changed " + d.ID() + " 1"
	if len(res.Logs) != 1 || res.Logs[0] != want {
		t.Errorf("logs = %v, want [%s]", res.Logs, want)
	}
}

func TestScriptReactsToEvents(t *testing.T) {
	e, lib, d := newTestEngine(t)
	_, err := lib.Save(&Script{
		Meta: ScriptMeta{Name: "Sniper mode", Enabled: true},
		LuaCode: `
ratbag.on("profile_changed", {property = "IsActive"}, function(ev)
	ratbag.set_active_resolution(ev.device, ev.profile, 1)
end)
`,
	})
	if err != nil {
		t.Fatal(err)
	}
	e.Start()
	if running := e.Running(); len(running) != 1 || running[0] != "sniper_mode" {
		t.Fatalf("running = %v", running)
	}

	if err := d.SetActiveProfile(1); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "resolution 1 to become active", func() bool {
		r, err := d.Resolution(1, 1)
		return err == nil && r.IsActive
	})
}

func TestDisabledScriptNotStarted(t *testing.T) {
	e, lib, _ := newTestEngine(t)
	if _, err := lib.Save(&Script{Meta: ScriptMeta{Name: "off"}, LuaCode: `ratbag.log("x")`}); err != nil {
		t.Fatal(err)
	}
	e.Start()
	if n := len(e.Running()); n != 0 {
		t.Errorf("running = %d, want 0", n)
	}
}

func TestReloadScript(t *testing.T) {
	e, lib, _ := newTestEngine(t)
	s, err := lib.Save(&Script{Meta: ScriptMeta{Name: "hook", Enabled: true}, LuaCode: `ratbag.on("committed", function(ev) end)`})
	if err != nil {
		t.Fatal(err)
	}
	e.Start()

	s.Meta.Enabled = false
	if _, err := lib.Save(s); err != nil {
		t.Fatal(err)
	}
	if err := e.ReloadScript(s.ID); err != nil {
		t.Fatalf("ReloadScript: %v", err)
	}
	if n := len(e.Running()); n != 0 {
		t.Errorf("running = %d after disabling, want 0", n)
	}

	s.Meta.Enabled = true
	s.LuaCode = `this is broken`
	if _, err := lib.Save(s); err != nil {
		t.Fatal(err)
	}
	if err := e.ReloadScript(s.ID); err == nil {
		t.Error("expected error for broken script")
	}
}
