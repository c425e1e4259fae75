//go:build no_automation

package automation

import (
	"errors"
	"log/slog"

	"github.com/niltonperimneto/libratbag/internal/manager"
)

// ErrDisabled is returned by every operation in builds without automation.
var ErrDisabled = errors.New("automation disabled")

var (
	ErrScriptNotFound = ErrDisabled
	ErrInvalidScript  = ErrDisabled
)

type ScriptMeta struct {
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Enabled     bool     `json:"enabled"`
	Events      []string `json:"events,omitempty"`
}

type Script struct {
	ID       string     `json:"id"`
	Meta     ScriptMeta `json:"meta"`
	LuaCode  string     `json:"lua_code"`
	FilePath string     `json:"-"`
}

type RunResult struct {
	OK       bool     `json:"ok"`
	Error    string   `json:"error,omitempty"`
	Logs     []string `json:"logs"`
	Duration string   `json:"duration"`
}

// Library is a stand-in that stores nothing.
type Library struct{}

func NewLibrary(_ string, _ *slog.Logger) (*Library, error) { return nil, ErrDisabled }

func (l *Library) Dir() string                     { return "" }
func (l *Library) List() ([]*Script, error)        { return nil, ErrDisabled }
func (l *Library) Get(_ string) (*Script, error)   { return nil, ErrDisabled }
func (l *Library) Save(_ *Script) (*Script, error) { return nil, ErrDisabled }
func (l *Library) Delete(_ string) error           { return ErrDisabled }

// Engine is a stand-in that runs nothing.
type Engine struct{}

func NewEngine(_ *manager.Manager, _ *Library, _ *slog.Logger) *Engine { return &Engine{} }

func (e *Engine) Start()                      {}
func (e *Engine) Stop()                       {}
func (e *Engine) Running() []string           { return nil }
func (e *Engine) ReloadScript(_ string) error { return ErrDisabled }
func (e *Engine) StopScript(_ string)         {}

func (e *Engine) RunScript(_ string) *RunResult {
	return &RunResult{Error: ErrDisabled.Error(), Logs: []string{}}
}

func (e *Engine) RunLuaCode(_ string) *RunResult {
	return &RunResult{Error: ErrDisabled.Error(), Logs: []string{}}
}
