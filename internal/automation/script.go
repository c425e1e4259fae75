//go:build !no_automation

package automation

// ScriptMeta is the metadata stored in a script's header line.
type ScriptMeta struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Enabled     bool   `json:"enabled"`
	// Events lists the event types the script subscribes to, for display.
	Events []string `json:"events,omitempty"`
}

// Script is one hook script stored on disk.
type Script struct {
	ID       string     `json:"id"` // file name without .lua
	Meta     ScriptMeta `json:"meta"`
	LuaCode  string     `json:"lua_code"`
	FilePath string     `json:"-"`
}
