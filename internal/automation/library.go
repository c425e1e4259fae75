//go:build !no_automation

package automation

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
)

// ErrScriptNotFound is returned for unknown script ids.
var ErrScriptNotFound = errors.New("script not found")

// ErrInvalidScript is returned for malformed ids or empty scripts.
var ErrInvalidScript = errors.New("invalid script")

const metaPrefix = "-- "

// Library stores hook scripts as .lua files in one directory. The first
// line of each file is a Lua comment holding the JSON metadata.
type Library struct {
	dir    string
	logger *slog.Logger
	mu     sync.RWMutex
}

// NewLibrary opens the script directory, creating it if needed.
func NewLibrary(dir string, logger *slog.Logger) (*Library, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create scripts dir: %w", err)
	}
	return &Library{dir: dir, logger: logger.With("component", "scripts")}, nil
}

// Dir returns the script directory.
func (l *Library) Dir() string { return l.dir }

func validID(id string) bool {
	return id != "" && id != "." && !strings.Contains(id, "..") && !strings.ContainsAny(id, `/\`)
}

func (l *Library) path(id string) string {
	return filepath.Join(l.dir, id+".lua")
}

// List returns all readable scripts sorted by id.
func (l *Library) List() ([]*Script, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	matches, err := filepath.Glob(filepath.Join(l.dir, "*.lua"))
	if err != nil {
		return nil, fmt.Errorf("list scripts: %w", err)
	}
	scripts := make([]*Script, 0, len(matches))
	for _, path := range matches {
		s, err := l.read(path)
		if err != nil {
			l.logger.Warn("skipping script", "path", path, "err", err)
			continue
		}
		scripts = append(scripts, s)
	}
	sort.Slice(scripts, func(i, j int) bool { return scripts[i].ID < scripts[j].ID })
	return scripts, nil
}

func (l *Library) Get(id string) (*Script, error) {
	if !validID(id) {
		return nil, fmt.Errorf("%w: id %q", ErrInvalidScript, id)
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	s, err := l.read(l.path(id))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrScriptNotFound, id)
	}
	return s, err
}

// Save writes s. A script without an id gets one derived from its name,
// made unique within the directory.
func (l *Library) Save(s *Script) (*Script, error) {
	if strings.TrimSpace(s.LuaCode) == "" {
		return nil, fmt.Errorf("%w: empty code", ErrInvalidScript)
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if s.ID == "" {
		base := slugify(s.Meta.Name)
		if base == "" {
			base = "hook"
		}
		s.ID = base
		for n := 2; ; n++ {
			if _, err := os.Stat(l.path(s.ID)); errors.Is(err, os.ErrNotExist) {
				break
			}
			s.ID = fmt.Sprintf("%s_%d", base, n)
		}
	} else if !validID(s.ID) {
		return nil, fmt.Errorf("%w: id %q", ErrInvalidScript, s.ID)
	}

	meta, err := json.Marshal(s.Meta)
	if err != nil {
		return nil, err
	}
	var b strings.Builder
	b.WriteString(metaPrefix)
	b.Write(meta)
	b.WriteString("\n")
	b.WriteString(strings.TrimLeft(s.LuaCode, "\n"))
	if !strings.HasSuffix(s.LuaCode, "\n") {
		b.WriteString("\n")
	}

	s.FilePath = l.path(s.ID)
	if err := os.WriteFile(s.FilePath, []byte(b.String()), 0o644); err != nil {
		return nil, fmt.Errorf("write script: %w", err)
	}
	return s, nil
}

func (l *Library) Delete(id string) error {
	if !validID(id) {
		return fmt.Errorf("%w: id %q", ErrInvalidScript, id)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := os.Remove(l.path(id)); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrScriptNotFound, id)
		}
		return fmt.Errorf("delete script: %w", err)
	}
	return nil
}

func (l *Library) read(path string) (*Script, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	s := &Script{
		ID:       strings.TrimSuffix(filepath.Base(path), ".lua"),
		FilePath: path,
	}
	code := string(data)
	first, rest, _ := strings.Cut(code, "\n")
	if strings.HasPrefix(first, metaPrefix+"{") {
		if err := json.Unmarshal([]byte(strings.TrimPrefix(first, metaPrefix)), &s.Meta); err != nil {
			return nil, fmt.Errorf("metadata: %w", err)
		}
		code = rest
	}
	if s.Meta.Name == "" {
		s.Meta.Name = s.ID
	}
	s.LuaCode = code
	return s, nil
}

var slugRe = regexp.MustCompile(`[^a-z0-9]+`)

func slugify(name string) string {
	s := slugRe.ReplaceAllString(strings.ToLower(strings.TrimSpace(name)), "_")
	s = strings.Trim(s, "_")
	if len(s) > 40 {
		s = s[:40]
	}
	return s
}
