package web

import (
	"errors"
	"net/http"

	"github.com/niltonperimneto/libratbag/internal/automation"
)

type saveScriptRequest struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	LuaCode     string   `json:"lua_code"`
	Enabled     bool     `json:"enabled"`
	Events      []string `json:"events"`
}

// scriptsAvailable answers 501 when the daemon runs without automation.
func (s *Server) scriptsAvailable(w http.ResponseWriter) bool {
	if s.scripts == nil || s.engine == nil {
		s.writeJSON(w, http.StatusNotImplemented, map[string]string{"error": "automation not available"})
		return false
	}
	return true
}

func (s *Server) writeScriptError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, automation.ErrScriptNotFound):
		s.writeJSON(w, http.StatusNotFound, map[string]string{"error": "script not found"})
	case errors.Is(err, automation.ErrInvalidScript):
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	default:
		s.logger.Error("script request", "err", err)
		s.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
	}
}

func (s *Server) handleAPIListScripts(w http.ResponseWriter, r *http.Request) {
	if !s.scriptsAvailable(w) {
		return
	}
	scripts, err := s.scripts.List()
	if err != nil {
		s.writeScriptError(w, err)
		return
	}
	if scripts == nil {
		scripts = []*automation.Script{}
	}
	s.writeJSON(w, http.StatusOK, scripts)
}

func (s *Server) handleAPIGetScript(w http.ResponseWriter, r *http.Request) {
	if !s.scriptsAvailable(w) {
		return
	}
	script, err := s.scripts.Get(r.PathValue("id"))
	if err != nil {
		s.writeScriptError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, script)
}

func (s *Server) handleAPICreateScript(w http.ResponseWriter, r *http.Request) {
	if !s.scriptsAvailable(w) {
		return
	}
	var req saveScriptRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.Name == "" {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "name is required"})
		return
	}

	saved, err := s.scripts.Save(&automation.Script{
		Meta: automation.ScriptMeta{
			Name:        req.Name,
			Description: req.Description,
			Enabled:     req.Enabled,
			Events:      req.Events,
		},
		LuaCode: req.LuaCode,
	})
	if err != nil {
		s.writeScriptError(w, err)
		return
	}
	if saved.Meta.Enabled {
		if err := s.engine.ReloadScript(saved.ID); err != nil {
			s.logger.Error("start script after create", "id", saved.ID, "err", err)
		}
	}
	s.writeJSON(w, http.StatusCreated, saved)
}

func (s *Server) handleAPIUpdateScript(w http.ResponseWriter, r *http.Request) {
	if !s.scriptsAvailable(w) {
		return
	}
	existing, err := s.scripts.Get(r.PathValue("id"))
	if err != nil {
		s.writeScriptError(w, err)
		return
	}
	var req saveScriptRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.Name != "" {
		existing.Meta.Name = req.Name
	}
	existing.Meta.Description = req.Description
	existing.Meta.Enabled = req.Enabled
	existing.Meta.Events = req.Events
	existing.LuaCode = req.LuaCode

	saved, err := s.scripts.Save(existing)
	if err != nil {
		s.writeScriptError(w, err)
		return
	}
	// ReloadScript stops disabled scripts.
	if err := s.engine.ReloadScript(saved.ID); err != nil {
		s.logger.Error("reload script after update", "id", saved.ID, "err", err)
	}
	s.writeJSON(w, http.StatusOK, saved)
}

func (s *Server) handleAPIDeleteScript(w http.ResponseWriter, r *http.Request) {
	if !s.scriptsAvailable(w) {
		return
	}
	id := r.PathValue("id")
	s.engine.StopScript(id)
	if err := s.scripts.Delete(id); err != nil {
		s.writeScriptError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleAPIRunScript(w http.ResponseWriter, r *http.Request) {
	if !s.scriptsAvailable(w) {
		return
	}
	s.writeJSON(w, http.StatusOK, s.engine.RunScript(r.PathValue("id")))
}

func (s *Server) handleAPIRunCode(w http.ResponseWriter, r *http.Request) {
	if !s.scriptsAvailable(w) {
		return
	}
	var req struct {
		LuaCode string `json:"lua_code"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	s.writeJSON(w, http.StatusOK, s.engine.RunLuaCode(req.LuaCode))
}
