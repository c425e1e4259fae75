package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/niltonperimneto/libratbag/internal/device"
)

const maxBodyBytes = 1 << 20

type deviceView struct {
	ID              string   `json:"id"`
	Handle          string   `json:"handle"`
	Name            string   `json:"name"`
	Model           string   `json:"model"`
	FirmwareVersion string   `json:"firmware_version"`
	Profiles        []string `json:"profiles"`
}

type profileView struct {
	Handle        string   `json:"handle"`
	Index         int      `json:"index"`
	Name          string   `json:"name"`
	IsActive      bool     `json:"is_active"`
	Disabled      bool     `json:"disabled"`
	IsDirty       bool     `json:"is_dirty"`
	ReportRate    uint32   `json:"report_rate"`
	ReportRates   []uint32 `json:"report_rates"`
	AngleSnapping int32    `json:"angle_snapping"`
	Debounce      int32    `json:"debounce"`
	Debounces     []uint32 `json:"debounces"`
	Resolutions   []string `json:"resolutions"`
	Buttons       []string `json:"buttons"`
	Leds          []string `json:"leds"`
}

func handle(k device.Key) string { return handlePrefix + k.Path() }

func newDeviceView(info device.DeviceInfo) deviceView {
	v := deviceView{
		ID:              info.ID,
		Handle:          handle(device.DeviceKey(info.ID)),
		Name:            info.Name,
		Model:           info.Model,
		FirmwareVersion: info.FirmwareVersion,
		Profiles:        make([]string, len(info.Profiles)),
	}
	for i := range info.Profiles {
		v.Profiles[i] = handle(device.ProfileKey(info.ID, i))
	}
	return v
}

func newProfileView(id string, p device.ProfileInfo) profileView {
	v := profileView{
		Handle:        handle(device.ProfileKey(id, p.Index)),
		Index:         p.Index,
		Name:          p.Name,
		IsActive:      p.IsActive,
		Disabled:      p.Disabled,
		IsDirty:       p.IsDirty,
		ReportRate:    p.ReportRate,
		ReportRates:   p.ReportRates,
		AngleSnapping: p.AngleSnapping,
		Debounce:      p.Debounce,
		Debounces:     p.Debounces,
		Resolutions:   make([]string, len(p.Resolutions)),
		Buttons:       make([]string, len(p.Buttons)),
		Leds:          make([]string, len(p.Leds)),
	}
	for i := range p.Resolutions {
		v.Resolutions[i] = handle(device.ResolutionKey(id, p.Index, i))
	}
	for i := range p.Buttons {
		v.Buttons[i] = handle(device.ButtonKey(id, p.Index, i))
	}
	for i := range p.Leds {
		v.Leds[i] = handle(device.LedKey(id, p.Index, i))
	}
	return v
}

// resolve maps the request's path values to a device and key of the given
// kind. Malformed indices resolve to NotFound like any other stale handle.
func (s *Server) resolve(r *http.Request, kind device.Kind) (*device.Device, device.Key, error) {
	path := "/devices/" + r.PathValue("id")
	if kind != device.KindDevice {
		path += "/profiles/" + r.PathValue("p")
	}
	switch kind {
	case device.KindResolution:
		path += "/resolutions/" + r.PathValue("r")
	case device.KindButton:
		path += "/buttons/" + r.PathValue("b")
	case device.KindLed:
		path += "/leds/" + r.PathValue("l")
	}
	return s.mgr.Resolve(path)
}

func (s *Server) handleAPIManager(w http.ResponseWriter, r *http.Request) {
	paths := s.mgr.Devices()
	handles := make([]string, len(paths))
	for i, p := range paths {
		handles[i] = handlePrefix + p
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"api_version": s.mgr.APIVersion(),
		"devices":     handles,
		"features":    s.mgr.Features(),
	})
}

func (s *Server) handleAPILoadTestDevice(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	path, err := s.mgr.LoadTestDevice(string(body))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, map[string]string{"device": handlePrefix + path})
}

func (s *Server) handleAPIResetTestDevice(w http.ResponseWriter, r *http.Request) {
	if err := s.mgr.ResetTestDevice(); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleAPIListDevices(w http.ResponseWriter, r *http.Request) {
	views := []deviceView{}
	for _, d := range s.mgr.Registry().Devices() {
		info, err := d.Info()
		if err != nil {
			continue // removed while listing
		}
		views = append(views, newDeviceView(info))
	}
	s.writeJSON(w, http.StatusOK, views)
}

// handleAPIGetDevice returns the device summary, or with ?expand=true the
// whole tree.
func (s *Server) handleAPIGetDevice(w http.ResponseWriter, r *http.Request) {
	d, _, err := s.resolve(r, device.KindDevice)
	if err != nil {
		s.writeError(w, err)
		return
	}
	info, err := d.Info()
	if err != nil {
		s.writeError(w, err)
		return
	}
	if expand, _ := strconv.ParseBool(r.URL.Query().Get("expand")); expand {
		s.writeJSON(w, http.StatusOK, info)
		return
	}
	s.writeJSON(w, http.StatusOK, newDeviceView(info))
}

type commitResponse struct {
	Status  int    `json:"status"`
	Written []int  `json:"written"`
	Failed  []int  `json:"failed"`
	Error   string `json:"error,omitempty"`
}

func (s *Server) handleAPICommit(w http.ResponseWriter, r *http.Request) {
	res, err := s.mgr.Commit(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	resp := commitResponse{Status: res.Status, Written: res.Written, Failed: res.Failed}
	if resp.Written == nil {
		resp.Written = []int{}
	}
	if resp.Failed == nil {
		resp.Failed = []int{}
	}
	if res.Err != nil {
		resp.Error = res.Err.Error()
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleAPISaved(w http.ResponseWriter, r *http.Request) {
	snap, err := s.mgr.Saved(r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleAPIHistory(w http.ResponseWriter, r *http.Request) {
	limit := 10
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "limit must be a positive integer"})
			return
		}
		limit = n
	}
	snaps, err := s.mgr.History(r.PathValue("id"), limit)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, snaps)
}

func (s *Server) handleAPIGetProfile(w http.ResponseWriter, r *http.Request) {
	d, k, err := s.resolve(r, device.KindProfile)
	if err != nil {
		s.writeError(w, err)
		return
	}
	p, err := d.Profile(k.Profile)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, newProfileView(k.Device, p))
}

type profilePatch struct {
	Name          *string `json:"name"`
	Disabled      *bool   `json:"disabled"`
	ReportRate    *uint32 `json:"report_rate"`
	AngleSnapping *int32  `json:"angle_snapping"`
	Debounce      *int32  `json:"debounce"`
}

func (s *Server) handleAPIPatchProfile(w http.ResponseWriter, r *http.Request) {
	d, k, err := s.resolve(r, device.KindProfile)
	if err != nil {
		s.writeError(w, err)
		return
	}
	var req profilePatch
	if !s.decode(w, r, &req) {
		return
	}
	p := k.Profile
	var steps []func() error
	if req.Name != nil {
		steps = append(steps, func() error { return d.SetProfileName(p, *req.Name) })
	}
	if req.Disabled != nil {
		steps = append(steps, func() error { return d.SetProfileDisabled(p, *req.Disabled) })
	}
	if req.ReportRate != nil {
		steps = append(steps, func() error { return d.SetReportRate(p, *req.ReportRate) })
	}
	if req.AngleSnapping != nil {
		steps = append(steps, func() error { return d.SetAngleSnapping(p, *req.AngleSnapping) })
	}
	if req.Debounce != nil {
		steps = append(steps, func() error { return d.SetDebounce(p, *req.Debounce) })
	}
	if !s.apply(w, steps) {
		return
	}
	s.handleAPIGetProfile(w, r)
}

func (s *Server) handleAPIActivateProfile(w http.ResponseWriter, r *http.Request) {
	d, k, err := s.resolve(r, device.KindProfile)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if err := d.SetActiveProfile(k.Profile); err != nil {
		s.writeError(w, err)
		return
	}
	s.handleAPIGetProfile(w, r)
}

func (s *Server) handleAPIGetResolution(w http.ResponseWriter, r *http.Request) {
	d, k, err := s.resolve(r, device.KindResolution)
	if err != nil {
		s.writeError(w, err)
		return
	}
	res, err := d.Resolution(k.Profile, k.Index)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, res)
}

type resolutionPatch struct {
	Resolution *device.Dpi `json:"resolution"`
	IsDisabled *bool       `json:"is_disabled"`
}

func (s *Server) handleAPIPatchResolution(w http.ResponseWriter, r *http.Request) {
	d, k, err := s.resolve(r, device.KindResolution)
	if err != nil {
		s.writeError(w, err)
		return
	}
	var req resolutionPatch
	if !s.decode(w, r, &req) {
		return
	}
	var steps []func() error
	if req.Resolution != nil {
		steps = append(steps, func() error { return d.SetResolution(k.Profile, k.Index, *req.Resolution) })
	}
	if req.IsDisabled != nil {
		steps = append(steps, func() error { return d.SetResolutionDisabled(k.Profile, k.Index, *req.IsDisabled) })
	}
	if !s.apply(w, steps) {
		return
	}
	s.handleAPIGetResolution(w, r)
}

func (s *Server) handleAPIActivateResolution(w http.ResponseWriter, r *http.Request) {
	d, k, err := s.resolve(r, device.KindResolution)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if err := d.SetActiveResolution(k.Profile, k.Index); err != nil {
		s.writeError(w, err)
		return
	}
	s.handleAPIGetResolution(w, r)
}

func (s *Server) handleAPIDefaultResolution(w http.ResponseWriter, r *http.Request) {
	d, k, err := s.resolve(r, device.KindResolution)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if err := d.SetDefaultResolution(k.Profile, k.Index); err != nil {
		s.writeError(w, err)
		return
	}
	s.handleAPIGetResolution(w, r)
}

func (s *Server) handleAPIGetButton(w http.ResponseWriter, r *http.Request) {
	d, k, err := s.resolve(r, device.KindButton)
	if err != nil {
		s.writeError(w, err)
		return
	}
	b, err := d.Button(k.Profile, k.Index)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, b)
}

type buttonPatch struct {
	Mapping json.RawMessage `json:"mapping"`
}

func (s *Server) handleAPIPatchButton(w http.ResponseWriter, r *http.Request) {
	d, k, err := s.resolve(r, device.KindButton)
	if err != nil {
		s.writeError(w, err)
		return
	}
	var req buttonPatch
	if !s.decode(w, r, &req) {
		return
	}
	var steps []func() error
	if len(req.Mapping) > 0 {
		steps = append(steps, func() error {
			a, err := device.UnmarshalAction(req.Mapping)
			if err != nil {
				return err
			}
			return d.SetMapping(k.Profile, k.Index, a)
		})
	}
	if !s.apply(w, steps) {
		return
	}
	s.handleAPIGetButton(w, r)
}

func (s *Server) handleAPIGetLed(w http.ResponseWriter, r *http.Request) {
	d, k, err := s.resolve(r, device.KindLed)
	if err != nil {
		s.writeError(w, err)
		return
	}
	l, err := d.Led(k.Profile, k.Index)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, l)
}

type ledPatch struct {
	Mode           json.RawMessage `json:"mode"`
	Color          *device.Color   `json:"color"`
	SecondaryColor *device.Color   `json:"secondary_color"`
	TertiaryColor  *device.Color   `json:"tertiary_color"`
	Brightness     *uint32         `json:"brightness"`
	EffectDuration *uint32         `json:"effect_duration"`
}

func (s *Server) handleAPIPatchLed(w http.ResponseWriter, r *http.Request) {
	d, k, err := s.resolve(r, device.KindLed)
	if err != nil {
		s.writeError(w, err)
		return
	}
	var req ledPatch
	if !s.decode(w, r, &req) {
		return
	}
	p, l := k.Profile, k.Index
	var steps []func() error
	if len(req.Mode) > 0 {
		steps = append(steps, func() error {
			m, err := parseLedMode(req.Mode)
			if err != nil {
				return err
			}
			return d.SetLedMode(p, l, m)
		})
	}
	if req.Color != nil {
		steps = append(steps, func() error { return d.SetLedColor(p, l, *req.Color) })
	}
	if req.SecondaryColor != nil {
		steps = append(steps, func() error { return d.SetLedSecondaryColor(p, l, *req.SecondaryColor) })
	}
	if req.TertiaryColor != nil {
		steps = append(steps, func() error { return d.SetLedTertiaryColor(p, l, *req.TertiaryColor) })
	}
	if req.Brightness != nil {
		steps = append(steps, func() error { return d.SetLedBrightness(p, l, *req.Brightness) })
	}
	if req.EffectDuration != nil {
		steps = append(steps, func() error { return d.SetLedEffectDuration(p, l, *req.EffectDuration) })
	}
	if !s.apply(w, steps) {
		return
	}
	s.handleAPIGetLed(w, r)
}

// parseLedMode accepts a numeric mode or a mode name.
func parseLedMode(raw json.RawMessage) (device.LedMode, error) {
	var n uint32
	if err := json.Unmarshal(raw, &n); err == nil {
		return device.LedMode(n), nil
	}
	var name string
	if err := json.Unmarshal(raw, &name); err != nil {
		return 0, fmt.Errorf("mode must be a number or a name: %w", device.ErrInvalidArgument)
	}
	return device.ParseLedMode(name)
}

// decode reads a JSON request body into v, answering 400 on failure.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		msg := "invalid request body"
		if errors.Is(err, device.ErrInvalidArgument) {
			msg = err.Error()
		}
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": msg})
		return false
	}
	return true
}

// apply runs the property sets of one PATCH in order and stops at the first
// failure.
func (s *Server) apply(w http.ResponseWriter, steps []func() error) bool {
	if len(steps) == 0 {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "no properties to set"})
		return false
	}
	for _, step := range steps {
		if err := step(); err != nil {
			s.writeError(w, err)
			return false
		}
	}
	return true
}

func errorStatus(err error) int {
	switch {
	case errors.Is(err, device.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, device.ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, device.ErrUnsupported):
		return http.StatusNotImplemented
	case errors.Is(err, device.ErrHardware):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := errorStatus(err)
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", "err", err)
		s.writeJSON(w, status, map[string]string{"error": "internal server error"})
		return
	}
	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Debug("write json response", "err", err)
	}
}
