// Package client talks to the daemon's HTTP object surface.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/niltonperimneto/libratbag/internal/device"
	"github.com/niltonperimneto/libratbag/internal/store"
)

const defaultTimeout = 15 * time.Second

// Client is a thin JSON client of /api.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

type Option func(*Client)

// WithAPIKey sends key in the X-API-Key header.
func WithAPIKey(key string) Option {
	return func(c *Client) { c.apiKey = strings.TrimSpace(key) }
}

func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.http = h
		}
	}
}

// New creates a client for the daemon at baseURL, e.g. http://127.0.0.1:8080.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimSuffix(strings.TrimSpace(baseURL), "/"),
		http:    &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// APIError is a non-2xx answer. It unwraps to the device error class the
// status code stands for, so errors.Is(err, device.ErrNotFound) works on
// both sides of the wire.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("http %d", e.Status)
	}
	return fmt.Sprintf("http %d: %s", e.Status, e.Message)
}

func (e *APIError) Unwrap() error {
	switch e.Status {
	case http.StatusNotFound:
		return device.ErrNotFound
	case http.StatusBadRequest:
		return device.ErrInvalidArgument
	case http.StatusNotImplemented:
		return device.ErrUnsupported
	case http.StatusBadGateway:
		return device.ErrHardware
	}
	return nil
}

type ManagerInfo struct {
	APIVersion int      `json:"api_version"`
	Devices    []string `json:"devices"`
	Features   []string `json:"features"`
}

// DeviceSummary is a device without its profile contents.
type DeviceSummary struct {
	ID              string   `json:"id"`
	Handle          string   `json:"handle"`
	Name            string   `json:"name"`
	Model           string   `json:"model"`
	FirmwareVersion string   `json:"firmware_version"`
	Profiles        []string `json:"profiles"`
}

// Profile carries profile properties and the handles of its children.
type Profile struct {
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

type CommitResult struct {
	Status  int    `json:"status"`
	Written []int  `json:"written"`
	Failed  []int  `json:"failed"`
	Error   string `json:"error,omitempty"`
}

// ProfilePatch sets the non-nil fields, in declaration order.
type ProfilePatch struct {
	Name          *string `json:"name,omitempty"`
	Disabled      *bool   `json:"disabled,omitempty"`
	ReportRate    *uint32 `json:"report_rate,omitempty"`
	AngleSnapping *int32  `json:"angle_snapping,omitempty"`
	Debounce      *int32  `json:"debounce,omitempty"`
}

type ResolutionPatch struct {
	Resolution *device.Dpi `json:"resolution,omitempty"`
	IsDisabled *bool       `json:"is_disabled,omitempty"`
}

type LedPatch struct {
	Mode           *device.LedMode `json:"mode,omitempty"`
	Color          *device.Color   `json:"color,omitempty"`
	SecondaryColor *device.Color   `json:"secondary_color,omitempty"`
	TertiaryColor  *device.Color   `json:"tertiary_color,omitempty"`
	Brightness     *uint32         `json:"brightness,omitempty"`
	EffectDuration *uint32         `json:"effect_duration,omitempty"`
}

func (c *Client) Manager(ctx context.Context) (*ManagerInfo, error) {
	var out ManagerInfo
	if err := c.do(ctx, http.MethodGet, "/api/manager", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Devices(ctx context.Context) ([]DeviceSummary, error) {
	var out []DeviceSummary
	if err := c.do(ctx, http.MethodGet, "/api/devices", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Device returns the full device tree.
func (c *Client) Device(ctx context.Context, id string) (*device.DeviceInfo, error) {
	var out device.DeviceInfo
	if err := c.do(ctx, http.MethodGet, devicePath(id)+"?expand=true", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Commit(ctx context.Context, id string) (*CommitResult, error) {
	var out CommitResult
	if err := c.do(ctx, http.MethodPost, devicePath(id)+"/commit", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Saved returns the last committed snapshot of a device.
func (c *Client) Saved(ctx context.Context, id string) (*store.Snapshot, error) {
	var out store.Snapshot
	if err := c.do(ctx, http.MethodGet, devicePath(id)+"/saved", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) History(ctx context.Context, id string, limit int) ([]*store.Snapshot, error) {
	var out []*store.Snapshot
	path := devicePath(id) + "/history?limit=" + strconv.Itoa(limit)
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) Profile(ctx context.Context, id string, p int) (*Profile, error) {
	var out Profile
	if err := c.do(ctx, http.MethodGet, profilePath(id, p), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) PatchProfile(ctx context.Context, id string, p int, patch ProfilePatch) (*Profile, error) {
	var out Profile
	if err := c.do(ctx, http.MethodPatch, profilePath(id, p), patch, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) ActivateProfile(ctx context.Context, id string, p int) (*Profile, error) {
	var out Profile
	if err := c.do(ctx, http.MethodPost, profilePath(id, p)+"/active", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Resolution(ctx context.Context, id string, p, r int) (*device.ResolutionInfo, error) {
	return c.resolution(ctx, http.MethodGet, resolutionPath(id, p, r), nil)
}

func (c *Client) PatchResolution(ctx context.Context, id string, p, r int, patch ResolutionPatch) (*device.ResolutionInfo, error) {
	return c.resolution(ctx, http.MethodPatch, resolutionPath(id, p, r), patch)
}

func (c *Client) ActivateResolution(ctx context.Context, id string, p, r int) (*device.ResolutionInfo, error) {
	return c.resolution(ctx, http.MethodPost, resolutionPath(id, p, r)+"/active", nil)
}

func (c *Client) DefaultResolution(ctx context.Context, id string, p, r int) (*device.ResolutionInfo, error) {
	return c.resolution(ctx, http.MethodPost, resolutionPath(id, p, r)+"/default", nil)
}

func (c *Client) resolution(ctx context.Context, method, path string, body any) (*device.ResolutionInfo, error) {
	var out device.ResolutionInfo
	if err := c.do(ctx, method, path, body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Button(ctx context.Context, id string, p, b int) (*device.ButtonInfo, error) {
	var out device.ButtonInfo
	if err := c.do(ctx, http.MethodGet, buttonPath(id, p, b), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) SetMapping(ctx context.Context, id string, p, b int, a device.Action) (*device.ButtonInfo, error) {
	raw, err := device.MarshalAction(a)
	if err != nil {
		return nil, err
	}
	body := struct {
		Mapping json.RawMessage `json:"mapping"`
	}{raw}
	var out device.ButtonInfo
	if err := c.do(ctx, http.MethodPatch, buttonPath(id, p, b), body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Led(ctx context.Context, id string, p, l int) (*device.LedInfo, error) {
	var out device.LedInfo
	if err := c.do(ctx, http.MethodGet, ledPath(id, p, l), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) PatchLed(ctx context.Context, id string, p, l int, patch LedPatch) (*device.LedInfo, error) {
	var out device.LedInfo
	if err := c.do(ctx, http.MethodPatch, ledPath(id, p, l), patch, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// LoadTestDevice injects a synthetic device from a JSON spec and returns its
// handle. The spec is sent as is; the daemon validates it and treats a
// blank spec as {}.
func (c *Client) LoadTestDevice(ctx context.Context, spec []byte) (string, error) {
	var out struct {
		Device string `json:"device"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/manager/test-device", spec, &out); err != nil {
		return "", err
	}
	return out.Device, nil
}

func (c *Client) ResetTestDevice(ctx context.Context) error {
	return c.do(ctx, http.MethodDelete, "/api/manager/test-device", nil, nil)
}

// DeviceID accepts a bare id or a device handle and returns the id.
func DeviceID(s string) string {
	s = strings.TrimPrefix(s, "/api")
	s = strings.TrimPrefix(s, "/devices/")
	if i := strings.IndexByte(s, '/'); i >= 0 {
		s = s[:i]
	}
	return s
}

func devicePath(id string) string { return "/api/devices/" + url.PathEscape(id) }

func profilePath(id string, p int) string {
	return devicePath(id) + "/profiles/" + strconv.Itoa(p)
}

func resolutionPath(id string, p, r int) string {
	return profilePath(id, p) + "/resolutions/" + strconv.Itoa(r)
}

func buttonPath(id string, p, b int) string {
	return profilePath(id, p) + "/buttons/" + strconv.Itoa(b)
}

func ledPath(id string, p, l int) string {
	return profilePath(id, p) + "/leds/" + strconv.Itoa(l)
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var rd io.Reader
	switch b := body.(type) {
	case nil:
	case []byte:
		rd = bytes.NewReader(b)
	default:
		data, err := json.Marshal(b)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		rd = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var e struct {
			Error string `json:"error"`
		}
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if json.Unmarshal(data, &e) != nil {
			e.Error = strings.TrimSpace(string(data))
		}
		return &APIError{Status: resp.StatusCode, Message: e.Error}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}
