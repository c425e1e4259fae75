package device

import (
	"slices"
	"sync"
)

// Change describes a completed mutation. Property uses the object surface
// names (IsActive, Resolution, Mapping, Brightness, ...).
type Change struct {
	Key      Key
	Property string
}

// Device is one node of the registry: a device and the profile tree it owns.
//
// Two locks guard it. writeMu admits one writer at a time (setters, verbs,
// Commit, removal). mu protects the tree itself; readers take it shared and
// always copy out, so they never observe a half-applied verb. Commit holds
// writeMu across the actor call but releases mu, leaving reads unblocked.
type Device struct {
	writeMu sync.Mutex

	id string

	mu       sync.RWMutex
	info     DeviceInfo
	actor    Actor
	removed  bool
	observer func(Change)
}

// New builds a device from a fully populated tree. actor may be nil for
// synthetic devices.
func New(info DeviceInfo, actor Actor) (*Device, error) {
	info = info.Clone()
	if err := info.validate(); err != nil {
		return nil, err
	}
	for i := range info.Profiles {
		info.Profiles[i].IsDirty = false
	}
	return &Device{id: info.ID, info: info, actor: actor}, nil
}

func (d *Device) ID() string { return d.id }

// Actor returns the hardware actor, or nil.
func (d *Device) Actor() Actor {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.actor
}

// SetObserver installs a callback invoked after every successful mutation,
// outside the device locks.
func (d *Device) SetObserver(fn func(Change)) {
	d.mu.Lock()
	d.observer = fn
	d.mu.Unlock()
}

// Info returns a consistent snapshot of the whole tree.
func (d *Device) Info() (DeviceInfo, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.removed {
		return DeviceInfo{}, notFoundf("device %s", d.id)
	}
	return d.info.Clone(), nil
}

func (d *Device) Profile(p int) (ProfileInfo, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	prof, err := d.profileLocked(p)
	if err != nil {
		return ProfileInfo{}, err
	}
	return prof.Clone(), nil
}

func (d *Device) Resolution(p, r int) (ResolutionInfo, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	res, err := d.resolutionLocked(p, r)
	if err != nil {
		return ResolutionInfo{}, err
	}
	return res.Clone(), nil
}

func (d *Device) Button(p, b int) (ButtonInfo, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	btn, err := d.buttonLocked(p, b)
	if err != nil {
		return ButtonInfo{}, err
	}
	return btn.Clone(), nil
}

func (d *Device) Led(p, l int) (LedInfo, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	led, err := d.ledLocked(p, l)
	if err != nil {
		return LedInfo{}, err
	}
	return led.Clone(), nil
}

// Exists reports whether key names a live node of this device.
func (d *Device) Exists(k Key) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if k.Device != d.id {
		return notFoundf("handle %s", k)
	}
	var err error
	switch k.Kind {
	case KindDevice:
		if d.removed {
			err = notFoundf("device %s", d.id)
		}
	case KindProfile:
		_, err = d.profileLocked(k.Profile)
	case KindResolution:
		_, err = d.resolutionLocked(k.Profile, k.Index)
	case KindButton:
		_, err = d.buttonLocked(k.Profile, k.Index)
	case KindLed:
		_, err = d.ledLocked(k.Profile, k.Index)
	default:
		err = notFoundf("handle %s", k)
	}
	return err
}

// Profile verbs and setters.

// SetActiveProfile makes profile p the only active profile. The previously
// active profile and p are both marked dirty.
func (d *Device) SetActiveProfile(p int) error {
	return d.updateDevice(ProfileKey(d.id, p), "IsActive", func(info *DeviceInfo) error {
		if p < 0 || p >= len(info.Profiles) {
			return notFoundf("profile %d of device %s", p, info.ID)
		}
		for i := range info.Profiles {
			prof := &info.Profiles[i]
			if prof.IsActive || i == p {
				prof.IsDirty = true
			}
			prof.IsActive = i == p
		}
		return nil
	})
}

func (d *Device) SetProfileName(p int, name string) error {
	return d.updateProfile(ProfileKey(d.id, p), "Name", func(prof *ProfileInfo) error {
		prof.Name = name
		return nil
	})
}

// SetProfileDisabled marks a profile as not to be loaded onto the hardware.
// It does not affect which profile is active.
func (d *Device) SetProfileDisabled(p int, disabled bool) error {
	return d.updateProfile(ProfileKey(d.id, p), "Disabled", func(prof *ProfileInfo) error {
		prof.Disabled = disabled
		return nil
	})
}

func (d *Device) SetReportRate(p int, rate uint32) error {
	return d.updateProfile(ProfileKey(d.id, p), "ReportRate", func(prof *ProfileInfo) error {
		prof.ReportRate = rate
		return nil
	})
}

func (d *Device) SetAngleSnapping(p int, v int32) error {
	return d.updateProfile(ProfileKey(d.id, p), "AngleSnapping", func(prof *ProfileInfo) error {
		prof.AngleSnapping = v
		return nil
	})
}

func (d *Device) SetDebounce(p int, v int32) error {
	return d.updateProfile(ProfileKey(d.id, p), "Debounce", func(prof *ProfileInfo) error {
		prof.Debounce = v
		return nil
	})
}

// Resolution verbs and setters.

// SetActiveResolution clears IsActive on every sibling and sets it on r.
// IsDefault is untouched.
func (d *Device) SetActiveResolution(p, r int) error {
	return d.updateProfile(ResolutionKey(d.id, p, r), "IsActive", func(prof *ProfileInfo) error {
		if r < 0 || r >= len(prof.Resolutions) {
			return notFoundf("resolution %d of profile %d", r, p)
		}
		for i := range prof.Resolutions {
			prof.Resolutions[i].IsActive = i == r
		}
		return nil
	})
}

// SetDefaultResolution is SetActiveResolution for the default set.
func (d *Device) SetDefaultResolution(p, r int) error {
	return d.updateProfile(ResolutionKey(d.id, p, r), "IsDefault", func(prof *ProfileInfo) error {
		if r < 0 || r >= len(prof.Resolutions) {
			return notFoundf("resolution %d of profile %d", r, p)
		}
		for i := range prof.Resolutions {
			prof.Resolutions[i].IsDefault = i == r
		}
		return nil
	})
}

func (d *Device) SetResolutionDisabled(p, r int, disabled bool) error {
	return d.updateResolution(p, r, "IsDisabled", func(res *ResolutionInfo) error {
		res.IsDisabled = disabled
		return nil
	})
}

// SetResolution stores a new DPI value. Its shape must match the shape the
// profile was loaded with.
func (d *Device) SetResolution(p, r int, v Dpi) error {
	return d.updateResolution(p, r, "Resolution", func(res *ResolutionInfo) error {
		if v.Separate != res.Resolution.Separate {
			want := "a single value"
			if res.Resolution.Separate {
				want = "an (x, y) pair"
			}
			return invalidf("resolution %d of profile %d takes %s", r, p, want)
		}
		res.Resolution = v
		return nil
	})
}

// Button setters.

// SetMapping binds an action to a button. The action type must be one the
// button supports.
func (d *Device) SetMapping(p, b int, a Action) error {
	if a == nil {
		return invalidf("nil mapping")
	}
	return d.updateProfile(ButtonKey(d.id, p, b), "Mapping", func(prof *ProfileInfo) error {
		if b < 0 || b >= len(prof.Buttons) {
			return notFoundf("button %d of profile %d", b, p)
		}
		btn := &prof.Buttons[b]
		if !slices.Contains(btn.ActionTypes, a.Type()) {
			return invalidf("button %d does not support action type %s", b, a.Type())
		}
		btn.Mapping = cloneAction(a)
		return nil
	})
}

// LED setters.

func (d *Device) SetLedMode(p, l int, m LedMode) error {
	return d.updateLed(p, l, "Mode", func(led *LedInfo) error {
		if !slices.Contains(led.Modes, m) {
			return invalidf("led %d does not support mode %s", l, m)
		}
		led.Mode = m
		return nil
	})
}

func (d *Device) SetLedColor(p, l int, c Color) error {
	return d.updateLed(p, l, "Color", func(led *LedInfo) error {
		led.Color = c
		return nil
	})
}

func (d *Device) SetLedSecondaryColor(p, l int, c Color) error {
	return d.updateLed(p, l, "SecondaryColor", func(led *LedInfo) error {
		led.SecondaryColor = c
		return nil
	})
}

func (d *Device) SetLedTertiaryColor(p, l int, c Color) error {
	return d.updateLed(p, l, "TertiaryColor", func(led *LedInfo) error {
		led.TertiaryColor = c
		return nil
	})
}

// SetLedBrightness stores min(v, 255).
func (d *Device) SetLedBrightness(p, l int, v uint32) error {
	return d.updateLed(p, l, "Brightness", func(led *LedInfo) error {
		led.Brightness = ClampBrightness(v)
		return nil
	})
}

// SetLedEffectDuration stores min(v, 10000).
func (d *Device) SetLedEffectDuration(p, l int, v uint32) error {
	return d.updateLed(p, l, "EffectDuration", func(led *LedInfo) error {
		led.EffectDuration = ClampEffectDuration(v)
		return nil
	})
}

// markRemoved invalidates the device once it has left the registry. It
// waits for an in-flight writer, including Commit, to finish.
func (d *Device) markRemoved() {
	d.writeMu.Lock()
	defer d.writeMu.Unlock()
	d.mu.Lock()
	d.removed = true
	d.mu.Unlock()
}

func (d *Device) updateDevice(k Key, property string, fn func(*DeviceInfo) error) error {
	if err := d.mutate(fn); err != nil {
		return err
	}
	d.notify(Change{Key: k, Property: property})
	return nil
}

// updateProfile applies fn to profile k.Profile and marks it dirty.
func (d *Device) updateProfile(k Key, property string, fn func(*ProfileInfo) error) error {
	return d.updateDevice(k, property, func(info *DeviceInfo) error {
		if k.Profile < 0 || k.Profile >= len(info.Profiles) {
			return notFoundf("profile %d of device %s", k.Profile, info.ID)
		}
		prof := &info.Profiles[k.Profile]
		if err := fn(prof); err != nil {
			return err
		}
		prof.IsDirty = true
		return nil
	})
}

func (d *Device) updateResolution(p, r int, property string, fn func(*ResolutionInfo) error) error {
	return d.updateProfile(ResolutionKey(d.id, p, r), property, func(prof *ProfileInfo) error {
		if r < 0 || r >= len(prof.Resolutions) {
			return notFoundf("resolution %d of profile %d", r, p)
		}
		return fn(&prof.Resolutions[r])
	})
}

func (d *Device) updateLed(p, l int, property string, fn func(*LedInfo) error) error {
	return d.updateProfile(LedKey(d.id, p, l), property, func(prof *ProfileInfo) error {
		if l < 0 || l >= len(prof.Leds) {
			return notFoundf("led %d of profile %d", l, p)
		}
		return fn(&prof.Leds[l])
	})
}

// mutate runs fn on a scratch copy and installs it only on success, so a
// failing setter leaves no partial write behind.
func (d *Device) mutate(fn func(*DeviceInfo) error) error {
	d.writeMu.Lock()
	defer d.writeMu.Unlock()

	d.mu.RLock()
	if d.removed {
		d.mu.RUnlock()
		return notFoundf("device %s", d.id)
	}
	next := d.info.Clone()
	d.mu.RUnlock()

	if err := fn(&next); err != nil {
		return err
	}

	d.mu.Lock()
	d.info = next
	d.mu.Unlock()
	return nil
}

func (d *Device) notify(c Change) {
	d.mu.RLock()
	fn := d.observer
	d.mu.RUnlock()
	if fn != nil {
		fn(c)
	}
}

func (d *Device) profileLocked(p int) (*ProfileInfo, error) {
	if d.removed {
		return nil, notFoundf("device %s", d.id)
	}
	if p < 0 || p >= len(d.info.Profiles) {
		return nil, notFoundf("profile %d of device %s", p, d.id)
	}
	return &d.info.Profiles[p], nil
}

func (d *Device) resolutionLocked(p, r int) (*ResolutionInfo, error) {
	prof, err := d.profileLocked(p)
	if err != nil {
		return nil, err
	}
	if r < 0 || r >= len(prof.Resolutions) {
		return nil, notFoundf("resolution %d of profile %d", r, p)
	}
	return &prof.Resolutions[r], nil
}

func (d *Device) buttonLocked(p, b int) (*ButtonInfo, error) {
	prof, err := d.profileLocked(p)
	if err != nil {
		return nil, err
	}
	if b < 0 || b >= len(prof.Buttons) {
		return nil, notFoundf("button %d of profile %d", b, p)
	}
	return &prof.Buttons[b], nil
}

func (d *Device) ledLocked(p, l int) (*LedInfo, error) {
	prof, err := d.profileLocked(p)
	if err != nil {
		return nil, err
	}
	if l < 0 || l >= len(prof.Leds) {
		return nil, notFoundf("led %d of profile %d", l, p)
	}
	return &prof.Leds[l], nil
}
