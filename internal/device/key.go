package device

import (
	"fmt"
	"strconv"
	"strings"
)

// Kind identifies what a Key points at.
type Kind int

const (
	KindDevice Kind = iota
	KindProfile
	KindResolution
	KindButton
	KindLed
)

var kindSegments = map[Kind]string{
	KindResolution: "resolutions",
	KindButton:     "buttons",
	KindLed:        "leds",
}

func (k Kind) String() string {
	switch k {
	case KindDevice:
		return "device"
	case KindProfile:
		return "profile"
	case KindResolution:
		return "resolution"
	case KindButton:
		return "button"
	case KindLed:
		return "led"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Key addresses a node by (device, profile, kind, child index). Children have
// no identity of their own, so a Key stays meaningful only while its device
// is registered.
type Key struct {
	Device  string
	Profile int
	Kind    Kind
	Index   int
}

func DeviceKey(id string) Key { return Key{Device: id, Kind: KindDevice} }

func ProfileKey(id string, p int) Key { return Key{Device: id, Profile: p, Kind: KindProfile} }

func ResolutionKey(id string, p, r int) Key {
	return Key{Device: id, Profile: p, Kind: KindResolution, Index: r}
}

func ButtonKey(id string, p, b int) Key {
	return Key{Device: id, Profile: p, Kind: KindButton, Index: b}
}

func LedKey(id string, p, l int) Key {
	return Key{Device: id, Profile: p, Kind: KindLed, Index: l}
}

// Path renders the key as a handle, e.g. /devices/test-1/profiles/0/leds/2.
func (k Key) Path() string {
	var b strings.Builder
	b.WriteString("/devices/")
	b.WriteString(k.Device)
	if k.Kind == KindDevice {
		return b.String()
	}
	fmt.Fprintf(&b, "/profiles/%d", k.Profile)
	if seg, ok := kindSegments[k.Kind]; ok {
		fmt.Fprintf(&b, "/%s/%d", seg, k.Index)
	}
	return b.String()
}

func (k Key) String() string { return k.Path() }

// ParseKey is the inverse of Key.Path. Malformed handles are NotFound: a
// handle that cannot be parsed names nothing.
func ParseKey(path string) (Key, error) {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) < 2 || parts[0] != "devices" || parts[1] == "" {
		return Key{}, notFoundf("handle %q", path)
	}
	k := DeviceKey(parts[1])
	rest := parts[2:]
	if len(rest) == 0 {
		return k, nil
	}
	if len(rest) != 2 && len(rest) != 4 || rest[0] != "profiles" {
		return Key{}, notFoundf("handle %q", path)
	}
	p, err := parseIndex(rest[1])
	if err != nil {
		return Key{}, notFoundf("handle %q", path)
	}
	k.Kind, k.Profile = KindProfile, p
	if len(rest) == 2 {
		return k, nil
	}
	idx, err := parseIndex(rest[3])
	if err != nil {
		return Key{}, notFoundf("handle %q", path)
	}
	for kind, seg := range kindSegments {
		if seg == rest[2] {
			k.Kind, k.Index = kind, idx
			return k, nil
		}
	}
	return Key{}, notFoundf("handle %q", path)
}

// parseIndex accepts canonical decimal only, so each node has exactly one
// handle: no sign, no leading zeros.
func parseIndex(s string) (int, error) {
	if s == "" || (len(s) > 1 && s[0] == '0') || strings.TrimLeft(s, "0123456789") != "" {
		return 0, fmt.Errorf("bad index %q", s)
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("bad index %q", s)
	}
	return n, nil
}
