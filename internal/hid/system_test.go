//go:build !no_hid

package hid

import "testing"

func TestSystemBus(t *testing.T) {
	if _, ok := SystemBus().(System); !ok {
		t.Errorf("SystemBus() = %T, want System", SystemBus())
	}
}
