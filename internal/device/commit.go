package device

import (
	"context"
	"errors"
)

// Actor realizes a commit on hardware. WriteProfile receives the complete
// state of one profile and may block on I/O.
type Actor interface {
	WriteProfile(ctx context.Context, p ProfileInfo) error
}

// Commit status codes reported over the object surface.
const (
	StatusSuccess        = 0
	StatusNoDriver       = 1
	StatusPartialFailure = 2
	StatusFailure        = 3
)

// CommitResult tells the caller which profiles reached the hardware.
type CommitResult struct {
	Status  int   `json:"status"`
	Written []int `json:"written"`
	Failed  []int `json:"failed"`
	// Profiles holds the state the actor accepted, in Written order.
	Profiles []ProfileInfo `json:"-"`
	// Err joins one *HardwareError per failed profile.
	Err error `json:"-"`
}

// Commit writes every dirty profile to the actor and clears dirty flags on
// the profiles the actor accepted. Without an actor it returns
// StatusNoDriver and leaves the tree untouched.
//
// The returned error is non-nil only when the commit could not run at all
// (the device is gone). Hardware failures are reported through the result.
func (d *Device) Commit(ctx context.Context) (CommitResult, error) {
	d.writeMu.Lock()
	defer d.writeMu.Unlock()

	d.mu.RLock()
	if d.removed {
		d.mu.RUnlock()
		return CommitResult{}, notFoundf("device %s", d.id)
	}
	actor := d.actor
	if actor == nil {
		d.mu.RUnlock()
		return CommitResult{Status: StatusNoDriver}, nil
	}
	var pending []ProfileInfo
	for _, p := range d.info.Profiles {
		if p.IsDirty {
			pending = append(pending, p.Clone())
		}
	}
	d.mu.RUnlock()

	res := CommitResult{Status: StatusSuccess, Written: []int{}, Failed: []int{}}
	var errs []error
	for _, p := range pending {
		if err := actor.WriteProfile(ctx, p); err != nil {
			res.Failed = append(res.Failed, p.Index)
			errs = append(errs, &HardwareError{Profile: p.Index, Err: err})
			continue
		}
		p.IsDirty = false
		res.Written = append(res.Written, p.Index)
		res.Profiles = append(res.Profiles, p)
	}

	if len(res.Written) > 0 {
		d.mu.Lock()
		for _, i := range res.Written {
			d.info.Profiles[i].IsDirty = false
		}
		d.mu.Unlock()
	}

	switch {
	case len(res.Failed) == 0:
	case len(res.Written) == 0:
		res.Status = StatusFailure
	default:
		res.Status = StatusPartialFailure
	}
	res.Err = errors.Join(errs...)
	return res, nil
}
