package driver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/niltonperimneto/libratbag/internal/device"
	"github.com/niltonperimneto/libratbag/internal/hid"
)

// ErrClosed is returned by requests made after Close.
var ErrClosed = errors.New("actor closed")

const (
	defaultTimeout = 5 * time.Second
	maxAttempts    = 3
	retryBackoff   = 50 * time.Millisecond
)

type writeRequest struct {
	ctx     context.Context
	profile device.ProfileInfo
	reply   chan error
}

// Actor owns a device transport and its driver. Requests are queued on a
// channel and executed one at a time by a single goroutine, so drivers never
// see concurrent calls. It implements device.Actor.
type Actor struct {
	name      string
	driver    Driver
	transport hid.Transport
	timeout   time.Duration
	logger    *slog.Logger

	requests  chan writeRequest
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// Start probes the device, loads its configuration into info and starts the
// request loop. On failure the transport is closed.
func Start(ctx context.Context, drv Driver, t hid.Transport, info *device.DeviceInfo, timeout time.Duration, logger *slog.Logger) (*Actor, error) {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := drv.Probe(ctx, t); err != nil {
		t.Close()
		return nil, fmt.Errorf("%s probe: %w", drv.Name(), err)
	}
	if err := drv.Load(ctx, t, info); err != nil {
		t.Close()
		return nil, fmt.Errorf("%s load: %w", drv.Name(), err)
	}

	a := &Actor{
		name:      drv.Name(),
		driver:    drv,
		transport: t,
		timeout:   timeout,
		logger:    logger.With("component", "actor", "device", info.ID, "driver", drv.Name()),
		requests:  make(chan writeRequest),
		done:      make(chan struct{}),
	}
	a.wg.Add(1)
	go a.loop()
	return a, nil
}

// Name returns the driver name.
func (a *Actor) Name() string { return a.name }

// WriteProfile queues a profile write and waits for its result.
func (a *Actor) WriteProfile(ctx context.Context, p device.ProfileInfo) error {
	req := writeRequest{ctx: ctx, profile: p, reply: make(chan error, 1)}
	select {
	case a.requests <- req:
	case <-a.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-req.reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops the loop, waits for an in-flight request and closes the transport.
func (a *Actor) Close() error {
	var err error
	a.closeOnce.Do(func() {
		close(a.done)
		a.wg.Wait()
		err = a.transport.Close()
	})
	return err
}

func (a *Actor) loop() {
	defer a.wg.Done()
	for {
		select {
		case <-a.done:
			return
		case req := <-a.requests:
			req.reply <- a.write(req.ctx, req.profile)
		}
	}
}

func (a *Actor) write(parent context.Context, p device.ProfileInfo) error {
	var err error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		ctx, cancel := context.WithTimeout(parent, a.timeout)
		err = a.driver.WriteProfile(ctx, a.transport, p)
		cancel()
		if err == nil {
			a.logger.Debug("profile written", "profile", p.Index, "attempt", attempt)
			return nil
		}
		if parent.Err() != nil || errors.Is(err, device.ErrInvalidArgument) {
			break
		}
		a.logger.Warn("profile write failed", "profile", p.Index, "attempt", attempt, "err", err)
		select {
		case <-time.After(retryBackoff):
		case <-parent.Done():
			return parent.Err()
		case <-a.done:
			return ErrClosed
		}
	}
	return err
}
