/* usbhub - host-side USB device management core
 *
 * Supervisor: owns one Transfer Worker, one Device Registry, one
 * optional Update Server, and the background ticker that drives them.
 */

package usbhub

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/gousb"
)

const (
	// PollIntervalFast is the fast tick cadence: drains completion
	// queues and polls the registry/update-server.
	PollIntervalFast = 100 * time.Millisecond

	// PollIntervalSlow is the slow tick cadence: re-issues per-device
	// metadata requests.
	PollIntervalSlow = 1500 * time.Millisecond

	// supervisorQuitDeadline bounds how long Close waits for the
	// background loop to exit on its own before giving up.
	supervisorQuitDeadline = 4 * time.Second
)

// Supervisor orchestrates the whole core: one Worker, one Registry, and
// (optionally) one UpdateServer, ticked by a single background goroutine.
type Supervisor struct {
	cfg *Config

	ctx      *gousb.Context
	worker   *Worker
	registry *Registry
	server   *UpdateServer

	running chan struct{}
	stopped chan struct{}
	once    sync.Once
}

// New creates a Supervisor for the given configuration and starts its
// background ticker. deviceFactory lets the caller attach its own
// per-device wiring (e.g. subscribing to OnText/OnPropertyChange)
// without the Registry needing to know about it.
func New(cfg *Config, deviceFactory func(*Device)) (*Supervisor, error) {
	ctx := gousb.NewContext()

	s := &Supervisor{
		cfg:     cfg,
		ctx:     ctx,
		worker:  NewWorker(Log),
		running: make(chan struct{}),
		stopped: make(chan struct{}),
	}

	factory := func(addr UsbAddr, handle UsbHandle, serial string) *Device {
		dev := NewDevice(addr, handle, s.worker, cfg, serial)
		if deviceFactory != nil {
			deviceFactory(dev)
		}
		return dev
	}

	s.registry = NewRegistry(ctx, cfg.VendorID, cfg.ProductID, factory)

	if cfg.UpdateServerEnable {
		addr := fmt.Sprintf("%s:%d", cfg.UpdateServerHost, cfg.UpdateServerPort)
		srv, err := NewUpdateServer(s.registry, addr)
		if err != nil {
			s.registry.Close()
			s.worker.Quit()
			ctx.Close()
			return nil, err
		}
		s.server = srv
	}

	go s.run()

	return s, nil
}

// run is the Supervisor's background ticker: a fast tick every
// PollIntervalFast, with a slow tick folded in every PollIntervalSlow.
func (s *Supervisor) run() {
	defer close(s.stopped)

	lastSlow := time.Now()

	for {
		select {
		case <-s.running:
			return
		default:
		}

		s.fastTick()

		if time.Since(lastSlow) >= PollIntervalSlow {
			s.slowTick()
			lastSlow = time.Now()
		}

		time.Sleep(PollIntervalFast)
	}
}

// fastTick reconciles the registry, polls the update server, and drains
// every completion queue until empty.
func (s *Supervisor) fastTick() {
	s.registry.Update()

	if s.server != nil {
		s.server.Poll()
	}

	for s.worker.CompleteControlTask() != nil {
	}
	for s.worker.CompleteWriteTask() != nil {
	}
	for s.worker.CompleteReadTask() != nil {
	}
}

// slowTick re-issues auto-metadata requests for every attached device.
func (s *Supervisor) slowTick() {
	for _, dev := range s.registry.All() {
		dev.UpdateMetadata()
	}
}

// Devices returns every currently attached Device.
func (s *Supervisor) Devices() []*Device { return s.registry.All() }

// Close stops the background ticker and tears down the update server,
// registry, and worker, in that order. It waits up to
// supervisorQuitDeadline for the ticker to notice before forcing ahead.
func (s *Supervisor) Close() {
	s.once.Do(func() { close(s.running) })

	select {
	case <-s.stopped:
	case <-time.After(supervisorQuitDeadline):
	}

	if s.server != nil {
		s.server.Close()
	}
	s.registry.Close()
	s.worker.Quit()
	s.ctx.Close()
}
