// Package orchestrator acquires, caches, and supervises a remote
// kernel session, exposing a single Execute operation that always
// terminates in output or a reported failure.
package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/juniper-run/juniper/pkg/events"
	"github.com/juniper-run/juniper/pkg/kernel"
	"github.com/juniper-run/juniper/pkg/log"
	"github.com/juniper-run/juniper/pkg/provision"
	"github.com/juniper-run/juniper/pkg/session"
)

// OutputSink is the rendering collaborator's handle. The orchestrator
// writes transitional and failure messages through it and attaches the
// kernel output stream of each delivered execution.
type OutputSink interface {
	// WriteMessage displays a transitional or failure message.
	WriteMessage(text string)
	// Clear removes any transitional content.
	Clear()
	// Stream attaches an execution's output stream. The sink owns
	// draining the future; transport errors surfacing on it are the
	// kernel service's concern and pass through unmodified.
	Stream(future *kernel.ExecuteFuture)
}

type discardSink struct{}

func (discardSink) WriteMessage(string) {}
func (discardSink) Clear()              {}
func (discardSink) Stream(future *kernel.ExecuteFuture) {
	go func() {
		for range future.Outputs() {
		}
	}()
}

// pendingAcquisition is the shared result concurrent Execute calls
// wait on while one acquisition is in flight.
type pendingAcquisition struct {
	done   chan struct{}
	handle *kernel.Handle
	err    error
}

// Orchestrator owns the single live session handle and the policy for
// (re)acquiring it. Construct one per independent cell group; nothing
// here is ambient state.
type Orchestrator struct {
	opts        Options
	bus         *events.Bus
	cache       *session.Cache
	provisioner *provision.Client
	kernels     *kernel.Manager

	mu        sync.Mutex
	handle    *kernel.Handle
	fromCache bool
	pending   *pendingAcquisition
}

// New validates the options and builds an orchestrator.
func New(opts Options) (*Orchestrator, error) {
	opts = opts.withDefaults()

	if opts.UseProvisioning && opts.Repository == "" {
		return nil, fmt.Errorf("provisioning requires a repository")
	}
	if !opts.UseProvisioning && opts.StaticSettings == nil {
		return nil, fmt.Errorf("either provisioning or static connection settings are required")
	}
	if opts.StaticSettings != nil {
		if err := opts.StaticSettings.Validate(); err != nil {
			return nil, fmt.Errorf("static connection settings: %w", err)
		}
	}

	bus := events.NewBus()

	cache := session.Disabled()
	if opts.UseCache {
		cache = session.New(opts.CacheDir, opts.CacheKey)
	}

	o := &Orchestrator{
		opts:  opts,
		bus:   bus,
		cache: cache,
		provisioner: provision.New(provision.Config{
			ServiceURL: opts.ServiceURL,
			Bus:        bus,
		}),
		kernels: kernel.NewManager(kernel.ManagerConfig{
			Bus:        bus,
			Store:      cache,
			StoreTTL:   opts.CacheTTL,
			KernelType: opts.KernelType,
		}),
	}
	return o, nil
}

// Events subscribes to lifecycle status events. The returned function
// unsubscribes.
func (o *Orchestrator) Events() (<-chan events.Event, func()) {
	return o.bus.Subscribe()
}

// Execute runs code on the kernel session, acquiring one first if
// needed. Every failure is converted into the configured error message
// on the sink plus a "failed" status; the returned error carries the
// underlying cause for callers that inspect it.
func (o *Orchestrator) Execute(ctx context.Context, code string, sink OutputSink) error {
	if sink == nil {
		sink = discardSink{}
	}

	o.bus.Publish(events.StatusExecuting, nil)

	handle, err := o.ensureSession(ctx, sink)
	if err != nil {
		return err
	}

	if o.opts.IsolateExecutions {
		if err := handle.Restart(ctx); err != nil {
			log.Warn("kernel restart failed, dropping session", "error", err)
			o.bus.Publish(events.StatusFailed, nil)
			o.dropHandle()
			sink.Clear()
			sink.WriteMessage(o.opts.ErrorMessage)
			return err
		}
	}

	sink.Clear()
	sink.WriteMessage(o.opts.LoadingMessage)
	future, err := handle.RequestExecute(code)
	if err != nil {
		o.bus.Publish(events.StatusFailed, nil)
		o.dropHandle()
		sink.WriteMessage(o.opts.ErrorMessage)
		return err
	}
	sink.Stream(future)
	return nil
}

// ensureSession returns the live handle, acquiring one if none is
// held. Acquisition is single-flight: callers arriving while one is in
// flight wait for its outcome instead of provisioning again.
func (o *Orchestrator) ensureSession(ctx context.Context, sink OutputSink) (*kernel.Handle, error) {
	o.mu.Lock()
	if o.handle != nil {
		handle := o.handle
		o.mu.Unlock()
		return handle, nil
	}
	if o.pending != nil {
		pending := o.pending
		o.mu.Unlock()
		select {
		case <-pending.done:
			if pending.err != nil {
				sink.WriteMessage(o.opts.ErrorMessage)
				return nil, pending.err
			}
			return pending.handle, nil
		case <-ctx.Done():
			sink.WriteMessage(o.opts.ErrorMessage)
			return nil, ctx.Err()
		}
	}
	pending := &pendingAcquisition{done: make(chan struct{})}
	o.pending = pending
	o.mu.Unlock()

	o.bus.Publish(events.StatusRequestingKernel, nil)

	// The cache peek both decides the placeholder wording and feeds
	// the acquisition, so the two can never disagree.
	record, fromCache := o.cache.Load()
	o.writePlaceholder(sink, fromCache)

	handle, err := o.acquire(ctx, record)

	o.mu.Lock()
	if err == nil {
		o.handle = handle
		o.fromCache = fromCache
	} else {
		if fromCache {
			// Stale or dead cached settings; do not loop on them.
			if clearErr := o.cache.Clear(); clearErr != nil {
				log.Warn("failed to clear session cache", "error", clearErr)
			}
		}
		o.fromCache = false
	}
	pending.handle, pending.err = handle, err
	o.pending = nil
	o.mu.Unlock()
	close(pending.done)

	if err != nil {
		log.Warn("session acquisition failed", "error", err, "from_cache", fromCache)
		o.bus.Publish(events.StatusFailed, nil)
		sink.Clear()
		sink.WriteMessage(o.opts.ErrorMessage)
		return nil, err
	}
	return handle, nil
}

// acquire resolves connection settings in priority order: cached
// record, fresh provisioning, static settings.
func (o *Orchestrator) acquire(ctx context.Context, record *session.Record) (*kernel.Handle, error) {
	if record != nil {
		return o.kernels.Start(ctx, record.Settings)
	}
	if o.opts.UseProvisioning {
		settings, err := o.provisioner.Build(ctx, o.opts.Repository, o.opts.Branch)
		if err != nil {
			return nil, err
		}
		return o.kernels.Start(ctx, settings)
	}
	return o.kernels.Start(ctx, *o.opts.StaticSettings)
}

func (o *Orchestrator) writePlaceholder(sink OutputSink, fromCache bool) {
	action := "Launching"
	if fromCache {
		action = "Reconnecting to"
	}

	target := o.opts.ServiceURL
	if !o.opts.UseProvisioning && o.opts.StaticSettings != nil {
		target = o.opts.StaticSettings.BaseURL
	}
	host := target
	if idx := strings.Index(host, "//"); idx >= 0 {
		host = host[idx+2:]
	}

	sink.Clear()
	sink.WriteMessage(fmt.Sprintf("%s Docker container on %s...", action, host))
}

func (o *Orchestrator) dropHandle() {
	o.mu.Lock()
	handle := o.handle
	o.handle = nil
	o.fromCache = false
	o.mu.Unlock()

	if handle != nil {
		// Best effort; the session is already considered dead.
		go func() {
			_ = handle.Shutdown(context.Background())
		}()
	}
}

// Close tears down the held session, if any, and shuts the event bus.
func (o *Orchestrator) Close() error {
	o.mu.Lock()
	handle := o.handle
	o.handle = nil
	o.mu.Unlock()

	var err error
	if handle != nil {
		err = handle.Shutdown(context.Background())
	}
	o.bus.Close()
	return err
}
