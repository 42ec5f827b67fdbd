package bridge

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/zenoh-gst/bridge/internal/framework"
	"github.com/zenoh-gst/bridge/internal/transport"
)

// demuxPort is the per-resource-name routing slot of spec §3's
// "Output port record (demux only)" entity. Its fields are only ever
// mutated by the single pump goroutine that drains the wildcard
// subscription, so no lock guards them individually once inserted —
// only the ports map itself needs one (spec §5: "port-map mutex taken
// briefly to look up or insert; the push ... done without the lock
// held").
type demuxPort struct {
	name         string
	firstSample  bool
	haveLastCaps bool
	lastCaps     framework.Caps
}

// Demux is the demultiplexer element: from one wildcard subscription
// it materialises one output port per distinct concrete resource name
// observed and routes each sample to the right port (spec §4.5).
type Demux struct {
	sm       *StateMachine
	cfg      *LockedConfig
	registry *Registry
	dial     transport.Dialer
	logger   *slog.Logger
	compress Registry
	sink     framework.Sink

	Stats DemuxStats

	mu     sync.Mutex
	handle *Handle
	sub    transport.Subscriber

	portsMu sync.Mutex
	ports   map[string]*demuxPort

	pumpCancel context.CancelFunc
	pumpDone   chan struct{}
}

// NewDemux constructs a Demux resting in StateNull. sink is the
// framework seam the routed buffers (and port-added / stream-start /
// segment / caps events) are pushed to; it is fixed for the element's
// lifetime, unlike the Subscriber which receives its sink per Create
// call from the framework's pull.
func NewDemux(cfg Config, registry *Registry, dial transport.Dialer, sink framework.Sink, logger *slog.Logger) *Demux {
	if logger == nil {
		logger = slog.Default()
	}
	sm := NewStateMachine()
	return &Demux{
		sm:       sm,
		cfg:      NewLockedConfig(cfg, sm),
		registry: registry,
		dial:     dial,
		logger:   logger,
		compress: DefaultRegistry(),
		sink:     sink,
		ports:    make(map[string]*demuxPort),
	}
}

// SetCompressionRegistry mirrors Subscriber.SetCompressionRegistry.
func (d *Demux) SetCompressionRegistry(r Registry) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.compress = r
}

// State returns the element's current resting state.
func (d *Demux) State() State { return d.sm.State() }

// Ports returns the names of every output port created so far. The
// map is insert-only for the element's lifetime (spec invariant).
func (d *Demux) Ports() []string {
	d.portsMu.Lock()
	defer d.portsMu.Unlock()
	names := make([]string, 0, len(d.ports))
	for name := range d.ports {
		names = append(names, name)
	}
	return names
}

// Start performs Null->Ready: declare the wildcard subscription.
func (d *Demux) Start(ctx context.Context) error {
	return d.sm.Transition("Demux.Start", StateReady, func() error {
		cfg := d.cfg.Snapshot()
		if err := cfg.Validate(); err != nil {
			return err
		}

		handle, err := d.registry.Acquire(ctx, cfg.SessionGroup, d.dial, cfg.TransportConfig)
		if err != nil {
			return err
		}

		sub, err := handle.Session.DeclareSubscriber(ctx, cfg.KeyExpr, defaultSubscriberCapacity)
		if err != nil {
			_ = handle.Release()
			return newErr("Demux.Start", KindResourceInit, err)
		}

		d.mu.Lock()
		d.handle = handle
		d.sub = sub
		d.mu.Unlock()
		return nil
	})
}

// Pause performs Ready->Paused (no structural change beyond the
// state itself — the port map is allocated once in NewDemux and is
// never reset) or Playing->Paused, which stops the routing pump.
func (d *Demux) Pause(ctx context.Context) error {
	if d.sm.State() == StatePlaying {
		return d.sm.Transition("Demux.Pause", StatePaused, func() error {
			d.stopPump()
			return nil
		})
	}
	return d.sm.Transition("Demux.Pause", StatePaused, func() error { return nil })
}

// Play performs Paused->Playing: starts the goroutine that drains the
// wildcard subscription and routes samples to output ports. This is
// the element's "own streaming thread" referred to in spec §9's
// discussion of dynamic port creation off the transport's delivery
// thread.
func (d *Demux) Play(ctx context.Context) error {
	return d.sm.Transition("Demux.Play", StatePlaying, func() error {
		d.mu.Lock()
		sub := d.sub
		d.mu.Unlock()
		if sub == nil {
			return newErr("Demux.Play", KindResourceInit, errNotStarted)
		}
		pumpCtx, cancel := context.WithCancel(context.Background())
		done := make(chan struct{})
		d.pumpCancel = cancel
		d.pumpDone = done
		go d.pump(pumpCtx, sub, done)
		return nil
	})
}

// Stop performs Paused->Ready: defensively ensures the pump is
// stopped (normally already true after Pause).
func (d *Demux) Stop(ctx context.Context) error {
	return d.sm.Transition("Demux.Stop", StateReady, func() error {
		d.stopPump()
		return nil
	})
}

// Teardown performs Ready->Null: stop the pump, close the
// subscription and release the session via the registry.
func (d *Demux) Teardown(ctx context.Context) error {
	return d.sm.Transition("Demux.Teardown", StateNull, func() error {
		d.stopPump()

		d.mu.Lock()
		sub, handle := d.sub, d.handle
		d.sub, d.handle = nil, nil
		d.mu.Unlock()

		var err error
		if sub != nil {
			err = sub.Close()
		}
		if handle != nil {
			if rerr := handle.Release(); rerr != nil && err == nil {
				err = rerr
			}
		}
		return err
	})
}

func (d *Demux) stopPump() {
	if d.pumpCancel == nil {
		return
	}
	d.pumpCancel()
	<-d.pumpDone
	d.pumpCancel = nil
	d.pumpDone = nil
}

func (d *Demux) pump(ctx context.Context, sub transport.Subscriber, done chan struct{}) {
	defer close(done)
	for {
		select {
		case sample, ok := <-sub.Samples():
			if !ok {
				return
			}
			d.route(sample)
		case <-ctx.Done():
			return
		}
	}
}

// route implements spec §4.5's per-sample algorithm.
func (d *Demux) route(sample transport.Sample) {
	cfg := d.cfg.Snapshot()
	env, _ := DecodeEnvelope(sample.Attachment)

	resourceName := sample.KeyExpr
	if !env.Legacy && env.KeyExpr != "" {
		resourceName = env.KeyExpr
	}
	portName := PortName(cfg.PadNaming, resourceName)

	d.portsMu.Lock()
	p, exists := d.ports[portName]
	if !exists {
		p = &demuxPort{name: portName, firstSample: true}
		d.ports[portName] = p
	}
	d.portsMu.Unlock()

	if !exists {
		d.Stats.PadsCreated.Add(1)
		if err := d.sink.AddPort(portName); err != nil {
			d.logger.Warn("zenoh demux port creation failed", "port", portName, "error", err)
		}
	}

	if p.firstSample {
		if err := d.sink.PushStreamStart(portName); err != nil {
			d.logger.Warn("zenoh demux stream-start push failed", "port", portName, "error", err)
		}
		if err := d.sink.PushSegment(portName); err != nil {
			d.logger.Warn("zenoh demux segment push failed", "port", portName, "error", err)
		}
		p.firstSample = false
	}

	if !env.Legacy && env.HasCaps && (!p.haveLastCaps || env.Caps != p.lastCaps) {
		p.haveLastCaps = true
		p.lastCaps = env.Caps
		if err := d.sink.PushCaps(portName, env.Caps); err != nil {
			d.logger.Warn("zenoh demux caps push failed", "port", portName, "error", err)
		}
	}

	payload := sample.Payload
	if !env.Legacy && env.Compression != "" {
		c, ok := d.compress[env.Compression]
		if !ok {
			d.Stats.Errors.Add(1)
			d.logger.Warn("zenoh demux compression tag not available, passing raw bytes through",
				"port", portName, "algorithm", env.Compression)
		} else {
			decoded, err := c.Decompress(payload)
			if err != nil {
				d.Stats.Errors.Add(1)
				d.logger.Warn("zenoh demux decompression failed, buffer dropped",
					"port", portName, "algorithm", env.Compression, "error", err)
				return
			}
			payload = decoded
		}
	}

	buf := &framework.Buffer{Data: payload}
	if !env.Legacy && cfg.ApplyBufferMeta {
		if env.PTS != nil {
			buf.SetPTS(time.Duration(*env.PTS))
		} else {
			buf.SetPTS(sample.Timestamp)
		}
		if env.DTS != nil {
			buf.SetDTS(time.Duration(*env.DTS))
		}
		if env.Duration != nil {
			buf.SetDuration(time.Duration(*env.Duration))
		}
		if env.Offset != nil {
			buf.SetOffset(uint64(*env.Offset))
		}
		if env.OffsetEnd != nil {
			buf.SetOffsetEnd(uint64(*env.OffsetEnd))
		}
		if env.HasFlags {
			buf.Flags = env.Flags
		}
	} else {
		buf.SetPTS(sample.Timestamp)
	}

	d.Stats.MessagesReceived.Add(1)
	d.Stats.BytesReceived.Add(int64(len(sample.Payload)))

	if err := d.sink.PushBuffer(portName, buf); err != nil {
		d.logger.Warn("zenoh demux buffer push failed", "port", portName, "error", err)
	}
}
