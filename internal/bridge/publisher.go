package bridge

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zenoh-gst/bridge/internal/framework"
	"github.com/zenoh-gst/bridge/internal/transport"
)

// MatchingChangedFunc is invoked when the publisher's subscriber
// presence flips between empty and non-empty (spec §4.3). The real
// framework shim wires this to the element's "matching-changed"
// signal and the "zenoh-matching-changed" bus message.
type MatchingChangedFunc func(hasSubscribers bool)

// Publisher is the sink-role element: it turns inbound framework
// buffers into transport publications on one resource name and
// tracks subscriber presence (spec §4.3).
type Publisher struct {
	sm       *StateMachine
	cfg      *LockedConfig
	registry *Registry
	dial     transport.Dialer
	logger   *slog.Logger
	compress Registry

	Stats PublisherStats

	now func() time.Time

	mu             sync.Mutex
	handle         *Handle
	pub            transport.Publisher
	presenceCloser interface{ Close() error }
	onMatching     MatchingChangedFunc
	activeCancel   context.CancelFunc
	unblockCh      chan struct{}

	alive atomic.Bool // guards the presence-notifier closure, spec §9

	hasSubscribers atomic.Bool

	// running resources: caps-retransmission clock and last-seen caps
	// (spec §3), allocated at Ready->Paused, dropped at Paused->Ready.
	currentCaps  framework.Caps
	haveCaps     bool
	lastSentCaps framework.Caps
	capsSent     bool
	lastCapsSend time.Time
}

// NewPublisher constructs a Publisher resting in StateNull. cfg is
// copied; registry and dial resolve the transport session at
// Null->Ready (see Registry.Acquire).
func NewPublisher(cfg Config, registry *Registry, dial transport.Dialer, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	sm := NewStateMachine()
	return &Publisher{
		sm:       sm,
		cfg:      NewLockedConfig(cfg, sm),
		registry: registry,
		dial:     dial,
		logger:   logger,
		compress: DefaultRegistry(),
		now:      time.Now,
	}
}

// OnMatchingChanged registers the callback fired on every presence
// transition. Must be called before Start (Null->Ready).
func (p *Publisher) OnMatchingChanged(fn MatchingChangedFunc) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onMatching = fn
}

// HasSubscribers reports the most recently observed presence value.
// Safe to read from any goroutine at any time (spec invariant:
// "presence flag is atomically readable at any moment").
func (p *Publisher) HasSubscribers() bool {
	return p.hasSubscribers.Load()
}

// State returns the element's current resting state.
func (p *Publisher) State() State { return p.sm.State() }

// Start performs the Null->Ready transition: resolve the session,
// declare the publisher, install the presence listener and run the
// initial presence probe (spec §4.1).
func (p *Publisher) Start(ctx context.Context) error {
	return p.sm.Transition("Publisher.Start", StateReady, func() error {
		cfg := p.cfg.Snapshot()
		if err := cfg.Validate(); err != nil {
			return err
		}

		handle, err := p.registry.Acquire(ctx, cfg.SessionGroup, p.dial, cfg.TransportConfig)
		if err != nil {
			return err
		}

		pub, err := handle.Session.DeclarePublisher(ctx, cfg.KeyExpr, cfg.QoS)
		if err != nil {
			_ = handle.Release()
			return newErr("Publisher.Start", KindResourceInit, err)
		}

		p.alive.Store(true)

		p.mu.Lock()
		p.handle = handle
		p.pub = pub
		p.mu.Unlock()

		closer, err := pub.OnPresenceChange(func(has bool) {
			if !p.alive.Load() {
				return // element torn down; drop the notification (spec §9)
			}
			p.hasSubscribers.Store(has)
			p.mu.Lock()
			fn := p.onMatching
			p.mu.Unlock()
			if fn != nil {
				fn(has)
			}
		})
		if err != nil {
			p.logger.Warn("zenoh publisher presence listener install failed",
				"key_expr", cfg.KeyExpr, "error", err)
		} else {
			p.mu.Lock()
			p.presenceCloser = closer
			p.mu.Unlock()
		}

		has, err := pub.HasMatchingSubscribers(ctx)
		if err != nil {
			p.logger.Debug("zenoh publisher initial presence probe failed",
				"key_expr", cfg.KeyExpr, "error", err)
		} else {
			p.hasSubscribers.Store(has)
		}
		return nil
	})
}

// Pause performs Ready->Paused (allocate running resources and arm
// the unlock hook) or Playing->Paused (no structural change, but any
// suspended Render is unblocked to return promptly).
func (p *Publisher) Pause(ctx context.Context) error {
	phase := p.sm.State()
	if phase == StatePlaying {
		p.Unlock()
		return p.sm.Transition("Publisher.Pause", StatePaused, func() error { return nil })
	}
	return p.sm.Transition("Publisher.Pause", StatePaused, func() error {
		p.mu.Lock()
		p.unblockCh = make(chan struct{})
		p.haveCaps = false
		p.capsSent = false
		p.lastCapsSend = time.Time{}
		p.mu.Unlock()
		return nil
	})
}

// Play performs Paused->Playing: no structural change, data flow
// becomes permissible.
func (p *Publisher) Play(ctx context.Context) error {
	return p.sm.Transition("Publisher.Play", StatePlaying, func() error {
		// Re-arm the unlock hook if a previous Playing->Paused closed it.
		p.mu.Lock()
		select {
		case <-p.unblockCh:
			p.unblockCh = make(chan struct{})
		default:
		}
		p.mu.Unlock()
		return nil
	})
}

// Stop performs Paused->Ready: drop running resources, keep transport
// resources.
func (p *Publisher) Stop(ctx context.Context) error {
	return p.sm.Transition("Publisher.Stop", StateReady, func() error {
		p.mu.Lock()
		p.unblockCh = nil
		p.mu.Unlock()
		return nil
	})
}

// Teardown performs Ready->Null: drop the publisher and release the
// session via the registry (decref).
func (p *Publisher) Teardown(ctx context.Context) error {
	return p.sm.Transition("Publisher.Teardown", StateNull, func() error {
		p.alive.Store(false)

		p.mu.Lock()
		pub, handle, closer := p.pub, p.handle, p.presenceCloser
		p.pub, p.handle, p.presenceCloser = nil, nil, nil
		p.mu.Unlock()

		if closer != nil {
			_ = closer.Close()
		}
		var err error
		if pub != nil {
			err = pub.Close()
		}
		if handle != nil {
			if rerr := handle.Release(); rerr != nil && err == nil {
				err = rerr
			}
		}
		return err
	})
}

// Unlock signals any in-flight Render call to return promptly,
// implementing the framework's flush interruption hook (spec §5).
func (p *Publisher) Unlock() {
	p.mu.Lock()
	ch := p.unblockCh
	cancel := p.activeCancel
	p.mu.Unlock()
	if ch != nil {
		select {
		case <-ch:
		default:
			close(ch)
		}
	}
	if cancel != nil {
		cancel()
	}
}

// SetCaps updates the negotiated caps the publisher attaches to
// buffers when send-caps is enabled. The framework shim calls this on
// every upstream caps event.
func (p *Publisher) SetCaps(caps framework.Caps) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.haveCaps && p.currentCaps == caps {
		return
	}
	p.currentCaps = caps
	p.haveCaps = true
}

// Render implements the per-buffer publish contract of spec §4.3.
func (p *Publisher) Render(ctx context.Context, buf *framework.Buffer) error {
	cfg := p.cfg.Snapshot()

	env := Envelope{}
	if cfg.SendCaps {
		p.mu.Lock()
		shouldSend := p.shouldSendCapsLocked(cfg)
		caps, haveCaps := p.currentCaps, p.haveCaps
		if shouldSend {
			p.lastSentCaps = caps
			p.capsSent = true
			p.lastCapsSend = p.now()
		}
		p.mu.Unlock()
		if shouldSend && haveCaps {
			env.Caps = caps
			env.HasCaps = true
		}
	}
	if cfg.SendBufferMeta {
		if buf.HasPTS() {
			v := int64(buf.PTS)
			env.PTS = &v
		}
		if buf.HasDTS() {
			v := int64(buf.DTS)
			env.DTS = &v
		}
		if buf.HasDuration() {
			v := int64(buf.Duration)
			env.Duration = &v
		}
		if buf.HasOffset() {
			v := int64(buf.Offset)
			env.Offset = &v
		}
		if buf.HasOffsetEnd() {
			v := int64(buf.OffsetEnd)
			env.OffsetEnd = &v
		}
		env.Flags = buf.Flags
		env.HasFlags = true
	}

	payload := buf.Data
	beforeLen := int64(len(payload))
	if cfg.Compression != "" && cfg.Compression != CompressionNone {
		if c, ok := p.compress[cfg.Compression]; ok {
			compressed, err := c.Compress(payload, cfg.CompressionLevel)
			if err != nil {
				// fail-open: publish uncompressed, omit the tag (spec §4.3 step 3)
				p.logger.Warn("zenoh publisher compression failed, publishing uncompressed",
					"key_expr", cfg.KeyExpr, "algorithm", cfg.Compression, "error", err)
			} else {
				payload = compressed
				env.Compression = cfg.Compression
			}
		} else {
			p.logger.Warn("zenoh publisher compression algorithm not available, publishing uncompressed",
				"key_expr", cfg.KeyExpr, "algorithm", cfg.Compression)
		}
	}

	attachment := env.Encode()

	p.mu.Lock()
	pub := p.pub
	renderCtx, cancel := context.WithCancel(ctx)
	p.activeCancel = cancel
	unblock := p.unblockCh
	p.mu.Unlock()

	if unblock != nil {
		stop := make(chan struct{})
		defer close(stop)
		go func() {
			select {
			case <-unblock:
				cancel()
			case <-stop:
			}
		}()
	}

	var putErr error
	if pub == nil {
		putErr = fmt.Errorf("publisher not started")
	} else {
		putErr = pub.Put(renderCtx, payload, attachment)
	}

	p.mu.Lock()
	p.activeCancel = nil
	p.mu.Unlock()
	cancel()

	if putErr != nil {
		p.Stats.Errors.Add(1)
		if cfg.QoS.CongestionControl == transport.CongestionDrop {
			p.Stats.Dropped.Add(1)
			return nil
		}
		return newErr("Publisher.Render", KindPublish, putErr)
	}

	p.Stats.MessagesSent.Add(1)
	p.Stats.BytesSent.Add(int64(len(payload)))
	p.Stats.BytesBeforeCompression.Add(beforeLen)
	p.Stats.BytesAfterCompression.Add(int64(len(payload)))
	return nil
}

// shouldSendCapsLocked decides whether this render should attach
// gst.caps, per spec §4.3 step 2: first buffer of the current caps,
// OR the caps-retransmission interval elapsed, OR caps changed since
// last send. Caller must hold p.mu.
func (p *Publisher) shouldSendCapsLocked(cfg Config) bool {
	if !p.haveCaps {
		return false
	}
	if !p.capsSent {
		return true
	}
	if p.currentCaps != p.lastSentCaps {
		return true
	}
	if cfg.CapsIntervalSec > 0 {
		elapsed := p.now().Sub(p.lastCapsSend)
		if elapsed >= time.Duration(cfg.CapsIntervalSec)*time.Second {
			return true
		}
	}
	return false
}

// RenderBatch processes a list of buffers delivered by the framework
// in one call, in order. Under block congestion policy a failure
// aborts the remainder of the list; under drop policy it is counted
// and the remainder continues (spec §4.3 "Batching").
func (p *Publisher) RenderBatch(ctx context.Context, bufs []*framework.Buffer) error {
	cfg := p.cfg.Snapshot()
	for _, buf := range bufs {
		if err := p.Render(ctx, buf); err != nil {
			if cfg.QoS.CongestionControl == transport.CongestionDrop {
				continue
			}
			return err
		}
	}
	return nil
}
