package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/zenoh-gst/bridge/internal/framework"
	"github.com/zenoh-gst/bridge/internal/transport"
)

// defaultSubscriberCapacity is the fixed FIFO capacity the spec
// mandates (§4.4: "a bounded FIFO handler of fixed capacity"). It is
// not part of the element configuration surface (spec §6 lists only
// receive-timeout-ms and apply-buffer-meta as subscriber properties).
const defaultSubscriberCapacity = 256

// ErrTryAgain is returned by Create when the FIFO was empty for the
// whole receive-timeout window, so the framework can poll for
// flush/EOS without the element appearing hung (spec §4.4 step 1,
// §8.8).
var ErrTryAgain = errors.New("zenoh subscriber: try again")

// ErrFlushing is returned by Create when the element is being paused,
// stopped or torn down while a pop was in flight (spec §4.4
// "Shutdown path").
var ErrFlushing = errors.New("zenoh subscriber: flushing")

// Subscriber is the source-role element: it reverses the publisher's
// envelope and feeds the framework one buffer per received sample, in
// the transport's arrival order (spec §4.4).
type Subscriber struct {
	sm       *StateMachine
	cfg      *LockedConfig
	registry *Registry
	dial     transport.Dialer
	logger   *slog.Logger
	compress Registry

	Stats SubscriberStats

	mu        sync.Mutex
	handle    *Handle
	sub       transport.Subscriber
	unblockCh chan struct{}

	haveLastCaps bool
	lastCaps     framework.Caps
}

// NewSubscriber constructs a Subscriber resting in StateNull.
func NewSubscriber(cfg Config, registry *Registry, dial transport.Dialer, logger *slog.Logger) *Subscriber {
	if logger == nil {
		logger = slog.Default()
	}
	sm := NewStateMachine()
	return &Subscriber{
		sm:       sm,
		cfg:      NewLockedConfig(cfg, sm),
		registry: registry,
		dial:     dial,
		logger:   logger,
		compress: DefaultRegistry(),
	}
}

// SetCompressionRegistry overrides the set of compression algorithms
// this subscriber understands. A tag present in the envelope but
// absent from this registry is treated as "not compiled in"
// (KindFeatureMissing) even if the algorithm exists elsewhere in the
// binary — this is how a build lacking an optional codec is modelled
// (spec §8.6, scenario S6), without real Go build tags.
func (s *Subscriber) SetCompressionRegistry(r Registry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.compress = r
}

// State returns the element's current resting state.
func (s *Subscriber) State() State { return s.sm.State() }

// Start performs Null->Ready: declare the subscription with its
// bounded FIFO; the transport drains samples into it on its own
// threads.
func (s *Subscriber) Start(ctx context.Context) error {
	return s.sm.Transition("Subscriber.Start", StateReady, func() error {
		cfg := s.cfg.Snapshot()
		if err := cfg.Validate(); err != nil {
			return err
		}

		handle, err := s.registry.Acquire(ctx, cfg.SessionGroup, s.dial, cfg.TransportConfig)
		if err != nil {
			return err
		}

		sub, err := handle.Session.DeclareSubscriber(ctx, cfg.KeyExpr, defaultSubscriberCapacity)
		if err != nil {
			_ = handle.Release()
			return newErr("Subscriber.Start", KindResourceInit, err)
		}

		s.mu.Lock()
		s.handle = handle
		s.sub = sub
		s.mu.Unlock()
		return nil
	})
}

// Pause performs Ready->Paused (allocate running resources, arm the
// flush hook) or Playing->Paused (unblock any suspended Create).
func (s *Subscriber) Pause(ctx context.Context) error {
	if s.sm.State() == StatePlaying {
		s.Unlock()
		return s.sm.Transition("Subscriber.Pause", StatePaused, func() error { return nil })
	}
	return s.sm.Transition("Subscriber.Pause", StatePaused, func() error {
		s.mu.Lock()
		s.unblockCh = make(chan struct{})
		s.haveLastCaps = false
		s.mu.Unlock()
		return nil
	})
}

// Play performs Paused->Playing: no structural change.
func (s *Subscriber) Play(ctx context.Context) error {
	return s.sm.Transition("Subscriber.Play", StatePlaying, func() error {
		// Re-arm the flush hook if a previous Playing->Paused closed it.
		s.mu.Lock()
		select {
		case <-s.unblockCh:
			s.unblockCh = make(chan struct{})
		default:
		}
		s.mu.Unlock()
		return nil
	})
}

// Stop performs Paused->Ready: flush any in-flight Create promptly
// and drop running resources, keeping the transport subscription live
// (spec's Subscriber-resources entity lives until Ready->Null; only
// the running-resources overlay is dropped here).
func (s *Subscriber) Stop(ctx context.Context) error {
	s.Unlock()
	return s.sm.Transition("Subscriber.Stop", StateReady, func() error {
		s.mu.Lock()
		s.unblockCh = nil
		s.mu.Unlock()
		return nil
	})
}

// Teardown performs Ready->Null: close the subscription's FIFO and
// release the session via the registry (decref).
func (s *Subscriber) Teardown(ctx context.Context) error {
	s.Unlock()
	return s.sm.Transition("Subscriber.Teardown", StateNull, func() error {
		s.mu.Lock()
		sub, handle := s.sub, s.handle
		s.sub, s.handle = nil, nil
		s.mu.Unlock()

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

// Unlock signals any in-flight Create call to return ErrFlushing
// promptly (spec §5's flush interruption hook).
func (s *Subscriber) Unlock() {
	s.mu.Lock()
	ch := s.unblockCh
	s.mu.Unlock()
	if ch == nil {
		return
	}
	select {
	case <-ch:
	default:
		close(ch)
	}
}

// Create implements the framework's pull callback (spec §4.4): pop
// from the FIFO with a bounded timeout, reverse the envelope, and
// return the reconstructed buffer. sink receives any caps update that
// must precede the buffer.
func (s *Subscriber) Create(ctx context.Context, sink framework.Sink) (*framework.Buffer, error) {
	cfg := s.cfg.Snapshot()

	s.mu.Lock()
	sub := s.sub
	unblock := s.unblockCh
	s.mu.Unlock()
	if sub == nil {
		return nil, fmt.Errorf("subscriber not started")
	}

	timeout := time.Duration(cfg.ReceiveTimeoutMS) * time.Millisecond
	if timeout <= 0 {
		timeout = time.Second
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case sample, ok := <-sub.Samples():
		if !ok {
			return nil, ErrFlushing
		}
		return s.handleSample(sample, cfg, sink)
	case <-timer.C:
		return nil, ErrTryAgain
	case <-unblock:
		return nil, ErrFlushing
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *Subscriber) handleSample(sample transport.Sample, cfg Config, sink framework.Sink) (*framework.Buffer, error) {
	env, err := DecodeEnvelope(sample.Attachment)
	if err != nil {
		s.Stats.Errors.Add(1)
		return nil, newErr("Subscriber.Create", KindStreamCorrupt, err)
	}

	if !env.Legacy && env.HasCaps && (!s.haveLastCaps || env.Caps != s.lastCaps) {
		s.haveLastCaps = true
		s.lastCaps = env.Caps
		if sink != nil {
			if err := sink.PushCaps("", env.Caps); err != nil {
				s.logger.Warn("zenoh subscriber caps push failed", "error", err)
			}
		}
	}

	payload := sample.Payload
	var featureMissing error
	if !env.Legacy && env.Compression != "" {
		c, ok := s.compress[env.Compression]
		if !ok {
			s.Stats.Errors.Add(1)
			featureMissing = newErr("Subscriber.Create", KindFeatureMissing,
				fmt.Errorf("compression algorithm %q not compiled in", env.Compression))
			s.logger.Warn("zenoh subscriber compression tag not available, passing raw bytes through",
				"algorithm", env.Compression)
		} else {
			decoded, derr := c.Decompress(payload)
			if derr != nil {
				s.Stats.Errors.Add(1)
				return nil, newErr("Subscriber.Create", KindStreamCorrupt, derr)
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

	s.Stats.MessagesReceived.Add(1)
	s.Stats.BytesReceived.Add(int64(len(sample.Payload)))

	return buf, featureMissing
}
