package bridge

import "sync/atomic"

// counters is the statistics base shared by every element kind (spec
// §3's Statistics entity). All fields are atomic; the data path never
// takes a lock to update them (spec §5).
type counters struct {
	MessagesSent     atomic.Int64
	MessagesReceived atomic.Int64
	BytesSent        atomic.Int64
	BytesReceived    atomic.Int64
	Errors           atomic.Int64
	Dropped          atomic.Int64
}

// PublisherStats adds the pre/post-compression counters spec §6
// exposes only on the publisher.
type PublisherStats struct {
	counters
	BytesBeforeCompression atomic.Int64
	BytesAfterCompression  atomic.Int64
}

// Snapshot returns a point-in-time copy safe to read without racing
// the atomics (each field load is itself atomic; the struct copy as a
// whole is not a single atomic operation, which is acceptable for a
// read-only statistics surface per spec §3).
func (s *PublisherStats) Snapshot() PublisherSnapshot {
	return PublisherSnapshot{
		MessagesSent:            s.MessagesSent.Load(),
		BytesSent:               s.BytesSent.Load(),
		Errors:                  s.Errors.Load(),
		Dropped:                 s.Dropped.Load(),
		BytesBeforeCompression:  s.BytesBeforeCompression.Load(),
		BytesAfterCompression:   s.BytesAfterCompression.Load(),
	}
}

// PublisherSnapshot is the immutable view returned by
// PublisherStats.Snapshot.
type PublisherSnapshot struct {
	MessagesSent           int64
	BytesSent              int64
	Errors                 int64
	Dropped                int64
	BytesBeforeCompression int64
	BytesAfterCompression  int64
}

// SubscriberStats is spec §6's subscriber statistics surface.
type SubscriberStats struct {
	counters
}

func (s *SubscriberStats) Snapshot() SubscriberSnapshot {
	return SubscriberSnapshot{
		MessagesReceived: s.MessagesReceived.Load(),
		BytesReceived:    s.BytesReceived.Load(),
		Errors:           s.Errors.Load(),
		Dropped:          s.Dropped.Load(),
	}
}

type SubscriberSnapshot struct {
	MessagesReceived int64
	BytesReceived    int64
	Errors           int64
	Dropped          int64
}

// DemuxStats adds the output-ports-created counter spec §6 calls
// pads-created.
type DemuxStats struct {
	SubscriberStats
	PadsCreated atomic.Int64
}

func (s *DemuxStats) Snapshot() DemuxSnapshot {
	return DemuxSnapshot{
		SubscriberSnapshot: s.SubscriberStats.Snapshot(),
		PadsCreated:        s.PadsCreated.Load(),
	}
}

type DemuxSnapshot struct {
	SubscriberSnapshot
	PadsCreated int64
}
