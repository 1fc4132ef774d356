package metrics

import (
	"sync/atomic"
	"time"
)

// ID names one counter.
type ID uint16

const (
	LoginSuccess ID = iota
	LoginFailure
	LoginInactive
	PasswordHashUpgraded
	RefreshSuccess
	RefreshFailure
	RefreshExpired
	RefreshReuseDetected
	AccessVerified
	AccessRejected
	AccessRevoked
	Logout
	LogoutAll
	ResetRequest
	ResetRateLimited
	ResetNotifyFailure
	OTPVerifySuccess
	OTPVerifyFailure
	OTPExpired
	PasswordChangeSuccess
	PasswordChangeRejected
	BackendUnavailable
	LoginLatency
	RefreshLatency
	VerifyLatency
	idCount
)

// BucketCount is the number of histogram buckets, the last being +Inf.
const BucketCount = 8

const cacheLineSize = 64

type paddedCounter struct {
	value uint64
	_     [cacheLineSize - 8]byte
}

type histogram struct {
	buckets [BucketCount]uint64
	sumNano uint64
}

// Config toggles collection.
type Config struct {
	Enabled bool `koanf:"enabled"`
	Latency bool `koanf:"latency"`
}

// Metrics is safe for concurrent use. A nil *Metrics records nothing.
type Metrics struct {
	enabled    bool
	latency    bool
	counters   [idCount]paddedCounter
	histograms [idCount]histogram
}

// Snapshot is a point-in-time copy. Histogram buckets are non-cumulative.
type Snapshot struct {
	Counters   map[ID]uint64
	Histograms map[ID][]uint64
	Sums       map[ID]time.Duration
}

func New(cfg Config) *Metrics {
	return &Metrics{
		enabled: cfg.Enabled,
		latency: cfg.Enabled && cfg.Latency,
	}
}

func (m *Metrics) Enabled() bool {
	return m != nil && m.enabled
}

func (m *Metrics) Inc(id ID) {
	if m == nil || !m.enabled || id >= idCount {
		return
	}
	atomic.AddUint64(&m.counters[id].value, 1)
}

// Observe records d in the histogram of a latency metric. Other ids are
// ignored.
func (m *Metrics) Observe(id ID, d time.Duration) {
	if m == nil || !m.latency || !isLatency(id) {
		return
	}
	if d < 0 {
		d = 0
	}
	atomic.AddUint64(&m.histograms[id].buckets[bucketIndex(d)], 1)
	atomic.AddUint64(&m.histograms[id].sumNano, uint64(d))
}

func (m *Metrics) Value(id ID) uint64 {
	if m == nil || id >= idCount {
		return 0
	}
	return atomic.LoadUint64(&m.counters[id].value)
}

func (m *Metrics) Snapshot() Snapshot {
	if m == nil || !m.enabled {
		return Snapshot{Counters: map[ID]uint64{}, Histograms: map[ID][]uint64{}, Sums: map[ID]time.Duration{}}
	}

	s := Snapshot{
		Counters:   make(map[ID]uint64, int(idCount)),
		Histograms: make(map[ID][]uint64, len(latencyIDs)),
		Sums:       make(map[ID]time.Duration, len(latencyIDs)),
	}
	for id := ID(0); id < idCount; id++ {
		if isLatency(id) {
			continue
		}
		s.Counters[id] = atomic.LoadUint64(&m.counters[id].value)
	}
	if m.latency {
		for _, id := range latencyIDs {
			buckets := make([]uint64, BucketCount)
			for i := range buckets {
				buckets[i] = atomic.LoadUint64(&m.histograms[id].buckets[i])
			}
			s.Histograms[id] = buckets
			s.Sums[id] = time.Duration(atomic.LoadUint64(&m.histograms[id].sumNano))
		}
	}
	return s
}

var latencyIDs = []ID{LoginLatency, RefreshLatency, VerifyLatency}

func isLatency(id ID) bool {
	return id == LoginLatency || id == RefreshLatency || id == VerifyLatency
}

func bucketIndex(d time.Duration) int {
	ms := d.Milliseconds()
	switch {
	case ms <= 5:
		return 0
	case ms <= 10:
		return 1
	case ms <= 25:
		return 2
	case ms <= 50:
		return 3
	case ms <= 100:
		return 4
	case ms <= 250:
		return 5
	case ms <= 500:
		return 6
	default:
		return 7
	}
}
