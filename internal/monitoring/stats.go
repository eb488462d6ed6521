package monitoring

import (
	"context"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/eventcam/internal/events"
	"github.com/banshee-data/eventcam/internal/timeutil"
)

// maxSamples bounds the container-size window kept for summaries.
const maxSamples = 4096

// StreamStats counts the traffic a stream.Generator processes. Counters are
// exported through a private Prometheus registry; container sizes are kept
// in a rolling window and summarised on demand.
type StreamStats struct {
	reg        *prometheus.Registry
	containers prometheus.Counter
	packets    *prometheus.CounterVec
	emitted    prometheus.Counter
	invalid    prometheus.Counter

	mu      sync.Mutex
	sizes   []float64
	next    int
	totals  Snapshot
	started time.Time
}

// Snapshot is a point-in-time copy of the counters.
type Snapshot struct {
	Containers    int64            `json:"containers"`
	Packets       map[string]int64 `json:"packets"`
	Events        int64            `json:"events"`
	InvalidEvents int64            `json:"invalid_events"`

	// Container size summary over the most recent containers.
	MeanPackets   float64 `json:"mean_packets_per_container"`
	StdDevPackets float64 `json:"stddev_packets_per_container"`
	P95Packets    float64 `json:"p95_packets_per_container"`

	Uptime time.Duration `json:"uptime_ns"`
}

// NewStreamStats returns zeroed statistics with their own registry.
func NewStreamStats() *StreamStats {
	s := &StreamStats{
		reg: prometheus.NewRegistry(),
		containers: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "eventcam",
			Name:      "containers_total",
			Help:      "Packet containers received from the device.",
		}),
		packets: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "eventcam",
			Name:      "packets_total",
			Help:      "Event packets received, by sensor type.",
		}, []string{"type"}),
		emitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "eventcam",
			Name:      "events_total",
			Help:      "Valid polarity events emitted by the generator.",
		}),
		invalid: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "eventcam",
			Name:      "invalid_events_total",
			Help:      "Polarity events skipped because their valid mark was clear.",
		}),
		totals:  Snapshot{Packets: make(map[string]int64)},
		started: time.Now(),
	}
	s.reg.MustRegister(s.containers, s.packets, s.emitted, s.invalid)
	return s
}

// AddContainer records a container holding the given number of packets.
func (s *StreamStats) AddContainer(packets int) {
	s.containers.Inc()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.totals.Containers++
	if len(s.sizes) < maxSamples {
		s.sizes = append(s.sizes, float64(packets))
		return
	}
	s.sizes[s.next] = float64(packets)
	s.next = (s.next + 1) % maxSamples
}

// AddPacket records a packet of n events.
func (s *StreamStats) AddPacket(t events.SensorType, n int) {
	name := t.String()
	s.packets.WithLabelValues(name).Inc()

	s.mu.Lock()
	s.totals.Packets[name]++
	s.mu.Unlock()
}

// AddEvents records emitted valid events and skipped invalid ones.
func (s *StreamStats) AddEvents(emitted, invalid int) {
	if emitted > 0 {
		s.emitted.Add(float64(emitted))
	}
	if invalid > 0 {
		s.invalid.Add(float64(invalid))
	}

	s.mu.Lock()
	s.totals.Events += int64(emitted)
	s.totals.InvalidEvents += int64(invalid)
	s.mu.Unlock()
}

// Snapshot returns the current counters and container size summary.
func (s *StreamStats) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := s.totals
	snap.Packets = make(map[string]int64, len(s.totals.Packets))
	for k, v := range s.totals.Packets {
		snap.Packets[k] = v
	}
	snap.Uptime = time.Since(s.started)

	if len(s.sizes) > 0 {
		snap.MeanPackets, snap.StdDevPackets = stat.MeanStdDev(s.sizes, nil)
		if len(s.sizes) == 1 {
			snap.StdDevPackets = 0
		}
		sorted := slices.Clone(s.sizes)
		slices.Sort(sorted)
		snap.P95Packets = stat.Quantile(0.95, stat.Empirical, sorted, nil)
	}
	return snap
}

// Registry exposes the Prometheus registry holding the stream counters.
func (s *StreamStats) Registry() *prometheus.Registry { return s.reg }

// Handler serves the counters in the Prometheus exposition format.
func (s *StreamStats) Handler() http.Handler {
	return promhttp.HandlerFor(s.reg, promhttp.HandlerOpts{Registry: s.reg})
}

// LogStats writes one summary line through Logf.
func (s *StreamStats) LogStats() {
	snap := s.Snapshot()
	Logf("[stats] containers=%d packets=%v events=%d invalid=%d packets/container=%.2f±%.2f p95=%.0f",
		snap.Containers, snap.Packets, snap.Events, snap.InvalidEvents,
		snap.MeanPackets, snap.StdDevPackets, snap.P95Packets)
}

// Run calls LogStats every interval until ctx is done.
func (s *StreamStats) Run(ctx context.Context, clock timeutil.Clock, interval time.Duration) {
	if interval <= 0 {
		return
	}
	t := clock.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C():
			s.LogStats()
		}
	}
}
