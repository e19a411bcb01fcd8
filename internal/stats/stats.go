package stats

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "nmea_bridge"

// Stats tracks sentence processing and link statistics. Counters are kept
// both as plain atomics for the periodic log line and as Prometheus
// collectors for /metrics.
type Stats struct {
	// Sentence counts
	ReceivedSentences uint64
	DecodedRecords    uint64
	DroppedSentences  uint64

	// Fan-out counts
	Deliveries      uint64
	SkippedMessages uint64
	SinkErrors      uint64

	// Link
	ReconnectAttempts uint64
	Subscribers       int64

	LastRecordTime time.Time
	StartTime      time.Time

	dropReasons map[string]uint64
	recordKinds map[string]uint64
	linkState   string
	mu          sync.RWMutex

	registry      *prometheus.Registry
	received      prometheus.Counter
	decoded       *prometheus.CounterVec
	dropped       *prometheus.CounterVec
	delivered     prometheus.Counter
	skipped       prometheus.Counter
	sinkErrors    *prometheus.CounterVec
	reconnects    prometheus.Counter
	subscribers   prometheus.Gauge
	linkStateInfo *prometheus.GaugeVec
}

// New creates a Stats instance with its own Prometheus registry
func New() *Stats {
	s := &Stats{
		StartTime:   time.Now(),
		dropReasons: make(map[string]uint64),
		recordKinds: make(map[string]uint64),
		linkState:   "disconnected",
		registry:    prometheus.NewRegistry(),

		received: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sentences_received_total",
			Help:      "Total lines received from the upstream link",
		}),
		decoded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_decoded_total",
			Help:      "Total records decoded, by kind",
		}, []string{"kind"}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sentences_dropped_total",
			Help:      "Total lines dropped by the decoder, by reason",
		}, []string{"reason"}),
		delivered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "broadcast",
			Name:      "deliveries_total",
			Help:      "Total messages handed to subscribers",
		}),
		skipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "broadcast",
			Name:      "skipped_total",
			Help:      "Total messages skipped because a subscriber was busy",
		}),
		sinkErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sink",
			Name:      "errors_total",
			Help:      "Total publish errors, by sink",
		}, []string{"sink"}),
		reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "link",
			Name:      "connect_attempts_total",
			Help:      "Total upstream connection attempts",
		}),
		subscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "broadcast",
			Name:      "subscribers",
			Help:      "Current number of subscribers",
		}),
		linkStateInfo: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "link",
			Name:      "state",
			Help:      "Current link state (1 for the active state)",
		}, []string{"state"}),
	}

	s.registry.MustRegister(
		s.received, s.decoded, s.dropped, s.delivered, s.skipped,
		s.sinkErrors, s.reconnects, s.subscribers, s.linkStateInfo,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	s.SetLinkState("disconnected")
	return s
}

// Registry returns the Prometheus registry holding the collectors
func (s *Stats) Registry() *prometheus.Registry {
	return s.registry
}

// Handler serves the registry in the Prometheus exposition format
func (s *Stats) Handler() http.Handler {
	return promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{Registry: s.registry})
}

// IncrementReceived counts a line handed to the decoder
func (s *Stats) IncrementReceived() {
	atomic.AddUint64(&s.ReceivedSentences, 1)
	s.received.Inc()
}

// IncrementDecoded counts a decoded record of the given kind
func (s *Stats) IncrementDecoded(kind string) {
	atomic.AddUint64(&s.DecodedRecords, 1)
	s.decoded.WithLabelValues(kind).Inc()

	s.mu.Lock()
	s.recordKinds[kind]++
	s.LastRecordTime = time.Now()
	s.mu.Unlock()
}

// IncrementDropped counts a dropped line
func (s *Stats) IncrementDropped(reason string) {
	atomic.AddUint64(&s.DroppedSentences, 1)
	s.dropped.WithLabelValues(reason).Inc()

	s.mu.Lock()
	s.dropReasons[reason]++
	s.mu.Unlock()
}

// AddBroadcast records the outcome of one fan-out
func (s *Stats) AddBroadcast(delivered, skipped int) {
	atomic.AddUint64(&s.Deliveries, uint64(delivered))
	atomic.AddUint64(&s.SkippedMessages, uint64(skipped))
	s.delivered.Add(float64(delivered))
	s.skipped.Add(float64(skipped))
}

// IncrementSinkErrors counts a failed publish to a broker sink
func (s *Stats) IncrementSinkErrors(sink string) {
	atomic.AddUint64(&s.SinkErrors, 1)
	s.sinkErrors.WithLabelValues(sink).Inc()
}

// IncrementReconnects counts a connection attempt
func (s *Stats) IncrementReconnects() {
	atomic.AddUint64(&s.ReconnectAttempts, 1)
	s.reconnects.Inc()
}

// SetSubscribers sets the number of live subscribers
func (s *Stats) SetSubscribers(count int) {
	atomic.StoreInt64(&s.Subscribers, int64(count))
	s.subscribers.Set(float64(count))
}

// SetLinkState records the current link state
func (s *Stats) SetLinkState(state string) {
	s.mu.Lock()
	s.linkState = state
	s.mu.Unlock()

	for _, name := range []string{"disconnected", "connecting", "connected", "waiting_to_reconnect"} {
		v := 0.0
		if name == state {
			v = 1
		}
		s.linkStateInfo.WithLabelValues(name).Set(v)
	}
}

// GetStats returns a copy of the current statistics
func (s *Stats) GetStats() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	reasons := make(map[string]uint64, len(s.dropReasons))
	for k, v := range s.dropReasons {
		reasons[k] = v
	}
	kinds := make(map[string]uint64, len(s.recordKinds))
	for k, v := range s.recordKinds {
		kinds[k] = v
	}

	return map[string]interface{}{
		"received_sentences": atomic.LoadUint64(&s.ReceivedSentences),
		"decoded_records":    atomic.LoadUint64(&s.DecodedRecords),
		"dropped_sentences":  atomic.LoadUint64(&s.DroppedSentences),
		"deliveries":         atomic.LoadUint64(&s.Deliveries),
		"skipped_messages":   atomic.LoadUint64(&s.SkippedMessages),
		"sink_errors":        atomic.LoadUint64(&s.SinkErrors),
		"reconnect_attempts": atomic.LoadUint64(&s.ReconnectAttempts),
		"subscribers":        atomic.LoadInt64(&s.Subscribers),
		"link_state":         s.linkState,
		"drop_reasons":       reasons,
		"record_kinds":       kinds,
		"last_record_time":   s.LastRecordTime,
		"uptime":             time.Since(s.StartTime),
	}
}

// String returns a string representation of the statistics
func (s *Stats) String() string {
	stats := s.GetStats()
	return fmt.Sprintf(
		"Link: %s, Received: %d, Decoded: %d (%s), Dropped: %d (%s), Subscribers: %d, Delivered: %d, Skipped: %d, Sink errors: %d, Connect attempts: %d, Uptime: %s",
		stats["link_state"],
		stats["received_sentences"],
		stats["decoded_records"],
		formatCounts(stats["record_kinds"].(map[string]uint64)),
		stats["dropped_sentences"],
		formatCounts(stats["drop_reasons"].(map[string]uint64)),
		stats["subscribers"],
		stats["deliveries"],
		stats["skipped_messages"],
		stats["sink_errors"],
		stats["reconnect_attempts"],
		stats["uptime"].(time.Duration).Round(time.Second),
	)
}

func formatCounts(counts map[string]uint64) string {
	if len(counts) == 0 {
		return "none"
	}
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := ""
	for i, k := range keys {
		if i > 0 {
			out += " "
		}
		out += fmt.Sprintf("%s=%d", k, counts[k])
	}
	return out
}

// StartReporting logs the statistics every interval until ctx is done
func (s *Stats) StartReporting(ctx context.Context, interval time.Duration, logger *slog.Logger) {
	if interval <= 0 {
		return
	}
	if logger == nil {
		logger = slog.Default()
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("Final statistics", "stats", s.String())
			return
		case <-ticker.C:
			logger.Info("Statistics", "stats", s.String())
		}
	}
}
