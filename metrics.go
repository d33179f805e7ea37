package vkhelper

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes bootstrap and transfer counters. A nil *Metrics records nothing.
type Metrics struct {
	deviceScore      *prometheus.GaugeVec
	bytesTransferred prometheus.Counter
	fenceWait        prometheus.Histogram
	transfers        *prometheus.CounterVec
	resources        *prometheus.GaugeVec
}

// NewMetrics creates the collectors and registers them on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		deviceScore: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "vkhelper",
				Subsystem: "device",
				Name:      "score",
				Help:      "Compute suitability score per physical device (negative means unusable)",
			},
			[]string{"device", "index"},
		),
		bytesTransferred: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "vkhelper",
				Subsystem: "transfer",
				Name:      "bytes_total",
				Help:      "Bytes copied between host and device buffers",
			},
		),
		fenceWait: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "vkhelper",
				Subsystem: "sync",
				Name:      "fence_wait_seconds",
				Help:      "Time the host spent blocked on submission fences",
				Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 10),
			},
		),
		transfers: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "vkhelper",
				Subsystem: "transfer",
				Name:      "runs_total",
				Help:      "Transfer pipeline runs by result",
			},
			[]string{"result"},
		),
		resources: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "vkhelper",
				Subsystem: "resources",
				Name:      "live",
				Help:      "GPU resources currently owned by the helper",
			},
			[]string{"kind"},
		),
	}
	if reg != nil {
		reg.MustRegister(m.deviceScore, m.bytesTransferred, m.fenceWait, m.transfers, m.resources)
	}
	return m
}

// observeDeviceScore keys the score by name and enumeration index so identical devices keep separate series.
func (m *Metrics) observeDeviceScore(index int, device string, score int) {
	if m == nil {
		return
	}
	m.deviceScore.WithLabelValues(device, strconv.Itoa(index)).Set(float64(score))
}

func (m *Metrics) addBytes(n uint64) {
	if m == nil {
		return
	}
	m.bytesTransferred.Add(float64(n))
}

func (m *Metrics) observeFenceWait(d time.Duration) {
	if m == nil {
		return
	}
	m.fenceWait.Observe(d.Seconds())
}

func (m *Metrics) transferDone(result string) {
	if m == nil {
		return
	}
	m.transfers.WithLabelValues(result).Inc()
}

func (m *Metrics) resourceCreated(kind string) {
	if m == nil {
		return
	}
	m.resources.WithLabelValues(kind).Inc()
}

func (m *Metrics) resourceReleased(kind string) {
	if m == nil {
		return
	}
	m.resources.WithLabelValues(kind).Dec()
}
