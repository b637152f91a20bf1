package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder captures package registry activity.
type Recorder interface {
	IncInstallStarted(packageType string)
	IncInstallCompleted(packageType, result string)
	IncSignatureRejected(packageType string)
	ObserveScan(duration time.Duration, packages int)
}

// Noop implements Recorder without emitting anything.
type Noop struct{}

func (Noop) IncInstallStarted(string)           {}
func (Noop) IncInstallCompleted(string, string) {}
func (Noop) IncSignatureRejected(string)        {}
func (Noop) ObserveScan(time.Duration, int)     {}

// Prom implements Recorder backed by Prometheus collectors.
type Prom struct {
	installsStarted    *prometheus.CounterVec
	installsCompleted  *prometheus.CounterVec
	signatureRejected  *prometheus.CounterVec
	scanDuration       prometheus.Histogram
	packagesDiscovered prometheus.Gauge
	once               sync.Once
}

// NewProm creates the collectors and registers them with reg (prometheus.DefaultRegisterer when nil).
func NewProm(namespace string, reg prometheus.Registerer) *Prom {
	p := &Prom{
		installsStarted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "installs_started_total",
			Help:      "Package installations started by package type",
		}, []string{"type"}),
		installsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "installs_completed_total",
			Help:      "Package installations completed by package type and result",
		}, []string{"type", "result"}),
		signatureRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "signature_rejected_total",
			Help:      "Packages refused because their signature did not meet policy",
		}, []string{"type"}),
		scanDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "scan_duration_seconds",
			Help:      "Duration of download directory scans",
			Buckets:   prometheus.DefBuckets,
		}),
		packagesDiscovered: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "packages",
			Help:      "Packages known after the last scan",
		}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	p.register(reg)
	return p
}

func (p *Prom) register(reg prometheus.Registerer) {
	p.once.Do(func() {
		reg.MustRegister(p.installsStarted, p.installsCompleted, p.signatureRejected, p.scanDuration, p.packagesDiscovered)
	})
}

func (p *Prom) IncInstallStarted(packageType string) {
	p.installsStarted.WithLabelValues(packageType).Inc()
}

func (p *Prom) IncInstallCompleted(packageType, result string) {
	p.installsCompleted.WithLabelValues(packageType, result).Inc()
}

func (p *Prom) IncSignatureRejected(packageType string) {
	p.signatureRejected.WithLabelValues(packageType).Inc()
}

func (p *Prom) ObserveScan(duration time.Duration, packages int) {
	p.scanDuration.Observe(duration.Seconds())
	p.packagesDiscovered.Set(float64(packages))
}

// Handler returns an HTTP handler for /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// HandlerFor serves the collectors of a specific gatherer.
func HandlerFor(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
