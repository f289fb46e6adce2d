package coordinator

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics 探测相关的 prometheus 指标，nil 时所有方法为空操作
type Metrics struct {
	cycles      *prometheus.CounterVec
	duration    prometheus.Histogram
	inProgress  prometheus.Gauge
	videoWidth  prometheus.Gauge
	videoHeight prometheus.Gauge
}

// NewMetrics 创建并注册指标
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "droneguard",
			Subsystem: "probe",
			Name:      "cycles_total",
			Help:      "Number of finished probe cycles by result.",
		}, []string{"result"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "droneguard",
			Subsystem: "probe",
			Name:      "duration_seconds",
			Help:      "Duration of probe calls.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
		}),
		inProgress: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "droneguard",
			Subsystem: "probe",
			Name:      "in_progress",
			Help:      "1 while a probe cycle is running.",
		}),
		videoWidth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "droneguard",
			Subsystem: "probe",
			Name:      "video_width",
			Help:      "Published video width in pixels.",
		}),
		videoHeight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "droneguard",
			Subsystem: "probe",
			Name:      "video_height",
			Help:      "Published video height in pixels.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.cycles, m.duration, m.inProgress, m.videoWidth, m.videoHeight)
	}
	return m
}

func (m *Metrics) observeState(s State) {
	if m == nil {
		return
	}
	if s.IsProbing {
		m.inProgress.Set(1)
	} else {
		m.inProgress.Set(0)
	}
	m.videoWidth.Set(float64(s.Width))
	m.videoHeight.Set(float64(s.Height))
}

func (m *Metrics) observeCycle(result Result, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.cycles.WithLabelValues(string(result)).Inc()
	m.duration.Observe(elapsed.Seconds())
}
