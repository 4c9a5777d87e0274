// Package metrics exports prune run counters in the Prometheus text format,
// for node_exporter's textfile collector.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"mcprune.dev/internal/prune"
)

type RunMetrics struct {
	reg *prometheus.Registry

	files          *prometheus.GaugeVec
	chunksIndexed  *prometheus.GaugeVec
	decodeFailures *prometheus.GaugeVec
	boundary       *prometheus.GaugeVec
	kept           *prometheus.GaugeVec
	pruned         *prometheus.GaugeVec
	rewritten      *prometheus.GaugeVec
	failed         *prometheus.GaugeVec
	bytesReclaimed *prometheus.GaugeVec
	duration       *prometheus.GaugeVec
	lastRun        *prometheus.GaugeVec
}

var labels = []string{"dimension"}

func NewRunMetrics() *RunMetrics {
	reg := prometheus.NewRegistry()
	gauge := func(name, help string) *prometheus.GaugeVec {
		return promauto.With(reg).NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "mcprune",
			Name:      name,
			Help:      help,
		}, labels)
	}
	return &RunMetrics{
		reg:            reg,
		files:          gauge("region_files", "Region files found in the last run"),
		chunksIndexed:  gauge("chunks_indexed", "Chunks with a decodable inhabited time"),
		decodeFailures: gauge("chunk_decode_failures", "Chunks kept because they could not be decoded"),
		boundary:       gauge("boundary_chunks", "Active chunks on the edge of the active area"),
		kept:           gauge("kept_chunks", "Chunks in the keep set"),
		pruned:         gauge("pruned_chunks", "Chunks removed by the last run"),
		rewritten:      gauge("rewritten_files", "Region files rewritten by the last run"),
		failed:         gauge("failed_files", "Region files the last run failed on"),
		bytesReclaimed: gauge("reclaimed_bytes", "Bytes freed by truncating rewritten region files"),
		duration:       gauge("run_duration_seconds", "Wall time of the last run"),
		lastRun:        gauge("last_run_timestamp_seconds", "Unix time the last run finished"),
	}
}

func (m *RunMetrics) Registry() *prometheus.Registry { return m.reg }

func (m *RunMetrics) Observe(rep *prune.Report) {
	dim := string(rep.Dimension)
	var reclaimed int64
	failed := 0
	for _, o := range rep.PerFile {
		if o.Err != nil {
			failed++
			continue
		}
		reclaimed += o.SizeBefore - o.SizeAfter
	}

	m.files.WithLabelValues(dim).Set(float64(rep.Files))
	m.chunksIndexed.WithLabelValues(dim).Set(float64(rep.ChunksIndexed))
	m.decodeFailures.WithLabelValues(dim).Set(float64(rep.DecodeFailures))
	m.boundary.WithLabelValues(dim).Set(float64(rep.Boundary))
	m.kept.WithLabelValues(dim).Set(float64(rep.Kept))
	m.pruned.WithLabelValues(dim).Set(float64(rep.Pruned))
	m.rewritten.WithLabelValues(dim).Set(float64(rep.Rewritten))
	m.failed.WithLabelValues(dim).Set(float64(failed))
	m.bytesReclaimed.WithLabelValues(dim).Set(float64(reclaimed))
	m.duration.WithLabelValues(dim).Set(rep.Finished.Sub(rep.Started).Seconds())
	m.lastRun.WithLabelValues(dim).Set(float64(rep.Finished.Unix()))
}

// WriteTextfile writes every gauge to path atomically.
func (m *RunMetrics) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, m.reg)
}
