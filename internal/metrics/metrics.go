// Package metrics exports mapped file events as Prometheus metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/calvinalkan/mapq/pkg/mapped"
)

// Prometheus is a [mapped.Observer] backed by Prometheus collectors.
type Prometheus struct {
	RegionsMapped      prometheus.Counter
	RegionsUnmapped    prometheus.Counter
	RegionsLive        prometheus.Gauge
	FileGrowths        prometheus.Counter
	FileLength         prometheus.Gauge
	ReservationRetries *prometheus.CounterVec
}

var _ mapped.Observer = (*Prometheus)(nil)

// NewPrometheus registers the collectors with registerer. A nil registerer
// uses [prometheus.DefaultRegisterer].
func NewPrometheus(registerer prometheus.Registerer) *Prometheus {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	factory := promauto.With(registerer)

	return &Prometheus{
		RegionsMapped: factory.NewCounter(prometheus.CounterOpts{
			Name: "mapq_regions_mapped_total",
			Help: "Total number of regions mapped into memory",
		}),
		RegionsUnmapped: factory.NewCounter(prometheus.CounterOpts{
			Name: "mapq_regions_unmapped_total",
			Help: "Total number of regions unmapped",
		}),
		RegionsLive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "mapq_regions_live",
			Help: "Number of regions currently mapped",
		}),
		FileGrowths: factory.NewCounter(prometheus.CounterOpts{
			Name: "mapq_file_growths_total",
			Help: "Total number of times the queue file was extended",
		}),
		FileLength: factory.NewGauge(prometheus.GaugeOpts{
			Name: "mapq_file_length_bytes",
			Help: "Queue file length after the last growth",
		}),
		ReservationRetries: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "mapq_reservation_retries_total",
			Help: "Region reservations retried after losing an install race",
		}, []string{"region"}),
	}
}

func (p *Prometheus) RegionMapped(int) {
	p.RegionsMapped.Inc()
	p.RegionsLive.Inc()
}

func (p *Prometheus) RegionUnmapped(int) {
	p.RegionsUnmapped.Inc()
	p.RegionsLive.Dec()
}

func (p *Prometheus) FileGrown(length int64) {
	p.FileGrowths.Inc()
	p.FileLength.Set(float64(length))
}

// ReservationRetried labels retries "header" for region 0 and "data" for
// the rest, keeping the label set bounded.
func (p *Prometheus) ReservationRetried(index int) {
	label := "data"
	if index == 0 {
		label = "header"
	}

	p.ReservationRetries.WithLabelValues(label).Inc()
}
