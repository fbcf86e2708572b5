// Package metrics holds the prometheus collectors shared by the broker,
// the publisher and the feed controller. Every recorder is nil-safe so
// components can run without a registry.
package metrics

import (
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "atpark"

// Broker records upload grants minted by the broker.
type Broker struct {
	grants  *prometheus.CounterVec
	presign prometheus.Histogram
}

func NewBroker(reg prometheus.Registerer) (*Broker, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	b := &Broker{}
	var err error
	b.grants, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "broker",
		Name:      "grants_total",
		Help:      "Upload grants requested, by result.",
	}, []string{"result"}))
	if err != nil {
		return nil, fmt.Errorf("register broker grants counter: %w", err)
	}
	b.presign, err = register(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "broker",
		Name:      "presign_duration_seconds",
		Help:      "Latency of presigning an upload URL.",
		Buckets:   prometheus.DefBuckets,
	}))
	if err != nil {
		return nil, fmt.Errorf("register broker presign histogram: %w", err)
	}
	return b, nil
}

func (b *Broker) RecordGrant(result string, took time.Duration) {
	if b == nil {
		return
	}
	b.grants.WithLabelValues(result).Inc()
	if result == "ok" {
		b.presign.Observe(took.Seconds())
	}
}

// Publisher records the two-hop upload handshake.
type Publisher struct {
	hops  *prometheus.HistogramVec
	fails *prometheus.CounterVec
	bytes prometheus.Counter
}

func NewPublisher(reg prometheus.Registerer) (*Publisher, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	p := &Publisher{}
	var err error
	p.hops, err = register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "publisher",
		Name:      "hop_duration_seconds",
		Help:      "Latency of each publisher hop.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"hop"}))
	if err != nil {
		return nil, fmt.Errorf("register publisher hop histogram: %w", err)
	}
	p.fails, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "publisher",
		Name:      "failures_total",
		Help:      "Publisher failures by hop and error kind.",
	}, []string{"hop", "kind"}))
	if err != nil {
		return nil, fmt.Errorf("register publisher failure counter: %w", err)
	}
	p.bytes, err = register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "publisher",
		Name:      "uploaded_bytes_total",
		Help:      "Bytes successfully uploaded to object storage.",
	}))
	if err != nil {
		return nil, fmt.Errorf("register publisher bytes counter: %w", err)
	}
	return p, nil
}

func (p *Publisher) ObserveHop(hop string, took time.Duration) {
	if p == nil {
		return
	}
	p.hops.WithLabelValues(hop).Observe(took.Seconds())
}

func (p *Publisher) RecordFailure(hop, kind string) {
	if p == nil {
		return
	}
	p.fails.WithLabelValues(hop, kind).Inc()
}

func (p *Publisher) AddBytes(n int64) {
	if p == nil || n <= 0 {
		return
	}
	p.bytes.Add(float64(n))
}

// Feed records page fetches and the size of the held sequence.
type Feed struct {
	fetches *prometheus.CounterVec
	size    prometheus.Gauge
}

func NewFeed(reg prometheus.Registerer) (*Feed, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := &Feed{}
	var err error
	f.fetches, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "feed",
		Name:      "fetches_total",
		Help:      "Feed page fetches by outcome (ok, degraded, error, stale).",
	}, []string{"outcome"}))
	if err != nil {
		return nil, fmt.Errorf("register feed fetch counter: %w", err)
	}
	f.size, err = register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "feed",
		Name:      "records",
		Help:      "Records currently held by the feed.",
	}))
	if err != nil {
		return nil, fmt.Errorf("register feed size gauge: %w", err)
	}
	return f, nil
}

func (f *Feed) RecordFetch(outcome string) {
	if f == nil {
		return
	}
	f.fetches.WithLabelValues(outcome).Inc()
}

func (f *Feed) SetSize(n int) {
	if f == nil {
		return
	}
	f.size.Set(float64(n))
}

// register adds c to reg, reusing an identical collector that is already there.
func register[T prometheus.Collector](reg prometheus.Registerer, c T) (T, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}
