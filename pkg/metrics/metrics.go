// Package metrics 提供 Prometheus 注册表与业务指标模板。
package metrics

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics 指标集合。
type Metrics struct {
	Registry *prometheus.Registry

	// EventsAppended 追加到事件存储的事件数。
	EventsAppended prometheus.Counter
	// ConcurrencyConflicts 乐观并发冲突次数。
	ConcurrencyConflicts prometheus.Counter
	// TransfersTotal 资金划转笔数。
	TransfersTotal prometheus.Counter
	// LocksActive 当前持有的资金锁数量。
	LocksActive prometheus.Gauge
	// MatchesTotal 撮合成交笔数。
	MatchesTotal prometheus.Counter
	// LiquidationsTotal 触发的清算次数。
	LiquidationsTotal prometheus.Counter
	// OracleLatency 价格源查询耗时。
	OracleLatency prometheus.Histogram
}

// New 创建独立注册表与指标实例。
func New(service string) *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(registry)

	return &Metrics{
		Registry: registry,
		EventsAppended: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "ledgercore", Subsystem: service,
			Name: "events_appended_total", Help: "Domain events appended to the event store",
		}),
		ConcurrencyConflicts: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "ledgercore", Subsystem: service,
			Name: "concurrency_conflicts_total", Help: "Optimistic concurrency conflicts",
		}),
		TransfersTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "ledgercore", Subsystem: service,
			Name: "transfers_total", Help: "Ledger transfers executed",
		}),
		LocksActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "ledgercore", Subsystem: service,
			Name: "locks_active", Help: "Fund locks currently held",
		}),
		MatchesTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "ledgercore", Subsystem: service,
			Name: "matches_total", Help: "Order matches executed",
		}),
		LiquidationsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "ledgercore", Subsystem: service,
			Name: "liquidations_total", Help: "Position liquidations started",
		}),
		OracleLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "ledgercore", Subsystem: service,
			Name: "oracle_latency_seconds", Help: "Price oracle query latency",
			Buckets: prometheus.DefBuckets,
		}),
	}
}

// ExposeHTTP 在指定端口暴露 /metrics。
func (m *Metrics) ExposeHTTP(port int) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{}))
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return server.ListenAndServe()
}
