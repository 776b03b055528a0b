// Package metrics метрики Prometheus для автоматов, сигналов и RTP соединений.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/arzzra/media_control/pkg/machine"
	"github.com/arzzra/media_control/pkg/mgcp"
	"github.com/arzzra/media_control/pkg/rtpconn"
)

// Config конфигурация метрик
type Config struct {
	Enabled   bool   `mapstructure:"enabled"`
	Listen    string `mapstructure:"listen"`
	Path      string `mapstructure:"path"`
	Namespace string `mapstructure:"namespace"`
}

// DefaultConfig возвращает конфигурацию по умолчанию
func DefaultConfig() Config {
	return Config{
		Enabled:   true,
		Listen:    ":9102",
		Path:      "/metrics",
		Namespace: "mediagw",
	}
}

// Collector собирает метрики. Подключается наблюдателем к автоматам
// (machine.Observer), к соединениям (rtpconn.Listener) и к центру
// уведомлений (mgcp.EventObserver).
type Collector struct {
	transitions     *prometheus.CounterVec
	declined        *prometheus.CounterVec
	failures        *prometheus.CounterVec
	signals         *prometheus.CounterVec
	connectionsOpen prometheus.Gauge

	mu   sync.Mutex
	open map[string]struct{}
}

var (
	_ machine.Observer   = (*Collector)(nil)
	_ rtpconn.Listener   = (*Collector)(nil)
	_ mgcp.EventObserver = (*Collector)(nil)
)

// New создает сборщик и регистрирует метрики в reg. При reg == nil метрики не регистрируются.
func New(namespace string, reg prometheus.Registerer) *Collector {
	factory := promauto.With(reg)
	return &Collector{
		transitions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transitions_total",
			Help:      "Total number of completed state machine transitions",
		}, []string{"machine", "from", "to", "event"}),
		declined: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transitions_declined_total",
			Help:      "Total number of events declined by state machines",
		}, []string{"machine", "event"}),
		failures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transition_failures_total",
			Help:      "Total number of exceptions raised inside transitions",
		}, []string{"machine"}),
		signals: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "signals_total",
			Help:      "Total number of signal outcome events",
		}, []string{"package", "symbol", "outcome"}),
		connectionsOpen: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connections_open",
			Help:      "Number of RTP connections in OPEN state",
		}),
		open: make(map[string]struct{}),
	}
}

// Transitioned учитывает выполненный переход
func (c *Collector) Transitioned(name string, tr machine.Transition) {
	c.transitions.WithLabelValues(name, tr.From, tr.To, tr.Event).Inc()
}

// Declined учитывает отклоненное событие
func (c *Collector) Declined(name, _, event string) {
	c.declined.WithLabelValues(name, event).Inc()
}

// Failed учитывает исключение в переходе
func (c *Collector) Failed(name string, _ machine.Transition, _ error) {
	c.failures.WithLabelValues(name).Inc()
}

// OnConnectionState ведет число открытых соединений. Повторный OPEN после
// смены режима не учитывается.
func (c *Collector) OnConnectionState(conn *rtpconn.Connection, state string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, isOpen := c.open[conn.ID()]
	switch state {
	case rtpconn.StateOpen:
		if !isOpen {
			c.open[conn.ID()] = struct{}{}
			c.connectionsOpen.Inc()
		}
	case rtpconn.StateCorrupted, rtpconn.StateClosed:
		if isOpen {
			delete(c.open, conn.ID())
			c.connectionsOpen.Dec()
		}
	}
}

// OnEvent учитывает итоговое событие сигнала, outcome это код возврата rc
func (c *Collector) OnEvent(_ any, ev mgcp.Event) {
	rc, _ := ev.Parameter("rc")
	c.signals.WithLabelValues(ev.Package, ev.Symbol, rc).Inc()
}
