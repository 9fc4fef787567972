// Package metrics exports prometheus collectors fed from the event bus and
// an optional HTTP endpoint serving them.
package metrics

import (
	"context"
	"errors"

	"github.com/prometheus/client_golang/prometheus"

	"remindbot/internal/eventbus"
)

const namespace = "remindbot"

// Sources are read at scrape time. Nil funcs are not registered.
type Sources struct {
	Timers   func() int
	QueueLen func() int
}

type Metrics struct {
	firings    *prometheus.CounterVec
	deliveries *prometheus.CounterVec
	syncCalls  *prometheus.CounterVec
	retries    *prometheus.CounterVec
	tasks      *prometheus.CounterVec
	armed      *prometheus.CounterVec
}

// MustNew registers the collectors with reg. Collectors already present in
// reg are reused; any other registration error panics.
func MustNew(reg prometheus.Registerer, src Sources) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		firings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reminder_firings_total",
			Help:      "Reminder firings by kind and result.",
		}, []string{"kind", "result"}),
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deliveries_total",
			Help:      "Per-recipient deliveries by outcome.",
		}, []string{"outcome"}),
		syncCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "calls_total",
			Help:      "Backup mirror operations by op and status.",
		}, []string{"op", "status"}),
		retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "rate_limit_retries_total",
			Help:      "Backup calls retried after a rate limit.",
		}, []string{"op"}),
		tasks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tasks",
			Name:      "finished_total",
			Help:      "Job queue tasks by final status.",
		}, []string{"status"}),
		armed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reminder_arms_total",
			Help:      "Arm attempts by result.",
		}, []string{"result"}),
	}
	m.firings = register(reg, m.firings)
	m.deliveries = register(reg, m.deliveries)
	m.syncCalls = register(reg, m.syncCalls)
	m.retries = register(reg, m.retries)
	m.tasks = register(reg, m.tasks)
	m.armed = register(reg, m.armed)

	if src.Timers != nil {
		registerGauge(reg, prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "timers_live",
			Help:      "Reminder timers currently armed.",
		}, src.Timers)
	}
	if src.QueueLen != nil {
		registerGauge(reg, prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "tasks",
			Name:      "queue_length",
			Help:      "Tasks waiting for a worker.",
		}, src.QueueLen)
	}
	return m
}

func register(reg prometheus.Registerer, c *prometheus.CounterVec) *prometheus.CounterVec {
	if err := reg.Register(c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing
			}
		}
		panic(err)
	}
	return c
}

func registerGauge(reg prometheus.Registerer, opts prometheus.GaugeOpts, fn func() int) {
	g := prometheus.NewGaugeFunc(opts, func() float64 { return float64(fn()) })
	if err := reg.Register(g); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			return
		}
		panic(err)
	}
}

// Observe folds one bus event into the counters. Unknown types are ignored.
func (m *Metrics) Observe(e eventbus.Event) {
	if m == nil {
		return
	}
	switch e.Type {
	case eventbus.ReminderFired:
		if d, ok := e.Data.(eventbus.FiredData); ok {
			m.firings.WithLabelValues(labelOr(d.Kind, "unknown"), d.Result).Inc()
		}
	case eventbus.ReminderDelivered:
		if d, ok := e.Data.(eventbus.DeliveredData); ok {
			m.deliveries.WithLabelValues(d.Outcome).Inc()
		}
	case eventbus.ReminderArmed:
		m.armed.WithLabelValues("armed").Inc()
	case eventbus.ReminderSkipped:
		m.armed.WithLabelValues("skipped_past").Inc()
	case eventbus.SyncPush, eventbus.SyncSubs, eventbus.SyncRestore, eventbus.SyncChats:
		if d, ok := e.Data.(eventbus.SyncData); ok {
			status := "ok"
			if !d.OK {
				status = "error"
			}
			m.syncCalls.WithLabelValues(d.Op, status).Inc()
		}
	case eventbus.SyncRetry:
		if d, ok := e.Data.(eventbus.SyncData); ok {
			m.retries.WithLabelValues(d.Op).Inc()
		}
	case eventbus.TaskDone:
		m.tasks.WithLabelValues("done").Inc()
	case eventbus.TaskFailed:
		m.tasks.WithLabelValues("failed").Inc()
	case eventbus.TaskPanic:
		m.tasks.WithLabelValues("panic").Inc()
	case eventbus.TaskDropped:
		m.tasks.WithLabelValues("dropped").Inc()
	}
}

// Run consumes bus events until ctx ends.
func (m *Metrics) Run(ctx context.Context, bus eventbus.Bus) error {
	ch, unsub := bus.Subscribe(256)
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return nil
		case e, ok := <-ch:
			if !ok {
				return nil
			}
			m.Observe(e)
		}
	}
}

func labelOr(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
