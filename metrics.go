package TXC

import "github.com/prometheus/client_golang/prometheus"

const metricsNamespace = "txc"

type metrics struct {
	begins              *prometheus.CounterVec
	commits             prometheus.Counter
	rollbacks           prometheus.Counter
	unexpectedRollbacks prometheus.Counter
	suspensions         prometheus.Counter
	savepoints          prometheus.Counter
	expired             prometheus.Counter
	active              prometheus.Gauge
}

// registerer 为 nil 时指标照常计数, 只是不注册
func newMetrics(registerer prometheus.Registerer) *metrics {
	m := &metrics{
		begins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "begin_total",
			Help:      "Begin calls by propagation decision.",
		}, []string{"action"}),
		commits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "physical_commit_total",
			Help:      "Physical commits issued to resources.",
		}),
		rollbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "physical_rollback_total",
			Help:      "Physical rollbacks issued to resources.",
		}),
		unexpectedRollbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "unexpected_rollback_total",
			Help:      "Commits converted to rollbacks by a rollback-only mark.",
		}),
		suspensions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "suspension_total",
			Help:      "Transactions suspended for an inner transaction.",
		}),
		savepoints: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "savepoint_total",
			Help:      "Nested transactions started on a savepoint.",
		}),
		expired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "expired_total",
			Help:      "Journaled physical transactions found past their timeout.",
		}),
		active: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "active_physical_transactions",
			Help:      "Physical transactions currently bound to an execution context.",
		}),
	}

	if registerer != nil {
		registerer.MustRegister(m.begins, m.commits, m.rollbacks, m.unexpectedRollbacks,
			m.suspensions, m.savepoints, m.expired, m.active)
	}
	return m
}
