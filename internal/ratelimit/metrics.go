package ratelimit

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	acquireTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kreditbee_ratelimit_acquire_total",
		Help: "Acquire outcomes across all buckets.",
	}, []string{"result"})

	// failOpenTotal is the observability signal for the documented fail-open
	// policy: it counts requests admitted because the shared store was
	// unreachable.
	failOpenTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "kreditbee_ratelimit_fail_open_total",
		Help: "Requests admitted without a store decision because the store was unreachable.",
	})
)
