package mfapi

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "kreditbee_mfapi_requests_total",
	Help: "Upstream NAV API requests by outcome.",
}, []string{"outcome"})
