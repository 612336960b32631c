package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ordersCommitted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orderledger_orders_committed_total",
		Help: "Orders committed successfully",
	})

	commitRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orderledger_commit_retries_total",
		Help: "Order commits retried after a store conflict",
	})

	ordersRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orderledger_orders_rejected_total",
		Help: "Orders rejected without committing",
	}, []string{"reason"})
)
