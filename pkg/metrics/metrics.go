// Copyright 2024 The topicgate Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// package metrics provides Prometheus metrics for the application.
package metrics

import (
	"log"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ConnectionsTotal is a counter for the total number of websocket
	// connections accepted by the gateway.
	ConnectionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "topicgate_connections_total",
		Help: "The total number of client connections accepted.",
	})

	// SubscriptionsActive is a gauge of the number of live (topic,
	// connection) subscription entries in the registry.
	SubscriptionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "topicgate_subscriptions_active",
		Help: "The current number of registered subscriptions.",
	})

	// MessagesPublishedTotal counts authorized publishes that reached the
	// fan-out path.
	MessagesPublishedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "topicgate_messages_published_total",
		Help: "The total number of messages accepted for fan-out.",
	})

	// MessagesDeliveredTotal counts per-subscriber deliveries.
	MessagesDeliveredTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "topicgate_messages_delivered_total",
		Help: "The total number of messages delivered to subscribers.",
	})

	// MessagesDroppedTotal counts deliveries that were dropped because a
	// subscriber's outbound queue was full or its connection was closed.
	MessagesDroppedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "topicgate_messages_dropped_total",
		Help: "The total number of per-subscriber deliveries dropped.",
	})

	// AuthzDeniedTotal counts denied publish/subscribe attempts, labelled
	// by the requested action.
	AuthzDeniedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "topicgate_authz_denied_total",
		Help: "The total number of denied authorization checks.",
	},
		[]string{"action"},
	)

	// RuleFetchFailuresTotal counts failed refreshes of the remote rule set.
	RuleFetchFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "topicgate_rule_fetch_failures_total",
		Help: "The total number of failed rule set fetches.",
	})

	// RuleEvalErrorsTotal counts rule expressions that faulted during
	// evaluation and were treated as deny.
	RuleEvalErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "topicgate_rule_eval_errors_total",
		Help: "The total number of rule expression evaluation faults.",
	})
)

// Serve starts an HTTP server to expose the Prometheus metrics.
func Serve(addr string) {
	http.Handle("/metrics", promhttp.Handler())
	log.Printf("Metrics server listening on %s", addr)
	if err := http.ListenAndServe(addr, nil); err != nil {
		logFatalf("Metrics server failed: %v", err)
	}
}

// logFatalf can be replaced by tests to prevent process exit.
var logFatalf = log.Fatalf
