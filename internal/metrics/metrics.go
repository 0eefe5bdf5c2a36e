/*
Copyright 2024 Blnk Finance Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "labsync"

// Registry holds every labsync collector plus the process and Go runtime collectors.
var Registry = prometheus.NewRegistry()

var factory = promauto.With(Registry)

var (
	PayloadsSent = factory.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "payloads_sent_total",
		Help:      "Payloads accepted by the reporting endpoint.",
	})

	PayloadsFailed = factory.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "payloads_failed_total",
		Help:      "Failed payload send attempts.",
	})

	BytesSent = factory.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "bytes_sent_total",
		Help:      "Payload body bytes accepted by the reporting endpoint.",
	})

	RecordsSynced = factory.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "records_synced_total",
		Help:      "Staged records marked synced after a successful send.",
	})

	Reconciled = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "reconciled_records_total",
		Help:      "Records written to staging by reconciliation, by outcome.",
	}, []string{"outcome"})

	SendDuration = factory.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "send_duration_seconds",
		Help:      "Time spent sending all payloads of one sync run, retries included.",
		Buckets:   []float64{1, 5, 15, 60, 300, 900, 1800, 3600},
	})

	ClockAnomalies = factory.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "clock_anomalies_total",
		Help:      "Daemon ticks skipped because the wall clock jumped.",
	})

	APIRejections = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "api_rejections_total",
		Help:      "Status API requests turned away before reaching a handler, by reason.",
	}, []string{"reason"})
)

func init() {
	Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
}

// Handler serves the registry in the prometheus exposition format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{Registry: Registry})
}
