// Copyright (C) 2026 adb-toolkit project
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.

// SPDX-License-Identifier: LGPL-3.0-or-later

package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "agent"

// Registry holds all agent collectors. A dedicated registry keeps the
// exposition free of collectors registered by other libraries.
var Registry = prometheus.NewRegistry()

func init() {
	Registry.MustRegister(collectors.NewGoCollector())
	Registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
}

var (
	// HTTPRequests counts API requests by domain and status class.
	HTTPRequests = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of API requests handled",
		},
		[]string{"domain", "status"},
	)

	// ConnectedClients tracks currently open HTTP connections.
	ConnectedClients = promauto.With(Registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "connected_clients",
			Help:      "Number of currently open client connections",
		},
	)

	// AuthFailures counts rejected requests by scheme.
	AuthFailures = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "auth",
			Name:      "failures_total",
			Help:      "Total number of authentication rejections",
		},
		[]string{"scheme"}, // token, hmac
	)

	// TransferBytes counts payload bytes moved by the transfer channel.
	TransferBytes = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "transfer",
			Name:      "bytes_total",
			Help:      "Total payload bytes moved over the transfer channel",
		},
		[]string{"op"}, // push, pull
	)

	// TransfersActive tracks transfers currently in flight.
	TransfersActive = promauto.With(Registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "transfer",
			Name:      "active",
			Help:      "Number of transfers currently in flight",
		},
	)

	// HashMismatches counts push uploads whose client trailer did not match.
	HashMismatches = promauto.With(Registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "transfer",
			Name:      "hash_mismatches_total",
			Help:      "Total number of pushes with a mismatched content hash",
		},
	)

	// PairedDevices tracks the number of trusted peers in the store.
	PairedDevices = promauto.With(Registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "pairing",
			Name:      "paired_devices",
			Help:      "Number of paired peer devices",
		},
	)

	// PairingOutcomes counts pairing resolutions.
	PairingOutcomes = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pairing",
			Name:      "outcomes_total",
			Help:      "Total number of pairing resolutions",
		},
		[]string{"outcome"}, // approved, rejected, expired
	)
)

// Handler returns the HTTP handler for Prometheus metrics
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}
