// SAGE - Secure Agent Guarantee Engine
// Copyright (C) 2025 SAGE-X-project
//
// This file is part of SAGE.
//
// SAGE is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// SAGE is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with SAGE. If not, see <https://www.gnu.org/licenses/>.

// Package metrics exposes Prometheus counters/gauges/histograms for the
// sync server and client engine.
package metrics

import "github.com/prometheus/client_golang/prometheus"

const namespace = "syncvault"

// Registry is the collector registry every metric in this package
// registers into. A dedicated registry (rather than the global default)
// keeps tests hermetic and lets cmd/syncd mount it under /metrics
// explicitly.
var Registry = prometheus.NewRegistry()
