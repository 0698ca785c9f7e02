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

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// FilesUploaded tracks completed FILE_UPLOAD pairings on the server.
	FilesUploaded = promauto.With(Registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "files_uploaded_total",
			Help:      "Total FILE_UPLOAD headers paired with a binary body and committed",
		},
	)

	// FilesDownloaded counts FILE_DOWNLOAD_RESPONSE header+blob pairs the
	// server has sent. Only the "ok" outcome is recorded.
	FilesDownloaded = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "files_downloaded_total",
			Help:      "Total file downloads completed by outcome",
		},
		[]string{"outcome"}, // ok
	)

	// FilesDeleted tracks FILE_DELETE operations applied on the server.
	FilesDeleted = promauto.With(Registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "files_deleted_total",
			Help:      "Total tombstones created",
		},
	)

	// SequenceCurrent mirrors the store's current sequence, sampled by the
	// dispatcher after every mutation.
	SequenceCurrent = promauto.With(Registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "sequence_current",
			Help:      "Most recently allocated change-log sequence number",
		},
	)

	// SyncBatchDuration measures how long a client's reconciliation batch
	// (uploads+deletes+downloads) takes end to end.
	SyncBatchDuration = promauto.With(Registry).NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "batch_duration_seconds",
			Help:      "Duration of a full client reconciliation batch",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		},
	)

	// ConnectedClients tracks currently authenticated dispatcher sessions.
	ConnectedClients = promauto.With(Registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "connected_clients",
			Help:      "Number of currently authenticated client sessions",
		},
	)

	// ReconnectAttempts tracks the client transport's reconnect loop.
	ReconnectAttempts = promauto.With(Registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "reconnect_attempts_total",
			Help:      "Total client reconnect attempts",
		},
	)
)
