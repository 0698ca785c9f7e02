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
	// AuthAttempts tracks every AUTH handled, by outcome.
	AuthAttempts = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "auth",
			Name:      "attempts_total",
			Help:      "Total AUTH messages handled",
		},
		[]string{"method", "outcome"}, // method: password/token, outcome: ok/fail
	)

	// AuthFailures counts failed VerifyPassword comparisons: bad_password
	// for every mismatch, plus rate_limited when a mismatch brings the IP's
	// failure count to the threshold. Calls turned away because the IP is
	// already rate-limited are not counted.
	AuthFailures = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "auth",
			Name:      "failures_total",
			Help:      "Total password verification failures by reason",
		},
		[]string{"reason"}, // bad_password, rate_limited
	)

	// TokensIssued tracks session tokens minted by IssueToken.
	TokensIssued = promauto.With(Registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "auth",
			Name:      "tokens_issued_total",
			Help:      "Total session tokens issued",
		},
	)

	// TokensRevoked counts token revocations by reason. Only the kick path
	// (Hub.Kick) records one; the revocation of prior tokens inside
	// IssueToken is not counted.
	TokensRevoked = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "auth",
			Name:      "tokens_revoked_total",
			Help:      "Total session tokens revoked",
		},
		[]string{"reason"}, // kick
	)
)
