// StageSense - Live Show Proximity Matching Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/stagesense

package detection

import "errors"

// Location acquisition failure taxonomy. Providers wrap these sentinels so
// the controller can map failures onto session states:
//
//   - ErrPermissionDenied: terminal for the session; never auto-retried.
//     The user must act (and possibly grant permission out of band).
//   - ErrTimeout: retryable; the retry count is surfaced to the UI.
//   - ErrUnavailable: retryable; any other acquisition failure.
//
// Nothing in this taxonomy is fatal to the host process: every failure
// path resolves to a terminal, user-actionable session state.
var (
	ErrPermissionDenied = errors.New("location permission denied")
	ErrTimeout          = errors.New("location acquisition timed out")
	ErrUnavailable      = errors.New("location unavailable")
)
