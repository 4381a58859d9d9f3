// StageSense - Live Show Proximity Matching Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/stagesense

package detection

import (
	"context"

	"github.com/tomtom215/stagesense/internal/models"
)

// PassiveProvider is the LocationProvider for deployments where the
// platform geolocation API lives on the device: the engine never pulls a
// fix itself, the device pushes one through Found. An acquisition attempt
// therefore just waits out its timeout; if no push supersedes it, the
// session resolves to timeout.
type PassiveProvider struct{}

// CurrentPosition blocks until the acquisition context ends.
func (PassiveProvider) CurrentPosition(ctx context.Context, _ AcquireOptions) (models.LocationSample, error) {
	<-ctx.Done()
	return models.LocationSample{}, ctx.Err()
}
