// StageSense - Live Show Proximity Matching Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/stagesense

// Package geo provides great-circle distance and coordinate helpers shared
// by the matching engine and the API layer.
package geo

import "math"

// CoordinateEpsilon is the threshold for considering coordinates as
// effectively zero. A coordinate pair is treated as "unknown" (sentinel
// value 0,0) if both latitude and longitude are within this epsilon of zero.
//
// Value rationale: 1e-7 degrees is roughly 1.1cm at the equator, well below
// GPS accuracy and any meaningful coordinate difference, but provides
// reliable float comparison.
const CoordinateEpsilon = 1e-7

const earthRadiusMeters = 6371000.0

// IsUnknownLocation returns true if the coordinates represent an unknown
// location. Uses epsilon comparison instead of direct float equality to
// handle IEEE 754 representation issues.
func IsUnknownLocation(lat, lng float64) bool {
	return math.Abs(lat) < CoordinateEpsilon && math.Abs(lng) < CoordinateEpsilon
}

// ValidLatitude reports whether lat falls inside the WGS84 range.
func ValidLatitude(lat float64) bool {
	return lat >= -90 && lat <= 90
}

// ValidLongitude reports whether lng falls inside the WGS84 range.
func ValidLongitude(lng float64) bool {
	return lng >= -180 && lng <= 180
}

// ValidCoordinates reports whether lat/lng fall inside the WGS84 ranges.
func ValidCoordinates(lat, lng float64) bool {
	return ValidLatitude(lat) && ValidLongitude(lng)
}

// DistanceMeters computes the great-circle distance between two points
// using the haversine formula.
func DistanceMeters(lat1, lng1, lat2, lng2 float64) float64 {
	lat1Rad := lat1 * math.Pi / 180.0
	lng1Rad := lng1 * math.Pi / 180.0
	lat2Rad := lat2 * math.Pi / 180.0
	lng2Rad := lng2 * math.Pi / 180.0

	dLat := lat2Rad - lat1Rad
	dLng := lng2Rad - lng1Rad

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1Rad)*math.Cos(lat2Rad)*
			math.Sin(dLng/2)*math.Sin(dLng/2)

	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return earthRadiusMeters * c
}
