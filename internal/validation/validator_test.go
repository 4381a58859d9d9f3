// StageSense - Live Show Proximity Matching Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/stagesense

package validation

import (
	"errors"
	"strings"
	"testing"
)

type coordRequest struct {
	Lat float64 `validate:"latitude_deg"`
	Lng float64 `validate:"longitude_deg"`
}

func TestValidateStruct_Coordinates(t *testing.T) {
	tests := []struct {
		name    string
		req     coordRequest
		wantErr bool
	}{
		{"valid", coordRequest{Lat: 40.7306, Lng: -73.9866}, false},
		{"zero zero is in range", coordRequest{}, false},
		{"lat north pole", coordRequest{Lat: 90, Lng: 0}, false},
		{"lat out of range", coordRequest{Lat: 90.1, Lng: 0}, true},
		{"lat far out of range", coordRequest{Lat: -120, Lng: 0}, true},
		{"lng antimeridian", coordRequest{Lat: 0, Lng: -180}, false},
		{"lng out of range", coordRequest{Lat: 0, Lng: 180.5}, true},
		{"both out of range", coordRequest{Lat: 99, Lng: 199}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateStruct(&tt.req)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateStruct() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateStruct_CollectsAllFailures(t *testing.T) {
	err := ValidateStruct(&coordRequest{Lat: 99, Lng: 199})
	if err == nil {
		t.Fatal("expected validation failure")
	}

	var reqErr *RequestError
	if !errors.As(err, &reqErr) {
		t.Fatalf("error type = %T, want *RequestError", err)
	}
	if len(reqErr.Fields()) != 2 {
		t.Errorf("field errors = %d, want 2", len(reqErr.Fields()))
	}
	if !strings.Contains(err.Error(), "Lat") || !strings.Contains(err.Error(), "Lng") {
		t.Errorf("combined message %q missing field names", err.Error())
	}
}

func TestValidateStruct_TagMessages(t *testing.T) {
	type bounded struct {
		Count int `validate:"gte=1,lte=10"`
	}

	err := ValidateStruct(&bounded{Count: 0})
	if err == nil {
		t.Fatal("expected validation failure")
	}
	if !strings.Contains(err.Error(), "at least 1") {
		t.Errorf("message %q should mention the bound", err.Error())
	}
}

func TestValidator_Singleton(t *testing.T) {
	if Validator() != Validator() {
		t.Error("Validator() returned different instances")
	}
}
