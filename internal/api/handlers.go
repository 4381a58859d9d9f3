// StageSense - Live Show Proximity Matching Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/stagesense

package api

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"

	"github.com/tomtom215/stagesense/internal/models"
	"github.com/tomtom215/stagesense/internal/policy"
	"github.com/tomtom215/stagesense/internal/settings"
	"github.com/tomtom215/stagesense/internal/validation"
)

// maxBodyBytes bounds request bodies; every payload here is tiny.
const maxBodyBytes = 16 * 1024

// SessionPayload is the session snapshot plus the latest decision, returned
// by every detection endpoint.
type SessionPayload struct {
	Session models.DetectionSession `json:"session"`
	Action  policy.Action           `json:"action"`
}

// DetectRequest is the device-pushed position fix.
type DetectRequest struct {
	Lat            float64 `json:"lat" validate:"latitude_deg"`
	Lng            float64 `json:"lng" validate:"longitude_deg"`
	AccuracyMeters float64 `json:"accuracy_meters" validate:"gte=0"`
}

// DetectFailRequest reports a device-side acquisition failure.
type DetectFailRequest struct {
	Kind models.FailureKind `json:"kind" validate:"required,oneof=permission_denied timeout unavailable"`
}

// decodeBody parses a JSON request body, rejecting unknown fields.
func decodeBody(r *http.Request, dst interface{}) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return err
	}
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func (router *Router) sessionPayload() SessionPayload {
	return SessionPayload{
		Session: router.controller.Session(),
		Action:  router.controller.Action(),
	}
}

// Detect accepts a position fix from the device and runs the full matching
// pass before responding, so the returned snapshot already carries the
// candidates and decision.
func (router *Router) Detect(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	var req DetectRequest
	if err := decodeBody(r, &req); err != nil {
		rw.BadRequest("invalid detect request body")
		return
	}
	if err := validation.ValidateStruct(&req); err != nil {
		rw.ValidationFailed(err.Error(), validationDetails(err))
		return
	}

	router.controller.Found(0, models.LocationSample{
		Lat:            req.Lat,
		Lng:            req.Lng,
		AccuracyMeters: req.AccuracyMeters,
		CapturedAt:     time.Now().UTC(),
	})

	rw.Success(router.sessionPayload())
}

// DetectFail records a device-reported acquisition failure.
func (router *Router) DetectFail(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	var req DetectFailRequest
	if err := decodeBody(r, &req); err != nil {
		rw.BadRequest("invalid failure report body")
		return
	}
	if err := validation.ValidateStruct(&req); err != nil {
		rw.ValidationFailed(err.Error(), validationDetails(err))
		return
	}

	router.controller.ReportFailure(req.Kind)
	rw.Success(router.sessionPayload())
}

// Retry re-enters detecting. The acquisition settles asynchronously: the
// device observes the detecting state and pushes a fresh fix (or a
// failure), so the response is a 202 with the in-progress snapshot.
func (router *Router) Retry(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	// The acquisition must outlive this request; the request context dies
	// with the response.
	router.controller.Retry(context.Background())
	rw.Accepted(router.sessionPayload())
}

// Session returns the current snapshot and decision.
func (router *Router) Session(w http.ResponseWriter, r *http.Request) {
	NewResponseWriter(w, r).Success(router.sessionPayload())
}

// GetSettings returns the current geo settings.
func (router *Router) GetSettings(w http.ResponseWriter, r *http.Request) {
	NewResponseWriter(w, r).Success(router.store.Get())
}

// PutSettings applies a partial settings update. Unknown fields are
// rejected; out-of-range values are clamped, not rejected.
func (router *Router) PutSettings(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		rw.BadRequest("unreadable request body")
		return
	}

	patch, err := settings.DecodePatch(body)
	if err != nil {
		rw.BadRequest(err.Error())
		return
	}

	updated, err := router.store.Set(patch)
	if err != nil {
		rw.ValidationFailed(err.Error(), nil)
		return
	}
	rw.Success(updated)
}

// ShowStats returns the merged live stats for a subscribed show.
func (router *Router) ShowStats(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	showID := chi.URLParam(r, "showID")
	stats, ok := router.controller.Stats(showID)
	if !ok {
		rw.NotFound("show is not subscribed")
		return
	}
	rw.Success(stats)
}

// HealthLive reports process liveness.
func (router *Router) HealthLive(w http.ResponseWriter, r *http.Request) {
	NewResponseWriter(w, r).Success(map[string]string{"status": "alive"})
}

// HealthReady reports readiness: the engine serves degraded (empty
// candidates) while the catalog breaker is open, so an open breaker is
// surfaced but not a readiness failure.
func (router *Router) HealthReady(w http.ResponseWriter, r *http.Request) {
	NewResponseWriter(w, r).Success(router.healthDoc())
}

// Health reports the full engine health document.
func (router *Router) Health(w http.ResponseWriter, r *http.Request) {
	NewResponseWriter(w, r).Success(router.healthDoc())
}

func (router *Router) healthDoc() map[string]interface{} {
	doc := map[string]interface{}{
		"status":         "ready",
		"session_status": string(router.controller.Session().Status),
	}
	if router.breaker != nil {
		doc["catalog_breaker"] = router.breaker.State()
	}
	return doc
}

// validationDetails extracts per-field failures for the error envelope.
func validationDetails(err error) interface{} {
	var reqErr *validation.RequestError
	if !errors.As(err, &reqErr) {
		return nil
	}
	fields := make(map[string]string, len(reqErr.Fields()))
	for _, f := range reqErr.Fields() {
		fields[f.Field] = f.Message
	}
	return fields
}
