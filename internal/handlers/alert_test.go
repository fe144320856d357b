package handlers

import (
	"bytes"
	"errors"
	"net/http"
	"strings"
	"testing"

	"github.com/akmatori/incidentflow/internal/alerts/adapters"
	"github.com/akmatori/incidentflow/internal/api"
	"github.com/akmatori/incidentflow/internal/incidents"
	"github.com/akmatori/incidentflow/internal/testhelpers"
)

func newAlertMux(t *testing.T, adapter *testhelpers.MockAlertAdapter) (*http.ServeMux, *incidents.Store) {
	t.Helper()
	store := testhelpers.NewTestStore(t)
	h := NewAlertHandler(store, "s3cret", nil)
	if adapter != nil {
		h.RegisterAdapter(adapter)
	}
	mux := http.NewServeMux()
	h.SetupRoutes(mux)
	return mux, store
}

func TestAlertHandler_HandleAlert(t *testing.T) {
	tests := []struct {
		name     string
		body     any
		expected int
		contains string
	}{
		{
			name:     "valid alert",
			body:     testhelpers.NewAlertBuilder().WithSeverity(incidents.SeverityP1).Build(),
			expected: http.StatusCreated,
			contains: `"status":"RECEIVED"`,
		},
		{
			name:     "invalid severity",
			body:     testhelpers.NewAlertBuilder().WithSeverity("P7").Build(),
			expected: http.StatusUnprocessableEntity,
			contains: "severity",
		},
		{
			name:     "no services",
			body:     testhelpers.NewAlertBuilder().WithServices().Build(),
			expected: http.StatusUnprocessableEntity,
			contains: "affected_services",
		},
		{
			name:     "bad timestamp",
			body:     testhelpers.NewAlertBuilder().WithTimestamp("yesterday").Build(),
			expected: http.StatusUnprocessableEntity,
			contains: "timestamp",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mux, _ := newAlertMux(t, nil)
			testhelpers.NewHTTPTestContext(t, http.MethodPost, "/api/alerts", nil).
				WithJSONBody(tt.body).
				Execute(mux).
				AssertStatus(tt.expected).
				AssertBodyContains(tt.contains)
		})
	}
}

func TestAlertHandler_HandleAlertMalformedJSON(t *testing.T) {
	mux, store := newAlertMux(t, nil)
	testhelpers.NewHTTPTestContext(t, http.MethodPost, "/api/alerts", strings.NewReader("{")).
		Execute(mux).
		AssertStatus(http.StatusBadRequest)

	list, _ := store.List(t.Context())
	testhelpers.AssertSliceLen(t, list, 0, "incidents")
}

func TestAlertHandler_Webhook(t *testing.T) {
	adapter := testhelpers.NewMockAlertAdapter("mock").WithAlerts(
		testhelpers.NewAlertBuilder().Build(),
		testhelpers.NewAlertBuilder().WithMessage("").Build(),
	)
	mux, store := newAlertMux(t, adapter)

	var resp api.WebhookResponse
	testhelpers.NewHTTPTestContext(t, http.MethodPost, "/webhook/mock", strings.NewReader("{}")).
		Execute(mux).
		AssertStatus(http.StatusOK).
		DecodeJSON(&resp)

	testhelpers.AssertEqual(t, 2, resp.Received, "received")
	testhelpers.AssertSliceLen(t, resp.Created, 1, "created")
	testhelpers.AssertSliceLen(t, resp.Errors, 1, "errors")
	testhelpers.AssertEqual(t, 1, resp.Errors[0].Index, "error index")
	if _, ok := resp.Errors[0].Details["message"]; !ok {
		t.Errorf("expected message detail, got %v", resp.Errors[0].Details)
	}

	list, _ := store.List(t.Context())
	testhelpers.AssertSliceLen(t, list, 1, "incidents")
}

func TestAlertHandler_WebhookRejections(t *testing.T) {
	tests := []struct {
		name     string
		path     string
		adapter  *testhelpers.MockAlertAdapter
		expected int
	}{
		{"unknown source", "/webhook/nagios", testhelpers.NewMockAlertAdapter("mock"), http.StatusNotFound},
		{"bad secret", "/webhook/mock", testhelpers.NewMockAlertAdapter("mock").WithValidationError(errors.New("denied")), http.StatusUnauthorized},
		{"bad payload", "/webhook/mock", testhelpers.NewMockAlertAdapter("mock").WithParseError(errors.New("garbage")), http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mux, _ := newAlertMux(t, tt.adapter)
			testhelpers.NewHTTPTestContext(t, http.MethodPost, tt.path, strings.NewReader("{}")).
				Execute(mux).
				AssertStatus(tt.expected)
		})
	}
}

func TestAlertHandler_AlertmanagerWebhook(t *testing.T) {
	store := testhelpers.NewTestStore(t)
	h := NewAlertHandler(store, "s3cret", nil)
	h.RegisterAdapter(adapters.NewAlertmanagerAdapter())
	mux := http.NewServeMux()
	h.SetupRoutes(mux)

	payload := []byte(`{
		"status": "firing",
		"commonLabels": {"service": "checkout"},
		"alerts": [
			{"status": "firing", "labels": {"alertname": "HighLatency", "severity": "critical"},
			 "annotations": {"summary": "p99 above 2s"}, "startsAt": "2026-10-16T09:00:00Z"},
			{"status": "resolved", "labels": {"alertname": "DiskFull", "severity": "warning"},
			 "startsAt": "2026-10-16T08:00:00Z"}
		]
	}`)

	var resp api.WebhookResponse
	testhelpers.NewHTTPTestContext(t, http.MethodPost, "/webhook/alertmanager", bytes.NewReader(payload)).
		WithHeader("X-Alertmanager-Secret", "s3cret").
		Execute(mux).
		AssertStatus(http.StatusOK).
		DecodeJSON(&resp)

	testhelpers.AssertSliceLen(t, resp.Created, 1, "created")
	inc, _ := store.Get(t.Context(), resp.Created[0])
	testhelpers.AssertEqual(t, incidents.SeverityP0, inc.Severity, "severity")
	testhelpers.AssertSliceContains(t, inc.AffectedServices, "checkout", "services")

	testhelpers.NewHTTPTestContext(t, http.MethodPost, "/webhook/alertmanager", bytes.NewReader(payload)).
		WithHeader("X-Alertmanager-Secret", "wrong").
		Execute(mux).
		AssertStatus(http.StatusUnauthorized)
}
