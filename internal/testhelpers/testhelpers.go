// Package testhelpers provides reusable testing utilities for IncidentFlow.
//
// This package contains:
// - HTTP test helpers (requests, recorders, response assertions)
// - Mock implementations (alert adapters, remediation executors, notifiers)
// - Assertion helpers
package testhelpers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/akmatori/incidentflow/internal/incidents"
	"github.com/akmatori/incidentflow/internal/notify"
	"github.com/akmatori/incidentflow/internal/remediation"
)

// ========================================
// HTTP Test Helpers
// ========================================

// HTTPTestContext holds components for HTTP handler testing
type HTTPTestContext struct {
	T        *testing.T
	Recorder *httptest.ResponseRecorder
	Request  *http.Request
}

// NewHTTPTestContext creates a new HTTP test context
func NewHTTPTestContext(t *testing.T, method, path string, body io.Reader) *HTTPTestContext {
	t.Helper()
	req := httptest.NewRequest(method, path, body)
	return &HTTPTestContext{
		T:        t,
		Recorder: httptest.NewRecorder(),
		Request:  req,
	}
}

// WithHeader adds a header to the request
func (ctx *HTTPTestContext) WithHeader(key, value string) *HTTPTestContext {
	ctx.Request.Header.Set(key, value)
	return ctx
}

// WithJSONBody sets JSON body on the request
func (ctx *HTTPTestContext) WithJSONBody(v interface{}) *HTTPTestContext {
	ctx.T.Helper()
	body, err := json.Marshal(v)
	if err != nil {
		ctx.T.Fatalf("failed to marshal JSON body: %v", err)
	}
	headers := ctx.Request.Header.Clone()
	ctx.Request = httptest.NewRequest(ctx.Request.Method, ctx.Request.URL.String(), bytes.NewReader(body))
	ctx.Request.Header = headers
	ctx.Request.Header.Set("Content-Type", "application/json")
	return ctx
}

// WithBearerToken adds Authorization Bearer header
func (ctx *HTTPTestContext) WithBearerToken(token string) *HTTPTestContext {
	return ctx.WithHeader("Authorization", "Bearer "+token)
}

// Execute runs the handler and returns the response
func (ctx *HTTPTestContext) Execute(handler http.Handler) *HTTPTestContext {
	handler.ServeHTTP(ctx.Recorder, ctx.Request)
	return ctx
}

// AssertStatus checks the response status code
func (ctx *HTTPTestContext) AssertStatus(expected int) *HTTPTestContext {
	ctx.T.Helper()
	if ctx.Recorder.Code != expected {
		ctx.T.Errorf("expected status %d, got %d. Body: %s", expected, ctx.Recorder.Code, ctx.Recorder.Body.String())
	}
	return ctx
}

// AssertBodyContains checks if response body contains substring
func (ctx *HTTPTestContext) AssertBodyContains(substr string) *HTTPTestContext {
	ctx.T.Helper()
	body := ctx.Recorder.Body.String()
	if !strings.Contains(body, substr) {
		ctx.T.Errorf("expected body to contain %q, got: %s", substr, body)
	}
	return ctx
}

// DecodeJSON decodes response body as JSON
func (ctx *HTTPTestContext) DecodeJSON(v interface{}) *HTTPTestContext {
	ctx.T.Helper()
	if err := json.NewDecoder(ctx.Recorder.Body).Decode(v); err != nil {
		ctx.T.Fatalf("failed to decode JSON response: %v", err)
	}
	return ctx
}

// ========================================
// Mock Alert Adapter
// ========================================

// MockAlertAdapter implements alerts.AlertAdapter for testing
type MockAlertAdapter struct {
	SourceType           string
	ParsedAlerts         []incidents.Alert
	ParseError           error
	ValidateSecretErr    error
	ParsePayloadCalled   bool
	ValidateSecretCalled bool
}

// NewMockAlertAdapter creates a new mock adapter
func NewMockAlertAdapter(sourceType string) *MockAlertAdapter {
	return &MockAlertAdapter{
		SourceType:   sourceType,
		ParsedAlerts: []incidents.Alert{},
	}
}

// GetSourceType returns the source type
func (m *MockAlertAdapter) GetSourceType() string {
	return m.SourceType
}

// ParsePayload returns the configured alerts
func (m *MockAlertAdapter) ParsePayload(body []byte) ([]incidents.Alert, error) {
	m.ParsePayloadCalled = true
	if m.ParseError != nil {
		return nil, m.ParseError
	}
	return m.ParsedAlerts, nil
}

// ValidateWebhookSecret returns the configured validation error
func (m *MockAlertAdapter) ValidateWebhookSecret(r *http.Request, secret string) error {
	m.ValidateSecretCalled = true
	return m.ValidateSecretErr
}

// WithAlerts configures alerts to return from ParsePayload
func (m *MockAlertAdapter) WithAlerts(alerts ...incidents.Alert) *MockAlertAdapter {
	m.ParsedAlerts = alerts
	return m
}

// WithParseError configures ParsePayload to return an error
func (m *MockAlertAdapter) WithParseError(err error) *MockAlertAdapter {
	m.ParseError = err
	return m
}

// WithValidationError configures ValidateWebhookSecret to return an error
func (m *MockAlertAdapter) WithValidationError(err error) *MockAlertAdapter {
	m.ValidateSecretErr = err
	return m
}

// ========================================
// Mock Remediation Executor
// ========================================

// ExecuteCall records one call to MockExecutor.Execute
type ExecuteCall struct {
	ActionType string
	Target     string
	Params     map[string]any
}

// MockExecutor implements remediation.Executor. Actions listed in Failures fail every
// attempt; all others succeed with a sequential execution id.
type MockExecutor struct {
	mu       sync.Mutex
	Calls    []ExecuteCall
	Failures map[string]error
	Statuses map[string]remediation.ExecutionStatus
}

// NewMockExecutor creates an executor where every action succeeds
func NewMockExecutor() *MockExecutor {
	return &MockExecutor{
		Failures: map[string]error{},
		Statuses: map[string]remediation.ExecutionStatus{},
	}
}

// FailAction makes every execution of actionType return err
func (m *MockExecutor) FailAction(actionType string, err error) *MockExecutor {
	m.Failures[actionType] = err
	return m
}

// Execute records the call and returns the configured outcome. A done ctx fails the call
// the way the agent hub does.
func (m *MockExecutor) Execute(ctx context.Context, actionType, target string, params map[string]any) (remediation.Outcome, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Calls = append(m.Calls, ExecuteCall{ActionType: actionType, Target: target, Params: params})
	if err := ctx.Err(); err != nil {
		return remediation.Outcome{}, err
	}
	if err, ok := m.Failures[actionType]; ok {
		return remediation.Outcome{}, err
	}

	id := fmt.Sprintf("exec-%d", len(m.Calls))
	m.Statuses[id] = remediation.ExecutionCompleted
	return remediation.Outcome{ExecutionID: id}, nil
}

// Status returns the status recorded for a dispatched execution
func (m *MockExecutor) Status(ctx context.Context, executionID string) (remediation.ExecutionStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	status, ok := m.Statuses[executionID]
	if !ok {
		return "", fmt.Errorf("unknown execution %s", executionID)
	}
	return status, nil
}

// CallCount returns how many times Execute ran for actionType; empty counts all calls
func (m *MockExecutor) CallCount(actionType string) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for _, c := range m.Calls {
		if actionType == "" || c.ActionType == actionType {
			n++
		}
	}
	return n
}

// ========================================
// Recording Notifier
// ========================================

// RecordingNotifier implements notify.Notifier and keeps every notification it receives
type RecordingNotifier struct {
	mu   sync.Mutex
	sent []notify.Notification
	Err  error
}

// Send records n and returns Err
func (r *RecordingNotifier) Send(ctx context.Context, n notify.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, n)
	return r.Err
}

// Sent returns a copy of the recorded notifications
func (r *RecordingNotifier) Sent() []notify.Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]notify.Notification(nil), r.sent...)
}

// OfKind returns recorded notifications of the given kind
func (r *RecordingNotifier) OfKind(kind notify.Kind) []notify.Notification {
	var out []notify.Notification
	for _, n := range r.Sent() {
		if n.Kind == kind {
			out = append(out, n)
		}
	}
	return out
}

// ========================================
// Store Helpers
// ========================================

// NewTestStore returns a store backed by an in-memory repository
func NewTestStore(t *testing.T, opts ...incidents.Option) *incidents.Store {
	t.Helper()
	return incidents.NewStore(incidents.NewMemoryRepository(), opts...)
}

// MustCreateIncident opens an incident from alert or fails the test
func MustCreateIncident(t *testing.T, store *incidents.Store, alert incidents.Alert) *incidents.Incident {
	t.Helper()
	incident, err := store.Create(context.Background(), alert)
	if err != nil {
		t.Fatalf("failed to create incident: %v", err)
	}
	return incident
}

// ========================================
// Assertion Helpers
// ========================================

// AssertEqual checks equality with a helpful error message
func AssertEqual(t *testing.T, expected, actual interface{}, msg string) {
	t.Helper()
	if expected != actual {
		t.Errorf("%s: expected %v, got %v", msg, expected, actual)
	}
}

// AssertError checks that an error occurred
func AssertError(t *testing.T, err error, msg string) {
	t.Helper()
	if err == nil {
		t.Errorf("%s: expected error, got nil", msg)
	}
}

// AssertNoError checks that no error occurred
func AssertNoError(t *testing.T, err error, msg string) {
	t.Helper()
	if err != nil {
		t.Errorf("%s: unexpected error: %v", msg, err)
	}
}
