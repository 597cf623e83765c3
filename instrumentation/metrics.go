package instrumentation

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds all metric instruments of the provider
type Metrics struct {
	// HTTP layer
	HTTPRequestsTotal   metric.Int64Counter
	HTTPRequestDuration metric.Float64Histogram

	// Protocol flows
	AuthorizationRequests metric.Int64Counter
	CodesIssued           metric.Int64Counter
	CodeExchanges         metric.Int64Counter
	TokensIssued          metric.Int64Counter
	UserInfoRequests      metric.Int64Counter
	LoginAttempts         metric.Int64Counter

	// Security
	RateLimitExceeded    metric.Int64Counter
	PKCEValidationFailed metric.Int64Counter
	AuditEventsTotal     metric.Int64Counter

	// Storage
	StorageOperationTotal    metric.Int64Counter
	StorageOperationDuration metric.Float64Histogram
	StorageCodesSwept        metric.Int64Counter
	StorageCodesCount        metric.Int64ObservableGauge
	StorageSessionsCount     metric.Int64ObservableGauge
}

// newMetrics creates all metric instruments on the layer meters of inst
func newMetrics(inst *Instrumentation) (*Metrics, error) {
	httpMeter := inst.Meter("http")
	serverMeter := inst.Meter("server")
	securityMeter := inst.Meter("security")
	storageMeter := inst.Meter("storage")

	m := &Metrics{}
	var err error

	if m.HTTPRequestsTotal, err = httpMeter.Int64Counter(
		"oidc.http.requests.total",
		metric.WithDescription("Total number of HTTP requests"),
		metric.WithUnit("{request}"),
	); err != nil {
		return nil, fmt.Errorf("failed to create http.requests.total counter: %w", err)
	}

	if m.HTTPRequestDuration, err = httpMeter.Float64Histogram(
		"oidc.http.request.duration",
		metric.WithDescription("HTTP request duration in milliseconds"),
		metric.WithUnit("ms"),
	); err != nil {
		return nil, fmt.Errorf("failed to create http.request.duration histogram: %w", err)
	}

	if m.AuthorizationRequests, err = serverMeter.Int64Counter(
		"oidc.authorization.requests",
		metric.WithDescription("Number of authorization requests by outcome"),
		metric.WithUnit("{request}"),
	); err != nil {
		return nil, fmt.Errorf("failed to create authorization.requests counter: %w", err)
	}

	if m.CodesIssued, err = serverMeter.Int64Counter(
		"oidc.code.issued",
		metric.WithDescription("Number of authorization codes issued"),
		metric.WithUnit("{code}"),
	); err != nil {
		return nil, fmt.Errorf("failed to create code.issued counter: %w", err)
	}

	if m.CodeExchanges, err = serverMeter.Int64Counter(
		"oidc.code.exchanges",
		metric.WithDescription("Number of token exchanges by outcome"),
		metric.WithUnit("{exchange}"),
	); err != nil {
		return nil, fmt.Errorf("failed to create code.exchanges counter: %w", err)
	}

	if m.TokensIssued, err = serverMeter.Int64Counter(
		"oidc.token.issued",
		metric.WithDescription("Number of signed tokens issued by token type"),
		metric.WithUnit("{token}"),
	); err != nil {
		return nil, fmt.Errorf("failed to create token.issued counter: %w", err)
	}

	if m.UserInfoRequests, err = serverMeter.Int64Counter(
		"oidc.userinfo.requests",
		metric.WithDescription("Number of userinfo requests by outcome"),
		metric.WithUnit("{request}"),
	); err != nil {
		return nil, fmt.Errorf("failed to create userinfo.requests counter: %w", err)
	}

	if m.LoginAttempts, err = serverMeter.Int64Counter(
		"oidc.login.attempts",
		metric.WithDescription("Number of login attempts by outcome"),
		metric.WithUnit("{attempt}"),
	); err != nil {
		return nil, fmt.Errorf("failed to create login.attempts counter: %w", err)
	}

	if m.RateLimitExceeded, err = securityMeter.Int64Counter(
		"oidc.rate_limit.exceeded",
		metric.WithDescription("Number of rate limit violations"),
		metric.WithUnit("{violation}"),
	); err != nil {
		return nil, fmt.Errorf("failed to create rate_limit.exceeded counter: %w", err)
	}

	if m.PKCEValidationFailed, err = securityMeter.Int64Counter(
		"oidc.pkce.validation_failed",
		metric.WithDescription("Number of failed PKCE verifications at the token endpoint"),
		metric.WithUnit("{failure}"),
	); err != nil {
		return nil, fmt.Errorf("failed to create pkce.validation_failed counter: %w", err)
	}

	if m.AuditEventsTotal, err = securityMeter.Int64Counter(
		"oidc.audit.events",
		metric.WithDescription("Number of security audit events by type"),
		metric.WithUnit("{event}"),
	); err != nil {
		return nil, fmt.Errorf("failed to create audit.events counter: %w", err)
	}

	if m.StorageOperationTotal, err = storageMeter.Int64Counter(
		"oidc.storage.operations.total",
		metric.WithDescription("Number of storage operations"),
		metric.WithUnit("{operation}"),
	); err != nil {
		return nil, fmt.Errorf("failed to create storage.operations.total counter: %w", err)
	}

	if m.StorageOperationDuration, err = storageMeter.Float64Histogram(
		"oidc.storage.operation.duration",
		metric.WithDescription("Storage operation duration in milliseconds"),
		metric.WithUnit("ms"),
	); err != nil {
		return nil, fmt.Errorf("failed to create storage.operation.duration histogram: %w", err)
	}

	if m.StorageCodesSwept, err = storageMeter.Int64Counter(
		"oidc.storage.codes.swept",
		metric.WithDescription("Number of expired authorization codes removed by the sweeper"),
		metric.WithUnit("{code}"),
	); err != nil {
		return nil, fmt.Errorf("failed to create storage.codes.swept counter: %w", err)
	}

	if m.StorageCodesCount, err = storageMeter.Int64ObservableGauge(
		"oidc.storage.codes.count",
		metric.WithDescription("Number of authorization codes currently stored"),
		metric.WithUnit("{code}"),
	); err != nil {
		return nil, fmt.Errorf("failed to create storage.codes.count gauge: %w", err)
	}

	if m.StorageSessionsCount, err = storageMeter.Int64ObservableGauge(
		"oidc.storage.sessions.count",
		metric.WithDescription("Number of login sessions currently stored"),
		metric.WithUnit("{session}"),
	); err != nil {
		return nil, fmt.Errorf("failed to create storage.sessions.count gauge: %w", err)
	}

	return m, nil
}

// RecordHTTPRequest records an HTTP request with its status and duration
func (m *Metrics) RecordHTTPRequest(ctx context.Context, method, endpoint string, statusCode int, durationMs float64) {
	attrs := metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("endpoint", endpoint),
		attribute.Int("status", statusCode),
	)
	m.HTTPRequestsTotal.Add(ctx, 1, attrs)
	m.HTTPRequestDuration.Record(ctx, durationMs, attrs)
}

// RecordAuthorizationRequest records the outcome of an authorization request.
// result is "code", "login", or an OAuth error code.
func (m *Metrics) RecordAuthorizationRequest(ctx context.Context, clientID, result string) {
	m.AuthorizationRequests.Add(ctx, 1, metric.WithAttributes(
		attribute.String("client_id", clientID),
		attribute.String("result", result),
	))
}

// RecordCodeIssued records an issued authorization code
func (m *Metrics) RecordCodeIssued(ctx context.Context, clientID, pkceMethod string) {
	m.CodesIssued.Add(ctx, 1, metric.WithAttributes(
		attribute.String("client_id", clientID),
		attribute.String("pkce_method", pkceMethod),
	))
}

// RecordCodeExchange records the outcome of a token exchange
func (m *Metrics) RecordCodeExchange(ctx context.Context, clientID, result string) {
	m.CodeExchanges.Add(ctx, 1, metric.WithAttributes(
		attribute.String("client_id", clientID),
		attribute.String("result", result),
	))
}

// RecordTokenIssued records a signed token of the given type ("access_token", "id_token")
func (m *Metrics) RecordTokenIssued(ctx context.Context, tokenType string) {
	m.TokensIssued.Add(ctx, 1, metric.WithAttributes(
		attribute.String("token_type", tokenType),
	))
}

// RecordUserInfoRequest records the outcome of a userinfo request
func (m *Metrics) RecordUserInfoRequest(ctx context.Context, result string) {
	m.UserInfoRequests.Add(ctx, 1, metric.WithAttributes(
		attribute.String("result", result),
	))
}

// RecordLoginAttempt records a login attempt
func (m *Metrics) RecordLoginAttempt(ctx context.Context, success bool) {
	m.LoginAttempts.Add(ctx, 1, metric.WithAttributes(
		attribute.Bool("success", success),
	))
}

// RecordRateLimitExceeded records a rate limit violation on endpoint
func (m *Metrics) RecordRateLimitExceeded(ctx context.Context, endpoint string) {
	m.RateLimitExceeded.Add(ctx, 1, metric.WithAttributes(
		attribute.String("endpoint", endpoint),
	))
}

// RecordPKCEValidationFailed records a PKCE verification failure
func (m *Metrics) RecordPKCEValidationFailed(ctx context.Context, method string) {
	m.PKCEValidationFailed.Add(ctx, 1, metric.WithAttributes(
		attribute.String("method", method),
	))
}

// RecordAuditEvent records an audit event
func (m *Metrics) RecordAuditEvent(ctx context.Context, eventType string) {
	m.AuditEventsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("event_type", eventType),
	))
}

// RecordStorageOperation records a storage operation
func (m *Metrics) RecordStorageOperation(ctx context.Context, storageType, operation, result string, durationMs float64) {
	m.StorageOperationTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("storage_type", storageType),
		attribute.String("operation", operation),
		attribute.String("result", result),
	))
	m.StorageOperationDuration.Record(ctx, durationMs, metric.WithAttributes(
		attribute.String("storage_type", storageType),
		attribute.String("operation", operation),
	))
}

// RecordCodesSwept records codes removed by a sweep
func (m *Metrics) RecordCodesSwept(ctx context.Context, count int) {
	if count <= 0 {
		return
	}
	m.StorageCodesSwept.Add(ctx, int64(count))
}
