package instrumentation

import (
	"context"
	"testing"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func collectSums(t *testing.T, reader *sdkmetric.ManualReader) map[string]int64 {
	t.Helper()

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect() error = %v", err)
	}

	sums := map[string]int64{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if sum, ok := m.Data.(metricdata.Sum[int64]); ok {
				for _, dp := range sum.DataPoints {
					sums[m.Name] += dp.Value
				}
			}
		}
	}
	return sums
}

func TestMetrics_Record(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	inst, err := New(Config{Enabled: true, MetricReader: reader})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer func() { _ = inst.Shutdown(context.Background()) }()

	ctx := context.Background()
	m := inst.Metrics()

	m.RecordHTTPRequest(ctx, "GET", "authorization", 302, 1.5)
	m.RecordAuthorizationRequest(ctx, "acme", "code")
	m.RecordCodeIssued(ctx, "acme", "S256")
	m.RecordCodeExchange(ctx, "acme", "success")
	m.RecordCodeExchange(ctx, "acme", "invalid_grant")
	m.RecordTokenIssued(ctx, "access_token")
	m.RecordTokenIssued(ctx, "id_token")
	m.RecordUserInfoRequest(ctx, "success")
	m.RecordLoginAttempt(ctx, false)
	m.RecordRateLimitExceeded(ctx, "token")
	m.RecordPKCEValidationFailed(ctx, "S256")
	m.RecordAuditEvent(ctx, "token_issued")
	m.RecordStorageOperation(ctx, "memory", "code_consume", "success", 0.1)
	m.RecordCodesSwept(ctx, 4)
	m.RecordCodesSwept(ctx, 0)

	sums := collectSums(t, reader)

	want := map[string]int64{
		"oidc.http.requests.total":      1,
		"oidc.authorization.requests":   1,
		"oidc.code.issued":              1,
		"oidc.code.exchanges":           2,
		"oidc.token.issued":             2,
		"oidc.userinfo.requests":        1,
		"oidc.login.attempts":           1,
		"oidc.rate_limit.exceeded":      1,
		"oidc.pkce.validation_failed":   1,
		"oidc.audit.events":             1,
		"oidc.storage.operations.total": 1,
		"oidc.storage.codes.swept":      4,
	}

	for name, value := range want {
		if sums[name] != value {
			t.Errorf("%s = %d, want %d", name, sums[name], value)
		}
	}
}

func TestMetrics_DisabledIsNoop(t *testing.T) {
	inst, err := New(Config{Enabled: false})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	// Recording on no-op instruments must not panic.
	ctx := context.Background()
	inst.Metrics().RecordHTTPRequest(ctx, "POST", "token", 200, 2)
	inst.Metrics().RecordCodesSwept(ctx, 10)
}
