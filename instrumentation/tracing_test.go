package instrumentation

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func newTracedInstrumentation(t *testing.T) (*Instrumentation, *tracetest.InMemoryExporter) {
	t.Helper()

	exporter := tracetest.NewInMemoryExporter()
	inst, err := New(Config{Enabled: true, SpanExporter: exporter})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { _ = inst.Shutdown(context.Background()) })
	return inst, exporter
}

func attrValue(attrs []attribute.KeyValue, key string) (attribute.Value, bool) {
	for _, kv := range attrs {
		if string(kv.Key) == key {
			return kv.Value, true
		}
	}
	return attribute.Value{}, false
}

func TestRecordError(t *testing.T) {
	inst, exporter := newTracedInstrumentation(t)

	_, span := inst.Tracer("server").Start(context.Background(), "test-span")
	RecordError(span, errors.New("signing failed"))
	span.End()

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("got %d spans, want 1", len(spans))
	}
	if spans[0].Status.Code != codes.Error {
		t.Errorf("status = %v, want Error", spans[0].Status.Code)
	}
	if len(spans[0].Events) == 0 {
		t.Error("expected an exception event on the span")
	}
}

func TestSetSpanSuccess(t *testing.T) {
	inst, exporter := newTracedInstrumentation(t)

	_, span := inst.Tracer("server").Start(context.Background(), "test-span")
	SetSpanSuccess(span)
	span.End()

	if got := exporter.GetSpans()[0].Status.Code; got != codes.Ok {
		t.Errorf("status = %v, want Ok", got)
	}
}

func TestAddOAuthFlowAttributes(t *testing.T) {
	inst, exporter := newTracedInstrumentation(t)

	_, span := inst.Tracer("server").Start(context.Background(), "test-span")
	AddOAuthFlowAttributes(span, "acme", "", "openid profile")
	span.End()

	attrs := exporter.GetSpans()[0].Attributes
	if v, ok := attrValue(attrs, AttrClientID); !ok || v.AsString() != "acme" {
		t.Errorf("client_id attribute = %v, want acme", v.AsString())
	}
	if _, ok := attrValue(attrs, AttrUserID); ok {
		t.Error("empty user id should not be recorded")
	}
	if v, ok := attrValue(attrs, AttrScope); !ok || v.AsString() != "openid profile" {
		t.Errorf("scope attribute = %v, want openid profile", v.AsString())
	}
}

func TestAddOAuthErrorAttributes(t *testing.T) {
	inst, exporter := newTracedInstrumentation(t)

	_, span := inst.Tracer("http").Start(context.Background(), "test-span")
	AddOAuthErrorAttributes(span, "invalid_scope", "Requested scopes are not allowed: admin", true)
	span.End()

	got := exporter.GetSpans()[0]
	if got.Status.Code != codes.Error {
		t.Errorf("status = %v, want Error", got.Status.Code)
	}
	if v, _ := attrValue(got.Attributes, AttrError); v.AsString() != "invalid_scope" {
		t.Errorf("error attribute = %q", v.AsString())
	}
	if v, _ := attrValue(got.Attributes, AttrRedirected); !v.AsBool() {
		t.Error("redirected attribute should be true")
	}
}

func TestSpanHelpers_NilSafe(t *testing.T) {
	RecordError(nil, errors.New("x"))
	SetSpanSuccess(nil)
	SetSpanError(nil, "x")
	SetSpanAttributes(nil, attribute.String("k", "v"))
	AddOAuthFlowAttributes(nil, "c", "u", "s")
	AddStorageAttributes(nil, "op", "memory")
	AddHTTPAttributes(nil, "GET", "jwks", 200)
	AddSecurityAttributes(nil, "10.0.0.1")
}
