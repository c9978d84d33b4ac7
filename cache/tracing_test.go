package cache_test

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/goliatone/go-query-cache/cache"
	"github.com/goliatone/go-query-cache/pkg/testsupport"
)

func spanAttr(span sdktrace.ReadOnlySpan, key attribute.Key) (attribute.Value, bool) {
	for _, kv := range span.Attributes() {
		if kv.Key == key {
			return kv.Value, true
		}
	}
	return attribute.Value{}, false
}

func TestCachedExecutor_Spans(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })

	fake := testsupport.NewFakeExecutor()
	exec, _ := newExecutor(t, fake, func(cfg *cache.Config) {
		cfg.Tracer = provider.Tracer("test")
	})

	ctx := context.Background()
	exec.Read(ctx, selectUser, 1)
	exec.Read(ctx, selectUser, 1)
	exec.Write(ctx, updateUser, "x", 1)

	spans := recorder.Ended()
	if len(spans) != 3 {
		t.Fatalf("expected 3 spans, got %d", len(spans))
	}

	wantOutcomes := []string{"miss", "hit"}
	for i, want := range wantOutcomes {
		if spans[i].Name() != "querycache.read" {
			t.Errorf("span %d: expected querycache.read, got %s", i, spans[i].Name())
		}
		got, ok := spanAttr(spans[i], "querycache.outcome")
		if !ok || got.AsString() != want {
			t.Errorf("span %d: expected outcome %q, got %q", i, want, got.AsString())
		}
	}

	if spans[2].Name() != "querycache.write" {
		t.Errorf("expected querycache.write, got %s", spans[2].Name())
	}
	if got, ok := spanAttr(spans[2], "querycache.invalidated"); !ok || got.AsInt64() != 1 {
		t.Errorf("expected 1 invalidated entry on the write span, got %v", got.AsInt64())
	}
}

func TestCachedExecutor_SpanRecordsRawError(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })

	fake := testsupport.NewFakeExecutor()
	fake.FailQuery(errors.New("down"))
	exec, _ := newExecutor(t, fake, func(cfg *cache.Config) {
		cfg.Tracer = provider.Tracer("test")
	})

	exec.Read(context.Background(), selectUser, 1)

	spans := recorder.Ended()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	if spans[0].Status().Code != codes.Error {
		t.Errorf("expected error status, got %v", spans[0].Status())
	}
}
