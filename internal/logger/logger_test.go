package logger

import (
	"context"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestNew_Environments(t *testing.T) {
	for _, env := range []string{"prod", "local", "dev", "docker", "test"} {
		l, err := New(env, "")
		if err != nil {
			t.Fatalf("env %s: unexpected error: %v", env, err)
		}
		if l == nil {
			t.Fatalf("env %s: nil logger", env)
		}
	}
	if _, err := New("staging", ""); err == nil {
		t.Error("expected error for unknown env")
	}
}

func TestNew_LevelOverride(t *testing.T) {
	l, err := New("prod", "warn")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if l.Core().Enabled(zapcore.InfoLevel) {
		t.Error("expected info to be disabled at warn level")
	}
	if _, err := New("prod", "loud"); err == nil {
		t.Error("expected error for invalid level")
	}
}

func TestProdConfig_KeepsEveryEntry(t *testing.T) {
	cfg, err := configFor("prod")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Sampling != nil {
		t.Error("prod logger must not sample")
	}
	if cfg.InitialFields["service"] != "filingbrief" {
		t.Errorf("service field = %v", cfg.InitialFields["service"])
	}
}

func TestFromContext_DefaultsToNop(t *testing.T) {
	if FromContext(context.Background()) == nil {
		t.Fatal("expected non-nil nop logger")
	}
}

func TestWithFields_StoresChild(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	ctx := ContextWithLogger(context.Background(), zap.New(core))

	ctx, _ = WithFields(ctx, zap.String("turn_id", "t-1"))
	FromContext(ctx).Info("planned")

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	if entries[0].ContextMap()["turn_id"] != "t-1" {
		t.Errorf("expected turn_id field, got %v", entries[0].ContextMap())
	}
}

func TestWithDefault_KeepsExisting(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	request := zap.New(core)

	ctx := WithDefault(ContextWithLogger(context.Background(), request), zap.NewNop())
	FromContext(ctx).Info("kept")
	if logs.Len() != 1 {
		t.Errorf("expected request logger to be kept, got %d entries", logs.Len())
	}

	ctx = WithDefault(context.Background(), request)
	FromContext(ctx).Info("defaulted")
	if logs.Len() != 2 {
		t.Errorf("expected default logger to be stored, got %d entries", logs.Len())
	}
}
