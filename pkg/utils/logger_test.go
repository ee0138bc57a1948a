package utils

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// observed - логгер поверх observer core для проверки полей
func observed(level zapcore.Level) (*Logger, *observer.ObservedLogs) {
	core, logs := observer.New(level)
	z := zap.New(core)
	return &Logger{Logger: z, sugar: z.Sugar()}, logs
}

// swapGlobal подменяет глобальный логгер на время теста
func swapGlobal(t *testing.T, l *Logger) {
	t.Helper()
	globalMu.Lock()
	prev := globalLogger
	globalLogger = l
	globalMu.Unlock()
	t.Cleanup(func() { SetGlobalLogger(prev) })
}

// ============================================================
// InitLogger
// ============================================================

func TestInitLogger_OutputFormats(t *testing.T) {
	tests := []struct {
		name   string
		format string
		want   string
	}{
		{"json", "json", `"message":"route accepted"`},
		{"пустой формат = json", "", `"symbol":"BTCUSDT"`},
		{"text", "text", "INFO"},
		{"console", "console", "route accepted"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "engine.log")
			l := InitLogger(LogConfig{Level: "debug", Format: tt.format, Output: path})
			l.Info("route accepted", Symbol("BTCUSDT"))
			_ = l.Sync()

			data, err := os.ReadFile(path)
			if err != nil {
				t.Fatal(err)
			}
			if !strings.Contains(string(data), tt.want) {
				t.Errorf("log %q does not contain %q", data, tt.want)
			}
		})
	}
}

func TestInitLogger_LevelFiltersOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "engine.log")
	l := InitLogger(LogConfig{Level: "warn", Output: path})
	l.Info("reprice")
	l.Warn("fill watch buffer full")
	_ = l.Sync()

	data, _ := os.ReadFile(path)
	if strings.Contains(string(data), "reprice") {
		t.Error("info must be filtered at warn level")
	}
	if !strings.Contains(string(data), "fill watch buffer full") {
		t.Error("warn must be written")
	}
}

// TestInitLogger_UnwritableOutputFallsBackToStderr: каталог вместо файла
// не открывается на запись, логгер пишет в stderr
func TestInitLogger_UnwritableOutputFallsBackToStderr(t *testing.T) {
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatal(err)
	}
	stderr := os.Stderr
	os.Stderr = w
	defer func() { os.Stderr = stderr }()

	l := InitLogger(LogConfig{Level: "info", Output: t.TempDir()})
	l.Warn("order feed disconnected", Attempt(3))
	_ = l.Sync()
	w.Close()
	os.Stderr = stderr

	out, _ := io.ReadAll(r)
	if !strings.Contains(string(out), "order feed disconnected") || !strings.Contains(string(out), `"attempt":3`) {
		t.Errorf("stderr = %q", out)
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input string
		want  zapcore.Level
	}{
		{"debug", zapcore.DebugLevel},
		{" WARN ", zapcore.WarnLevel},
		{"warning", zapcore.WarnLevel},
		{"error", zapcore.ErrorLevel},
		{"fatal", zapcore.FatalLevel},
		{"", zapcore.InfoLevel},
		{"verbose", zapcore.InfoLevel},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := parseLevel(tt.input); got != tt.want {
				t.Errorf("parseLevel(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

// ============================================================
// Глобальный логгер
// ============================================================

func TestGlobalLogger_LazyAndReplaceable(t *testing.T) {
	swapGlobal(t, nil)

	first := L()
	if first == nil || GetGlobalLogger() != first {
		t.Fatal("lazy global logger must be created once")
	}

	l, logs := observed(zapcore.DebugLevel)
	SetGlobalLogger(l)
	Warn("cooldown active", Symbol("ETHUSDT"))
	Infof("restored %d outcomes", 5)
	Debug("stop moved")
	Errorf("save report: %s", "db down")

	entries := logs.All()
	if len(entries) != 4 {
		t.Fatalf("entries = %d, want 4", len(entries))
	}
	if entries[1].Message != "restored 5 outcomes" || entries[3].Level != zapcore.ErrorLevel {
		t.Errorf("entries = %+v", entries)
	}
}

// ============================================================
// Доменные хелперы
// ============================================================

func TestLogger_DomainContext(t *testing.T) {
	l, logs := observed(zapcore.DebugLevel)

	l.WithComponent("router").
		WithSymbol("BTCUSDT").
		WithOrderID("cid-1").
		Info("route accepted",
			SlippageBp(1.5),
			StopPrice(99.4),
			Attempt(2),
			Latency(12),
			Side("BUY"),
			Dur("window", 120*time.Millisecond),
		)

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("entries = %d, want 1", len(entries))
	}
	ctx := entries[0].ContextMap()
	want := map[string]interface{}{
		"component":   "router",
		"symbol":      "BTCUSDT",
		"order_id":    "cid-1",
		"slippage_bp": 1.5,
		"stop":        99.4,
		"attempt":     int64(2),
		"latency_ms":  float64(12),
		"side":        "BUY",
		"window":      120 * time.Millisecond,
	}
	for k, v := range want {
		if ctx[k] != v {
			t.Errorf("%s = %v (%T), want %v (%T)", k, ctx[k], ctx[k], v, v)
		}
	}
}

func TestLogger_WithDoesNotLeakFields(t *testing.T) {
	l, logs := observed(zapcore.InfoLevel)

	_ = l.WithExchange("paper")
	l.Info("plain")

	if ctx := logs.All()[0].ContextMap(); len(ctx) != 0 {
		t.Errorf("parent logger got child fields: %v", ctx)
	}
}

func TestNewNopLogger(t *testing.T) {
	l := NewNopLogger()
	l.WithOrderID("x").Error("nothing", Err(os.ErrClosed))
	l.Sugar().Infof("nothing %d", 1)
}

func BenchmarkLogger_RouteFields(b *testing.B) {
	l := InitLogger(LogConfig{Level: "info", Output: filepath.Join(b.TempDir(), "bench.log")})
	log := l.WithComponent("router").WithSymbol("BTCUSDT")

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		log.Info("route accepted", Price(100.1), Volume(1), SlippageBp(1), Attempt(1))
	}
}
