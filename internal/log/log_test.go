package log

import (
	"log/slog"
	"sync"
	"testing"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug": slog.LevelDebug,
		"warn":  slog.LevelWarn,
		"error": slog.LevelError,
		"info":  slog.LevelInfo,
		"":      slog.LevelInfo,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Fatalf("level %q: got %v want %v", in, got, want)
		}
	}
}

func TestComponentFallsBackToGlobal(t *testing.T) {
	if Component(nil, "geo") == nil {
		t.Fatalf("expected logger")
	}
	if L() == nil || With("k", "v") == nil {
		t.Fatalf("expected global logger")
	}
}

func TestConcurrentFirstUseSharesOneLogger(t *testing.T) {
	logger, once = nil, sync.Once{}
	t.Cleanup(func() { L() })

	const workers = 16
	got := make([]*slog.Logger, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				Init("debug")
			}
			got[i] = L()
		}(i)
	}
	wg.Wait()

	for i, l := range got {
		if l == nil || l != got[0] {
			t.Fatalf("worker %d got a different logger", i)
		}
	}
}
