package triggersched

import (
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/arkeep-io/persona-orchestrator/internal/db"
)

func noopLogger() *zap.Logger { return zap.NewNop() }

func testTrigger() db.Trigger { return db.Trigger{} }

func TestParseEveryCron(t *testing.T) {
	cases := []struct {
		name  string
		input string
		want  time.Duration
		ok    bool
	}{
		{"seconds", "every 30s", 30 * time.Second, true},
		{"minutes", "every 5m", 5 * time.Minute, true},
		{"hours", "every 2h", 2 * time.Hour, true},
		{"days", "every 1d", 24 * time.Hour, true},
		{"case insensitive unit", "every 10S", 10 * time.Second, true},
		{"case insensitive keyword", "EVERY 10s", 10 * time.Second, true},
		{"not the grammar", "*/5 * * * *", 0, false},
		{"missing unit", "every 10", 0, false},
		{"empty", "", 0, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := parseEveryCron(tc.input)
			if ok != tc.ok {
				t.Fatalf("parseEveryCron(%q) ok = %v, want %v", tc.input, ok, tc.ok)
			}
			if ok && got != tc.want {
				t.Errorf("parseEveryCron(%q) = %v, want %v", tc.input, got, tc.want)
			}
		})
	}
}

func TestComputeNextFire(t *testing.T) {
	s := &Scheduler{logger: noopLogger()}
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	t.Run("cron shorthand wins", func(t *testing.T) {
		got := s.computeNextFire(testTrigger(), triggerConfig{Cron: "every 10m"}, now)
		if want := now.Add(10 * time.Minute); !got.Equal(want) {
			t.Errorf("got %v, want %v", got, want)
		}
	})

	t.Run("interval_seconds used when cron absent", func(t *testing.T) {
		got := s.computeNextFire(testTrigger(), triggerConfig{IntervalSeconds: 90}, now)
		if want := now.Add(90 * time.Second); !got.Equal(want) {
			t.Errorf("got %v, want %v", got, want)
		}
	})

	t.Run("falls back to an hour when nothing recognized", func(t *testing.T) {
		got := s.computeNextFire(testTrigger(), triggerConfig{}, now)
		if want := now.Add(fallbackInterval); !got.Equal(want) {
			t.Errorf("got %v, want %v", got, want)
		}
	})
}
