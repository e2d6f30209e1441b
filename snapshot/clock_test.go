package snapshot

import (
	"testing"
	"time"

	"github.com/goliatone/go-recall-search/cursor"
)

func TestClock_MintRoundsToGranularity(t *testing.T) {
	loc := time.FixedZone("UTC-5", -5*60*60)
	fixed := time.Date(2024, 6, 1, 7, 0, 4, 123456789, loc)

	tests := []struct {
		name        string
		granularity time.Duration
		want        time.Time
	}{
		{name: "default", want: time.Date(2024, 6, 1, 12, 0, 4, 0, time.UTC)},
		{name: "one minute", granularity: time.Minute, want: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)},
		{name: "250ms", granularity: 250 * time.Millisecond, want: time.Date(2024, 6, 1, 12, 0, 4, 0, time.UTC)},
		{name: "microsecond", granularity: time.Microsecond, want: time.Date(2024, 6, 1, 12, 0, 4, 123456000, time.UTC)},
		{name: "below microsecond", granularity: time.Nanosecond, want: time.Date(2024, 6, 1, 12, 0, 4, 123456000, time.UTC)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var opts []Option
			if tt.granularity != 0 {
				opts = append(opts, WithGranularity(tt.granularity))
			}
			clock := New(func() time.Time { return fixed }, opts...)

			got := clock.Mint()
			if got.Location() != time.UTC {
				t.Errorf("expected UTC, got %v", got.Location())
			}
			if !got.Equal(tt.want) {
				t.Errorf("Mint() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestClock_MintIsStableInsideWindow(t *testing.T) {
	base := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	now := base.Add(100 * time.Millisecond)
	clock := New(func() time.Time { return now })

	first := clock.Mint()
	now = base.Add(900 * time.Millisecond)
	if got := clock.Mint(); !got.Equal(first) {
		t.Errorf("Mint() inside one window = %v, want %v", got, first)
	}

	now = base.Add(time.Second)
	if got := clock.Mint(); !got.After(first) {
		t.Errorf("Mint() in the next window = %v, want after %v", got, first)
	}
}

func TestClock_ZeroValueUsesWallClock(t *testing.T) {
	var clock Clock
	before := time.Now().Add(-2 * DefaultGranularity)

	got := clock.Mint()
	if got.Before(before) {
		t.Errorf("Mint() = %v, expected a current time", got)
	}
	if got.Nanosecond() != 0 {
		t.Errorf("expected whole seconds, got %d ns", got.Nanosecond())
	}
}

func TestClock_ResumeKeepsCursorSnapshot(t *testing.T) {
	asOf := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	clock := New(func() time.Time { return asOf.Add(time.Hour) })

	if got := clock.Resume(cursor.State{AsOf: asOf}); !got.Equal(asOf) {
		t.Errorf("Resume() = %v, want %v", got, asOf)
	}
}
