package model

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestStatusTerminal(t *testing.T) {
	terminal := []Status{StatusCompleted, StatusFailed, StatusCanceled}
	for _, s := range terminal {
		if !s.Terminal() {
			t.Errorf("expected %s to be terminal", s)
		}
	}
	open := []Status{StatusPending, StatusBlocked, StatusInProgress}
	for _, s := range open {
		if s.Terminal() {
			t.Errorf("expected %s to be non-terminal", s)
		}
	}
}

func TestLeaseExpired(t *testing.T) {
	now := time.Now()

	live := &Lease{Holder: "a", Epoch: 1, ExpiresAt: Timestamp(now.Add(time.Minute))}
	if live.Expired(now) {
		t.Error("lease expiring in a minute reported expired")
	}

	lapsed := &Lease{Holder: "a", Epoch: 1, ExpiresAt: Timestamp(now.Add(-time.Millisecond))}
	if !lapsed.Expired(now) {
		t.Error("lapsed lease reported live")
	}

	garbage := &Lease{Holder: "a", Epoch: 1, ExpiresAt: "not-a-time"}
	if !garbage.Expired(now) {
		t.Error("unparsable expiry must count as expired")
	}
}

func TestTimestampRoundTrip(t *testing.T) {
	ts := Timestamp(time.Date(2024, 3, 1, 12, 30, 45, 123_000_000, time.UTC))
	if ts != "2024-03-01T12:30:45.123Z" {
		t.Errorf("unexpected timestamp format: %s", ts)
	}
	parsed, err := ParseTime(ts)
	if err != nil {
		t.Fatalf("failed to parse canonical timestamp: %v", err)
	}
	if parsed.UTC().Format(TimeFormat) != ts {
		t.Errorf("round trip mismatch: %s", parsed)
	}
}

func TestValidID(t *testing.T) {
	good := []string{"alpha", "worker_a", "task-0001", "a.b-c_d", "A9"}
	for _, id := range good {
		if !ValidID(id) {
			t.Errorf("expected %q to be valid", id)
		}
	}
	bad := []string{"", ".", "..", "a/b", "a b", "a\nb", "тим", "a$"}
	for _, id := range bad {
		if ValidID(id) {
			t.Errorf("expected %q to be invalid", id)
		}
	}
}

func TestNormalizeResource(t *testing.T) {
	cases := []struct {
		in   string
		want string
		ok   bool
	}{
		{"src/api", "src/api", true},
		{"./src/api", "src/api", true},
		{"/src/api", "src/api", true},
		{"src/api/", "src/api", true},
		{"src//api", "src/api", true},
		{"src\\api", "src/api", true},
		{"", "", false},
		{".", "", false},
		{"..", "", false},
		{"../etc", "", false},
		{"a/../..", "", false},
	}
	for _, c := range cases {
		got, ok := NormalizeResource(c.in)
		if ok != c.ok || got != c.want {
			t.Errorf("NormalizeResource(%q) = (%q, %v), want (%q, %v)", c.in, got, ok, c.want, c.ok)
		}
	}
}

func TestResourceCovers(t *testing.T) {
	if !ResourceCovers("src/api", "src/api") {
		t.Error("resource must cover itself")
	}
	if !ResourceCovers("src", "src/api/users.go") {
		t.Error("parent resource must cover nested path")
	}
	if ResourceCovers("src/api", "src") {
		t.Error("child resource must not cover its parent")
	}
	if ResourceCovers("src", "srcdir/file") {
		t.Error("sibling prefix must not match")
	}
}

func TestAsError(t *testing.T) {
	wire := Conflict(CodeEpochMismatch, "epoch 2 != 3")
	if got := AsError(wire); got.Status != 409 || got.Code != CodeEpochMismatch {
		t.Errorf("AsError lost wire identity: %+v", got)
	}

	wrapped := fmt.Errorf("claim failed: %w", NotFound(CodeTaskNotFound, "no task task-0009"))
	if got := AsError(wrapped); got.Status != 404 || got.Code != CodeTaskNotFound {
		t.Errorf("AsError must unwrap, got %+v", got)
	}

	plain := AsError(errors.New("disk on fire"))
	if plain.Status != 500 || plain.Code != CodeInternal {
		t.Errorf("plain error must map to 500 INTERNAL_ERROR, got %+v", plain)
	}
}
