package queue

import (
	"testing"
	"time"

	"github.com/micohasanen/hexagon-api/internal/config"
)

func TestBackoffDoublesAndCaps(t *testing.T) {
	r := &Redis{Config: config.QueueConfig{
		RetryBase: 5 * time.Second,
		RetryMax:  time.Minute,
	}}

	cases := []struct {
		attempts int
		want     time.Duration
	}{
		{1, 5 * time.Second},
		{2, 10 * time.Second},
		{3, 20 * time.Second},
		{4, 40 * time.Second},
		{5, time.Minute},
		{10, time.Minute},
	}
	for _, c := range cases {
		if got := r.backoff(c.attempts); got != c.want {
			t.Fatalf("backoff(%d)=%s want=%s", c.attempts, got, c.want)
		}
	}
}

func TestBackoffDefaults(t *testing.T) {
	r := &Redis{}
	if got := r.backoff(1); got != 5*time.Second {
		t.Fatalf("default base=%s want=5s", got)
	}
}

func TestQueueKeys(t *testing.T) {
	r := &Redis{Config: config.QueueConfig{Prefix: "hex"}}
	if got := r.zsetKey(QueueRarity); got != "hex:queue:rarity" {
		t.Fatalf("zset key=%q", got)
	}
	if got := r.hashKey(QueueRarity); got != "hex:queue:rarity:jobs" {
		t.Fatalf("hash key=%q", got)
	}

	// Missing prefix falls back instead of producing a bare key.
	r = &Redis{}
	if got := r.zsetKey(QueueTransfers); got != "hexagon:queue:transfers" {
		t.Fatalf("default prefixed key=%q", got)
	}
}
