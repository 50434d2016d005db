package redis

import (
	"strconv"
	"testing"
)

func TestShardFor_Deterministic(t *testing.T) {
	l := New(Options{Name: "ops", Shards: 4})

	a := l.ShardFor("biz1-loc1")
	for i := 0; i < 10; i++ {
		if got := l.ShardFor("biz1-loc1"); got != a {
			t.Fatalf("shard assignment not stable: %s vs %s", got, a)
		}
	}

	n, err := strconv.Atoi(a)
	if err != nil || n < 0 || n >= 4 {
		t.Fatalf("shard out of range: %q", a)
	}
}

func TestShardFor_SpreadsKeys(t *testing.T) {
	l := New(Options{Name: "ops", Shards: 4})

	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		seen[l.ShardFor("tenant-"+strconv.Itoa(i)+"-loc")] = true
	}
	// con 100 claves y 4 shards esperamos usar más de uno
	if len(seen) < 2 {
		t.Fatalf("hash maps everything to one shard: %v", seen)
	}
}

func TestShardFor_SingleShardClamp(t *testing.T) {
	l := New(Options{Name: "ops", Shards: 0})
	if got := l.ShardFor("anything"); got != "0" {
		t.Fatalf("shards<=0 should clamp to one shard, got %s", got)
	}
}
