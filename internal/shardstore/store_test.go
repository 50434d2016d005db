package shardstore

import (
	"errors"
	"testing"
)

func TestClampLimit(t *testing.T) {
	cases := []struct {
		in, want int
	}{
		{0, 100},
		{-5, 100},
		{1, 1},
		{250, 250},
		{1000, 1000},
		{5000, 1000},
	}
	for _, c := range cases {
		if got := clampLimit(c.in); got != c.want {
			t.Fatalf("clampLimit(%d) = %d, want %d", c.in, got, c.want)
		}
	}
}

func TestShardLockID_StablePerShard(t *testing.T) {
	a := shardLockID("shard-1")
	if a != shardLockID("shard-1") {
		t.Fatal("lock id not deterministic")
	}
	if a == shardLockID("shard-2") {
		t.Fatal("distinct shards share a lock id")
	}
}

func TestIsNotFound(t *testing.T) {
	if !IsNotFound(ErrNotFound) {
		t.Fatal("sentinel not recognized")
	}
	if !IsNotFound(errors.Join(errors.New("outer"), ErrNotFound)) {
		t.Fatal("wrapped sentinel not recognized")
	}
	if IsNotFound(errors.New("other")) {
		t.Fatal("unrelated error reported as not found")
	}
}
