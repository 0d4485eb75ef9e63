package presence

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
)

func exerciseStore(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()

	for _, id := range []string{"s2", "s1", "s3"} {
		if err := s.Add(ctx, "X", id); err != nil {
			t.Fatalf("Add(%s) error = %v", id, err)
		}
	}
	if err := s.Add(ctx, "Y", "s9"); err != nil {
		t.Fatalf("Add() error = %v", err)
	}

	got, err := s.List(ctx, "X")
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(got) != 3 || got[0] != "s1" || got[1] != "s2" || got[2] != "s3" {
		t.Errorf("List(X) = %v, want [s1 s2 s3]", got)
	}

	if err := s.Remove(ctx, "X", "s2"); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	if err := s.Remove(ctx, "X", "missing"); err != nil {
		t.Fatalf("Remove(missing) error = %v", err)
	}
	got, _ = s.List(ctx, "X")
	if len(got) != 2 {
		t.Errorf("List(X) = %v after remove", got)
	}

	got, _ = s.List(ctx, "nobody")
	if len(got) != 0 {
		t.Errorf("List(nobody) = %v, want empty", got)
	}
}

func TestMemoryStore(t *testing.T) {
	exerciseStore(t, NewMemoryStore())
}

func TestRedisStore(t *testing.T) {
	mr := miniredis.RunT(t)
	s := NewRedisStore(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	defer s.Close()

	exerciseStore(t, s)

	members, err := mr.Members(Key("X"))
	if err != nil {
		t.Fatalf("Members() error = %v", err)
	}
	if len(members) != 2 {
		t.Errorf("redis set %s = %v", Key("X"), members)
	}
}

func TestKey(t *testing.T) {
	if got := Key("abc"); got != "debate:abc:monitors" {
		t.Errorf("Key() = %q", got)
	}
}
