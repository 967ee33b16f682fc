package tool

import (
	"context"
	"errors"
	"testing"
	"time"

	xerrors "Leno-Agent/internal/errors"
)

var videos = []Candidate{
	{ID: "v1", Name: "Go Concurrency Patterns"},
	{ID: "v2", Name: "Rust in Production"},
}

func TestMatchStrict(t *testing.T) {
	c, err := Match("rust IN production", videos, ResolveStrict)
	if err != nil || c.ID != "v2" {
		t.Fatalf("expected case-insensitive exact match, got %+v %v", c, err)
	}
	if _, err := Match("Rust", videos, ResolveStrict); !xerrors.Is(err, CodeResolveNoMatch) {
		t.Fatalf("strict policy must not fall back: %v", err)
	}
}

func TestMatchBestEffort(t *testing.T) {
	c, err := Match("Rust", videos, ResolveBestEffort)
	if err != nil || c.ID != "v1" {
		t.Fatalf("best effort should fall back to first result, got %+v %v", c, err)
	}
	if _, err := Match("Rust", nil, ResolveBestEffort); err == nil {
		t.Fatalf("empty listing must still fail")
	}
}

func TestParsePolicy(t *testing.T) {
	if ParsePolicy("best-effort") != ResolveBestEffort || ParsePolicy("") != ResolveStrict {
		t.Fatalf("unexpected policy parsing")
	}
}

func TestResolverCachesSuccessfulLookups(t *testing.T) {
	resolver, err := NewResolver(100, time.Minute)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer resolver.Close()

	calls := 0
	list := func(context.Context, string) ([]Candidate, error) {
		calls++
		return videos, nil
	}
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		c, err := resolver.Resolve(ctx, "youtube", "Go Concurrency Patterns", ResolveStrict, list)
		if err != nil || c.ID != "v1" {
			t.Fatalf("unexpected resolution: %+v %v", c, err)
		}
	}
	if calls != 1 {
		t.Fatalf("expected cached lookups, lister called %d times", calls)
	}
}

func TestResolverPropagatesListErrors(t *testing.T) {
	resolver, _ := NewResolver(10, time.Minute)
	defer resolver.Close()
	boom := errors.New("quota exceeded")
	_, err := resolver.Resolve(context.Background(), "youtube", "x", ResolveBestEffort, func(context.Context, string) ([]Candidate, error) {
		return nil, boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected lister error, got %v", err)
	}
	if _, err := resolver.Resolve(context.Background(), "youtube", " ", ResolveStrict, nil); err == nil {
		t.Fatalf("empty query must be rejected")
	}
}
