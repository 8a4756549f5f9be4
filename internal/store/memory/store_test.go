package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/kbrapp1/sourcebatch/internal/batch"
	"github.com/kbrapp1/sourcebatch/internal/store"
)

func record(id string, createdAt time.Time) store.RunRecord {
	return store.RunRecord{
		ID:        id,
		CreatedAt: createdAt,
		Summary: batch.Summary{
			TotalItems:      1,
			SuccessfulItems: 1,
			OverallSuccess:  true,
		},
	}
}

func TestSaveAndGetRun(t *testing.T) {
	t.Parallel()

	s := NewStore()
	ctx := context.Background()
	rec := record("run-1", time.Unix(100, 0).UTC())

	if err := s.SaveRun(ctx, rec); err != nil {
		t.Fatalf("SaveRun() error = %v", err)
	}
	got, err := s.GetRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("GetRun() error = %v", err)
	}
	if got.ID != rec.ID || got.Summary.TotalItems != 1 {
		t.Fatalf("unexpected record %+v", got)
	}
}

func TestSaveRunRejectsDuplicates(t *testing.T) {
	t.Parallel()

	s := NewStore()
	ctx := context.Background()
	rec := record("run-1", time.Now().UTC())

	if err := s.SaveRun(ctx, rec); err != nil {
		t.Fatalf("SaveRun() error = %v", err)
	}
	if err := s.SaveRun(ctx, rec); err == nil {
		t.Fatal("expected duplicate save to fail")
	}
}

func TestGetRunNotFound(t *testing.T) {
	t.Parallel()

	s := NewStore()
	_, err := s.GetRun(context.Background(), "missing")
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestListRunsNewestFirstWithKeyset(t *testing.T) {
	t.Parallel()

	s := NewStore()
	ctx := context.Background()
	base := time.Unix(1000, 0).UTC()
	for i := 0; i < 5; i++ {
		rec := record(string(rune('a'+i)), base.Add(time.Duration(i)*time.Minute))
		if err := s.SaveRun(ctx, rec); err != nil {
			t.Fatalf("SaveRun() error = %v", err)
		}
	}

	page, err := s.ListRuns(ctx, store.ListQuery{Limit: 2})
	if err != nil {
		t.Fatalf("ListRuns() error = %v", err)
	}
	if len(page) != 2 || page[0].ID != "e" || page[1].ID != "d" {
		t.Fatalf("expected newest-first page [e d], got %+v", page)
	}

	next, err := s.ListRuns(ctx, store.ListQuery{Limit: 2, Before: page[1].CreatedAt})
	if err != nil {
		t.Fatalf("ListRuns() error = %v", err)
	}
	if len(next) != 2 || next[0].ID != "c" || next[1].ID != "b" {
		t.Fatalf("expected second page [c b], got %+v", next)
	}
}

func TestListRunsClampsLimit(t *testing.T) {
	t.Parallel()

	s := NewStore()
	ctx := context.Background()
	base := time.Unix(1000, 0).UTC()
	for i := 0; i < store.DefaultListLimit+5; i++ {
		rec := record(time.Duration(i).String(), base.Add(time.Duration(i)*time.Second))
		if err := s.SaveRun(ctx, rec); err != nil {
			t.Fatalf("SaveRun() error = %v", err)
		}
	}

	page, err := s.ListRuns(ctx, store.ListQuery{})
	if err != nil {
		t.Fatalf("ListRuns() error = %v", err)
	}
	if len(page) != store.DefaultListLimit {
		t.Fatalf("expected default limit %d, got %d", store.DefaultListLimit, len(page))
	}
}
