package history

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/audiolibrelab/echoid/internal/recognition"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "nested", "history.db"))
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStore_AddAndRecent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	ts := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	if _, err := s.Add(ctx, Entry{Timestamp: ts, Outcome: OutcomeNoMatch, Code: "c1"}); err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	id, err := s.Add(ctx, Entry{
		Outcome: OutcomeMatch,
		Code:    "c2",
		Artist:  "P!nk",
		Title:   "Don't Let Me Get Me",
		Match:   map[string]string{"artist_name": "P!nk", "title": "Don't Let Me Get Me", "score": "54"},
	})
	if err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	entries, err := s.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("Recent failed: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("Expected 2 entries, got %d", len(entries))
	}

	newest := entries[0]
	if newest.ID != id || newest.Outcome != OutcomeMatch || newest.Title != "Don't Let Me Get Me" {
		t.Errorf("Unexpected newest entry: %+v", newest)
	}
	if newest.Match["score"] != "54" {
		t.Errorf("Expected match details to round trip, got %v", newest.Match)
	}
	if newest.Timestamp.IsZero() {
		t.Error("Expected timestamp to default to now")
	}

	oldest := entries[1]
	if !oldest.Timestamp.Equal(ts) {
		t.Errorf("Expected timestamp %v, got %v", ts, oldest.Timestamp)
	}
	if oldest.Match != nil {
		t.Errorf("Expected no match details, got %v", oldest.Match)
	}
}

func TestStore_RecentLimit(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if _, err := s.Add(ctx, Entry{Outcome: OutcomeNoMatch}); err != nil {
			t.Fatalf("Add failed: %v", err)
		}
	}

	entries, err := s.Recent(ctx, 3)
	if err != nil {
		t.Fatalf("Recent failed: %v", err)
	}
	if len(entries) != 3 {
		t.Errorf("Expected 3 entries, got %d", len(entries))
	}
}

func TestStore_CountAndClear(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	for _, o := range []Outcome{OutcomeMatch, OutcomeNoMatch, OutcomeNoMatch, OutcomeError} {
		if _, err := s.Add(ctx, Entry{Outcome: o}); err != nil {
			t.Fatalf("Add failed: %v", err)
		}
	}

	counts, err := s.Count(ctx)
	if err != nil {
		t.Fatalf("Count failed: %v", err)
	}
	if counts[OutcomeMatch] != 1 || counts[OutcomeNoMatch] != 2 || counts[OutcomeError] != 1 {
		t.Errorf("Unexpected counts: %v", counts)
	}

	if err := s.Clear(ctx); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}
	entries, err := s.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("Recent failed: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("Expected empty history, got %d entries", len(entries))
	}
}

func TestOpen_EmptyPath(t *testing.T) {
	if _, err := Open(""); err == nil {
		t.Error("Expected error for empty path")
	}
}

func TestRecorder(t *testing.T) {
	s := openTestStore(t)
	r := NewRecorder(s)

	r.WillStartListeningPass()
	r.DidGenerateFingerprintCode("code-1")
	r.DidFindMatchForCode(recognition.Match{"artist_name": "Moby", "title": "Porcelain"}, "code-1")

	r.WillStartListeningPass()
	r.DidGenerateFingerprintCode("code-2")
	r.DidFailWithError(errors.New("recognition transport error: timeout"))

	r.WillStartListeningPass()
	r.DidFailWithError(errors.New("reading capture device"))

	r.WillStartListeningPass()
	r.DidGenerateFingerprintCode("code-3")
	r.DidNotFindMatchForCode("code-3")
	r.DidFinishListeningPass()
	r.DidFinishListening()

	entries, err := s.Recent(context.Background(), 10)
	if err != nil {
		t.Fatalf("Recent failed: %v", err)
	}
	if len(entries) != 4 {
		t.Fatalf("Expected 4 entries, got %d", len(entries))
	}

	if entries[0].Outcome != OutcomeNoMatch || entries[0].Code != "code-3" {
		t.Errorf("Unexpected entry: %+v", entries[0])
	}
	if entries[1].Outcome != OutcomeError || entries[1].Code != "" {
		t.Errorf("Expected error without code, got %+v", entries[1])
	}
	if entries[2].Outcome != OutcomeError || entries[2].Code != "code-2" {
		t.Errorf("Expected error with code-2, got %+v", entries[2])
	}
	if entries[3].Outcome != OutcomeMatch || entries[3].Artist != "Moby" || entries[3].Title != "Porcelain" {
		t.Errorf("Unexpected match entry: %+v", entries[3])
	}
}
