package history

import (
	"context"
	"log/slog"
	"sync"

	"github.com/audiolibrelab/echoid/internal/fingerprinter"
	"github.com/audiolibrelab/echoid/internal/recognition"
)

// Recorder is a fingerprinter.Listener that writes every pass outcome to a
// Store. Write failures are logged and otherwise ignored.
type Recorder struct {
	fingerprinter.NopListener

	store *Store

	mu   sync.Mutex
	code string
}

// NewRecorder returns a Recorder writing to store
func NewRecorder(store *Store) *Recorder {
	return &Recorder{store: store}
}

func (r *Recorder) add(e Entry) {
	if _, err := r.store.Add(context.Background(), e); err != nil {
		slog.Warn("Failed to record history entry", slog.Any("error", err))
	}
}

func (r *Recorder) WillStartListeningPass() {
	r.mu.Lock()
	r.code = ""
	r.mu.Unlock()
}

func (r *Recorder) DidGenerateFingerprintCode(code string) {
	r.mu.Lock()
	r.code = code
	r.mu.Unlock()
}

func (r *Recorder) DidFindMatchForCode(match recognition.Match, code string) {
	r.add(Entry{
		Outcome: OutcomeMatch,
		Code:    code,
		Artist:  match.Artist(),
		Title:   match.Title(),
		Match:   match,
	})
}

func (r *Recorder) DidNotFindMatchForCode(code string) {
	r.add(Entry{Outcome: OutcomeNoMatch, Code: code})
}

func (r *Recorder) DidFailWithError(err error) {
	r.mu.Lock()
	code := r.code
	r.mu.Unlock()
	r.add(Entry{Outcome: OutcomeError, Code: code, Error: err.Error()})
}
