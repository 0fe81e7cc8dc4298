package service

import (
	"sync"

	"github.com/audiolibrelab/echoid/internal/fingerprinter"
	"github.com/audiolibrelab/echoid/internal/recognition"
)

// tracker keeps the latest outcome and status line for GetStatus
type tracker struct {
	fingerprinter.NopListener

	mu        sync.RWMutex
	message   string
	lastCode  string
	lastMatch recognition.Match
	lastErr   string
}

func newTracker() *tracker {
	return &tracker{message: IdleText()}
}

func (t *tracker) set(fn func()) {
	t.mu.Lock()
	fn()
	t.mu.Unlock()
}

func (t *tracker) WillStartListening() {
	t.set(func() {
		t.message = ListeningText()
		t.lastErr = ""
	})
}

func (t *tracker) WillStartListeningPass() {
	t.set(func() { t.message = ListeningText() })
}

func (t *tracker) DidGenerateFingerprintCode(code string) {
	t.set(func() {
		t.lastCode = code
		t.message = FetchingText(code)
	})
}

func (t *tracker) DidFindMatchForCode(match recognition.Match, code string) {
	t.set(func() {
		t.lastMatch = match
		t.message = MatchText(match)
	})
}

func (t *tracker) DidNotFindMatchForCode(code string) {
	t.set(func() {
		t.lastMatch = nil
		t.message = NoMatchText(code)
	})
}

func (t *tracker) DidFailWithError(err error) {
	t.setLastError(err.Error())
}

func (t *tracker) DidFinishListening() {
	t.set(func() { t.message = IdleText() })
}

// setLastError sets the last error message (thread-safe)
func (t *tracker) setLastError(msg string) {
	t.set(func() {
		t.lastErr = msg
		t.message = "Error: " + msg
	})
}

// clearLastError clears the last error message (thread-safe)
func (t *tracker) clearLastError() {
	t.set(func() { t.lastErr = "" })
}

func (t *tracker) lastError() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.lastErr
}

func (t *tracker) snapshot() Status {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return Status{
		Message:   t.message,
		LastCode:  t.lastCode,
		LastMatch: t.lastMatch,
		LastError: t.lastErr,
	}
}
