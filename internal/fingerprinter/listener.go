package fingerprinter

import "github.com/audiolibrelab/echoid/internal/recognition"

// Listener receives session lifecycle and result notifications. All methods
// are invoked on the session's Executor, in the order the worker emits them.
type Listener interface {
	WillStartListening()
	WillStartListeningPass()
	DidGenerateFingerprintCode(code string)
	DidFindMatchForCode(match recognition.Match, code string)
	DidNotFindMatchForCode(code string)
	DidFailWithError(err error)
	DidFinishListeningPass()
	DidFinishListening()
}

// NopListener ignores every notification. Embed it to implement only the
// callbacks you need.
type NopListener struct{}

func (NopListener) WillStartListening()                           {}
func (NopListener) WillStartListeningPass()                       {}
func (NopListener) DidGenerateFingerprintCode(string)             {}
func (NopListener) DidFindMatchForCode(recognition.Match, string) {}
func (NopListener) DidNotFindMatchForCode(string)                 {}
func (NopListener) DidFailWithError(error)                        {}
func (NopListener) DidFinishListeningPass()                       {}
func (NopListener) DidFinishListening()                           {}

// Listeners fans every notification out to each listener in order
type Listeners []Listener

func (ls Listeners) WillStartListening() {
	for _, l := range ls {
		l.WillStartListening()
	}
}

func (ls Listeners) WillStartListeningPass() {
	for _, l := range ls {
		l.WillStartListeningPass()
	}
}

func (ls Listeners) DidGenerateFingerprintCode(code string) {
	for _, l := range ls {
		l.DidGenerateFingerprintCode(code)
	}
}

func (ls Listeners) DidFindMatchForCode(match recognition.Match, code string) {
	for _, l := range ls {
		l.DidFindMatchForCode(match, code)
	}
}

func (ls Listeners) DidNotFindMatchForCode(code string) {
	for _, l := range ls {
		l.DidNotFindMatchForCode(code)
	}
}

func (ls Listeners) DidFailWithError(err error) {
	for _, l := range ls {
		l.DidFailWithError(err)
	}
}

func (ls Listeners) DidFinishListeningPass() {
	for _, l := range ls {
		l.DidFinishListeningPass()
	}
}

func (ls Listeners) DidFinishListening() {
	for _, l := range ls {
		l.DidFinishListening()
	}
}

// ListenerFuncs is a Listener built from optional functions; nil fields are
// skipped
type ListenerFuncs struct {
	OnWillStartListening         func()
	OnWillStartListeningPass     func()
	OnDidGenerateFingerprintCode func(code string)
	OnDidFindMatchForCode        func(match recognition.Match, code string)
	OnDidNotFindMatchForCode     func(code string)
	OnDidFailWithError           func(err error)
	OnDidFinishListeningPass     func()
	OnDidFinishListening         func()
}

func (f ListenerFuncs) WillStartListening() {
	if f.OnWillStartListening != nil {
		f.OnWillStartListening()
	}
}

func (f ListenerFuncs) WillStartListeningPass() {
	if f.OnWillStartListeningPass != nil {
		f.OnWillStartListeningPass()
	}
}

func (f ListenerFuncs) DidGenerateFingerprintCode(code string) {
	if f.OnDidGenerateFingerprintCode != nil {
		f.OnDidGenerateFingerprintCode(code)
	}
}

func (f ListenerFuncs) DidFindMatchForCode(match recognition.Match, code string) {
	if f.OnDidFindMatchForCode != nil {
		f.OnDidFindMatchForCode(match, code)
	}
}

func (f ListenerFuncs) DidNotFindMatchForCode(code string) {
	if f.OnDidNotFindMatchForCode != nil {
		f.OnDidNotFindMatchForCode(code)
	}
}

func (f ListenerFuncs) DidFailWithError(err error) {
	if f.OnDidFailWithError != nil {
		f.OnDidFailWithError(err)
	}
}

func (f ListenerFuncs) DidFinishListeningPass() {
	if f.OnDidFinishListeningPass != nil {
		f.OnDidFinishListeningPass()
	}
}

func (f ListenerFuncs) DidFinishListening() {
	if f.OnDidFinishListening != nil {
		f.OnDidFinishListening()
	}
}
