package cmd

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/fatih/color"

	"github.com/audiolibrelab/echoid/internal/recognition"
)

func TestConsoleListener(t *testing.T) {
	color.NoColor = true

	var out bytes.Buffer
	l := newConsoleListener(&out)

	l.WillStartListeningPass()
	l.DidGenerateFingerprintCode(strings.Repeat("x", 60))
	l.DidFindMatchForCode(recognition.Match{"artist_name": "P!nk", "title": "Don't Let Me Get Me"}, "code")
	l.DidFailWithError(errors.New("boom"))
	l.DidFinishListening()

	expected := "Listening...\n" +
		"Will fetch info for code starting:\n" + strings.Repeat("x", 50) + "\n" +
		"Match: \nartist_name: P!nk\ntitle: Don't Let Me Get Me\n" +
		"Error: boom\n" +
		"Idle...\n"
	if out.String() != expected {
		t.Errorf("Unexpected console output\n got: %q\nwant: %q", out.String(), expected)
	}
}

func TestMaskSecret(t *testing.T) {
	testCases := map[string]string{"": `""`, "abc": "****", "abcdefgh": "abcd****"}
	for in, want := range testCases {
		if got := maskSecret(in); got != want {
			t.Errorf("maskSecret(%q): expected %q, got %q", in, want, got)
		}
	}
}
