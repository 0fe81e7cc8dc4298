package service

import (
	"fmt"
	"sort"
	"strings"

	"github.com/audiolibrelab/echoid/internal/recognition"
)

// codePreviewLen is how much of a code is shown in status lines
const codePreviewLen = 50

// ListeningText is shown while a pass captures audio
func ListeningText() string { return "Listening..." }

// IdleText is shown once a run has finished
func IdleText() string { return "Idle..." }

// CodePreview returns the first characters of a fingerprint code
func CodePreview(code string) string {
	if len(code) > codePreviewLen {
		return code[:codePreviewLen]
	}
	return code
}

// FetchingText is shown while a code is being looked up
func FetchingText(code string) string {
	return "Will fetch info for code starting:\n" + CodePreview(code)
}

// MatchText lists every field of a match, one per line, in key order
func MatchText(match recognition.Match) string {
	keys := make([]string, 0, len(match))
	for k := range match {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString("Match: \n")
	for _, k := range keys {
		fmt.Fprintf(&b, "%s: %s\n", k, match[k])
	}
	return b.String()
}

// NoMatchText is shown when the service has no candidate for a code
func NoMatchText(code string) string {
	return "No match for code starting with: \n" + CodePreview(code)
}

// ErrorText is shown when a pass fails
func ErrorText(err error) string {
	return "Error: " + err.Error()
}
