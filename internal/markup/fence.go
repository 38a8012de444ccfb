package markup

import (
	"regexp"
	"strings"
)

// fenceOpen matches the opening line of a fenced code block and captures
// the fence run.
var fenceOpen = regexp.MustCompile("^[ \t]*(`{3,}|~{3,})")

// Segment is a run of source lines that is either inside a fenced code
// block or outside of one.
type Segment struct {
	Text   string
	Fenced bool
}

// SplitFences cuts markup text into alternating prose and fenced-code
// segments. Text passes that must not touch code (token and placeholder
// insertion) rewrite only the prose segments. An unterminated fence runs to
// the end of the text, as in CommonMark.
func SplitFences(text string) []Segment {
	lines := strings.SplitAfter(text, "\n")

	var (
		segments []Segment
		current  strings.Builder
		fence    string
	)
	flush := func(fenced bool) {
		if current.Len() > 0 {
			segments = append(segments, Segment{Text: current.String(), Fenced: fenced})
			current.Reset()
		}
	}

	for _, line := range lines {
		if fence == "" {
			if m := fenceOpen.FindStringSubmatch(line); m != nil {
				flush(false)
				fence = m[1]
			}
			current.WriteString(line)
			continue
		}

		current.WriteString(line)
		if closesFence(line, fence) {
			flush(true)
			fence = ""
		}
	}
	flush(fence != "")
	return segments
}

// closesFence reports whether line closes a block opened by fence: same
// character, at least as long, nothing but whitespace after it.
func closesFence(line, fence string) bool {
	trimmed := strings.TrimSpace(line)
	if len(trimmed) < len(fence) {
		return false
	}
	return strings.Trim(trimmed, fence[:1]) == ""
}

// MapProse applies fn to the prose segments of text and joins the result.
func MapProse(text string, fn func(string) string) string {
	segments := SplitFences(text)
	var b strings.Builder
	b.Grow(len(text))
	for _, s := range segments {
		if s.Fenced {
			b.WriteString(s.Text)
			continue
		}
		b.WriteString(fn(s.Text))
	}
	return b.String()
}
