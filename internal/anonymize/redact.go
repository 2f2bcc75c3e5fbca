package anonymize

import (
	"strings"
	"unicode/utf8"
)

// project renders the display text for original under the findings' current
// Revealed flags and returns the findings with their display spans updated.
// It is a pure function of (original, findings); toggling a finding re-runs
// the whole projection rather than patching the previous display text, which
// keeps every span correct when replacement and original lengths differ.
func project(original string, findings []Finding) (string, []Finding) {
	runes := []rune(original)
	out := append([]Finding(nil), findings...)

	var b strings.Builder
	display := 0 // rune length emitted so far
	prevEnd := 0
	for i := range out {
		f := &out[i]

		b.WriteString(string(runes[prevEnd:f.Start]))
		display += f.Start - prevEnd

		emitted := f.Replacement
		if f.Revealed {
			emitted = f.Original
		}
		b.WriteString(emitted)
		f.DisplayStart = display
		display += utf8.RuneCountInString(emitted)
		f.DisplayEnd = display

		prevEnd = f.End
	}
	b.WriteString(string(runes[prevEnd:]))

	return b.String(), out
}
