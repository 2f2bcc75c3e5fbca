package anonymize

import "sort"

// runeOffsets maps every byte offset at a rune boundary in text (plus the
// final offset) to its rune offset. Go's regexp reports byte offsets; all
// downstream bookkeeping is in runes so replacement strings and original
// spans are measured in the same unit.
func runeOffsets(text string) map[int]int {
	offsets := make(map[int]int, len(text)+1)
	n := 0
	for i := range text {
		offsets[i] = n
		n++
	}
	offsets[len(text)] = n
	return offsets
}

// scan applies every pattern to text independently, in registration order,
// and returns all occurrences as raw matches. A single position may appear
// in any number of matches; overlap is resolved afterwards.
func scan(text string, patterns []Pattern) []rawMatch {
	offsets := runeOffsets(text)
	var matches []rawMatch
	for i, p := range patterns {
		for _, loc := range p.Regex.FindAllStringIndex(text, -1) {
			matches = append(matches, rawMatch{
				order: i,
				start: offsets[loc[0]],
				end:   offsets[loc[1]],
			})
		}
	}
	return matches
}

// resolve reduces raw matches to a non-overlapping finding sequence ordered
// by start. Ties are broken deterministically: start ascending, then length
// descending (the longer match wins at the same start), then pattern
// registration order. Losing matches are discarded, not merged.
func resolve(text string, patterns []Pattern, raw []rawMatch) []Finding {
	if len(raw) == 0 {
		return nil
	}

	sort.SliceStable(raw, func(i, j int) bool {
		if raw[i].start != raw[j].start {
			return raw[i].start < raw[j].start
		}
		li, lj := raw[i].end-raw[i].start, raw[j].end-raw[j].start
		if li != lj {
			return li > lj
		}
		return raw[i].order < raw[j].order
	})

	runes := []rune(text)
	findings := make([]Finding, 0, len(raw))

	// Starts are ascending, so a candidate overlaps an accepted span iff it
	// starts before the last accepted end.
	lastEnd := 0
	for _, m := range raw {
		if m.start < lastEnd {
			continue
		}
		p := patterns[m.order]
		findings = append(findings, Finding{
			Start:       m.start,
			End:         m.end,
			PatternID:   p.ID,
			Category:    p.Category,
			Severity:    p.Severity,
			Original:    string(runes[m.start:m.end]),
			Replacement: p.Replacement,
		})
		lastEnd = m.end
	}
	return findings
}
