// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package answer

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Two or more digits are accepted because chunk ids grow past 99 on large
// documents (chunk-100 and up).
var (
	// citationStrictRe matches the required wire format [<filename>#chunk-XX].
	citationStrictRe = regexp.MustCompile(`\[([^\]#]+)#(chunk-\d+)\]`)

	// citationLooseRe additionally matches unbracketed keys like
	// doc.txt#chunk-3. Used only for deterministic repair.
	citationLooseRe = regexp.MustCompile(`([^\s\[\]#]+)#(chunk-\d+)`)

	chunkOrdinalRe = regexp.MustCompile(`^chunk-(\d+)$`)
)

// HasCitationToken is a cheap pre-check for the presence of anything that
// could be a citation. The strict regex decides what actually counts.
func HasCitationToken(text string) bool {
	return strings.Contains(text, "[") && strings.Contains(text, "#chunk-")
}

// ExtractCitedKeys returns the citation keys appearing in strict form,
// deduplicated, in first-occurrence order.
func ExtractCitedKeys(text string) []string {
	seen := make(map[string]bool)
	var ordered []string
	for _, m := range citationStrictRe.FindAllStringSubmatch(text, -1) {
		key := m[1] + "#" + m[2]
		if !seen[key] {
			seen[key] = true
			ordered = append(ordered, key)
		}
	}
	return ordered
}

// NormalizeCitationKey maps a cited key onto the stable stored key when the
// model dropped leading zeros, e.g. doc.txt#chunk-3 to doc.txt#chunk-03.
// Keys that already exist in allowed, or that cannot be normalized, are
// returned unchanged.
func NormalizeCitationKey(key string, allowed map[string]bool) string {
	if allowed[key] {
		return key
	}
	src, cid, found := strings.Cut(key, "#")
	if !found {
		return key
	}
	m := chunkOrdinalRe.FindStringSubmatch(cid)
	if m == nil {
		return key
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return key
	}
	for _, candidate := range []string{
		fmt.Sprintf("chunk-%02d", n),
		fmt.Sprintf("chunk-%03d", n),
		fmt.Sprintf("chunk-%d", n),
	} {
		if k := src + "#" + candidate; allowed[k] {
			return k
		}
	}
	return key
}

// RepairCitations deterministically fixes common formatting slips, turning
// loose occurrences like doc.txt#chunk-3 into strict [doc.txt#chunk-03],
// without another generation pass. Only keys that map to allowed evidence
// are rewritten; anything else is left for the fail-closed check.
//
// If the text already contains at least one strict citation we leave it
// alone entirely: the model got the format right and partial rewrites
// would only add noise.
func RepairCitations(text string, allowed map[string]bool) string {
	txt := strings.TrimSpace(text)
	if txt == "" {
		return txt
	}
	if citationStrictRe.MatchString(txt) {
		return txt
	}

	matches := citationLooseRe.FindAllStringSubmatchIndex(txt, -1)
	if len(matches) == 0 {
		return txt
	}

	var b strings.Builder
	last := 0
	for _, m := range matches {
		start, end := m[0], m[1]
		// Skip occurrences that are already bracketed. The loose pattern
		// cannot match brackets itself, so peeking one byte each side is
		// enough.
		if (start > 0 && txt[start-1] == '[') || (end < len(txt) && txt[end] == ']') {
			continue
		}
		key := NormalizeCitationKey(txt[m[2]:m[3]]+"#"+txt[m[4]:m[5]], allowed)
		if !allowed[key] {
			continue
		}
		b.WriteString(txt[last:start])
		b.WriteString("[")
		b.WriteString(key)
		b.WriteString("]")
		last = end
	}
	b.WriteString(txt[last:])
	return b.String()
}

var blankLineRe = regexp.MustCompile(`\n\s*\n`)
var wordRe = regexp.MustCompile(`\w`)

// PassesCitationDensity reports whether every non-empty block of the
// answer (paragraphs and bullet groups, separated by blank lines) carries
// at least one strict citation token.
func PassesCitationDensity(text string) bool {
	txt := strings.TrimSpace(text)
	if txt == "" {
		return false
	}
	for _, block := range blankLineRe.Split(txt, -1) {
		if !wordRe.MatchString(block) {
			continue
		}
		if !citationStrictRe.MatchString(block) {
			return false
		}
	}
	return true
}
