package triage

import (
	"strings"
	"unicode"
)

const (
	minLineLen       = 5    // shorter trimmed lines are dropped
	maxTabBarLen     = 300  // tab bars are shorter than this
	maxTabSegmentLen = 25   // average tab title length
	minAlphaRatio    = 0.35 // letters / characters
	maxLabelLen      = 20   // single-token lines shorter than this are labels
	minBullets       = 3
	minSpacedPathLen = 40
	maxTimestampLen  = 20
	blockBreakLen    = 8 // surviving lines shorter than this end a block
	minBlockWords    = 8
)

var menuWords = map[string]struct{}{
	"file": {}, "edit": {}, "view": {}, "window": {},
	"help": {}, "format": {}, "insert": {}, "tools": {},
}

var urlDomainSuffixes = []string{".com/", ".io/", ".org/"}

var userDirMarkers = []string{
	"Users/", "Desktop/", "Documents/",
	`Users\`, `Desktop\`, `Documents\`,
}

// Normalize turns raw OCR text into newline-separated content blocks.
//
// Lines that look like UI chrome (URLs, tab bars, menus, labels, paths,
// timestamps, icon rows) are dropped first. The survivors are then joined into
// paragraphs; a short line ends the current paragraph, and only paragraphs
// with at least eight words are kept.
func Normalize(raw string) string {
	var kept []string
	for _, line := range strings.Split(raw, "\n") {
		trimmed := strings.TrimSpace(line)
		if isNoiseLine(trimmed) {
			continue
		}
		kept = append(kept, trimmed)
	}

	var blocks []string
	var current []string
	flush := func() {
		if len(current) == 0 {
			return
		}
		block := strings.Join(current, " ")
		if WordCount(block) >= minBlockWords {
			blocks = append(blocks, strings.TrimSpace(block))
		}
		current = current[:0]
	}

	for _, line := range kept {
		if len(line) < blockBreakLen {
			flush()
			continue
		}
		current = append(current, line)
	}
	flush()

	return strings.Join(blocks, "\n")
}

// isNoiseLine reports whether a trimmed line should be dropped before block
// assembly.
func isNoiseLine(s string) bool {
	if len(s) < minLineLen {
		return true
	}
	return looksLikeURL(s) ||
		looksLikeTabBar(s) ||
		lowAlphaRatio(s) ||
		looksLikeMenuBar(s) ||
		looksLikeLabel(s) ||
		looksLikeBreadcrumb(s) ||
		looksLikePath(s) ||
		looksLikeTimestamp(s)
}

func looksLikeURL(s string) bool {
	if strings.Contains(s, "://") || strings.HasPrefix(s, "www.") {
		return true
	}
	if strings.Contains(s, " ") || !strings.Contains(s, "/") {
		return false
	}
	for _, suffix := range urlDomainSuffixes {
		if strings.Contains(s, suffix) {
			return true
		}
	}
	return false
}

func looksLikeTabBar(s string) bool {
	pipes := strings.Count(s, "|")
	if pipes < 2 || len(s) >= maxTabBarLen {
		return false
	}
	return len(s)/(pipes+1) < maxTabSegmentLen
}

func lowAlphaRatio(s string) bool {
	var letters, total int
	for _, r := range s {
		total++
		if unicode.IsLetter(r) {
			letters++
		}
	}
	return total > 0 && float64(letters)/float64(total) < minAlphaRatio
}

func looksLikeMenuBar(s string) bool {
	lower := strings.ToLower(s)
	if _, ok := menuWords[lower]; ok {
		return true
	}
	var file, edit, view bool
	for _, w := range strings.Fields(lower) {
		switch w {
		case "file":
			file = true
		case "edit":
			edit = true
		case "view":
			view = true
		}
	}
	return file && edit && view
}

func looksLikeLabel(s string) bool {
	return !strings.Contains(s, " ") && len(s) < maxLabelLen
}

func looksLikeBreadcrumb(s string) bool {
	n := strings.Count(s, "•") + strings.Count(s, "·") +
		strings.Count(s, "›") + strings.Count(s, "→")
	return n >= minBullets
}

func looksLikePath(s string) bool {
	spaced := strings.Contains(s, " ")
	if strings.HasPrefix(s, "/") && !spaced {
		return true
	}
	if strings.HasPrefix(s, `C:\`) || strings.HasPrefix(s, `D:\`) {
		return true
	}
	for _, m := range userDirMarkers {
		if strings.Contains(s, m) {
			return !spaced || len(s) < minSpacedPathLen
		}
	}
	return false
}

func looksLikeTimestamp(s string) bool {
	if len(s) >= maxTimestampLen {
		return false
	}
	var digits int
	for i := 0; i < len(s); i++ {
		if s[i] >= '0' && s[i] <= '9' {
			digits++
		}
	}
	return digits > len(s)/2 && strings.Contains(s, ":")
}
