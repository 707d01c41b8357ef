// Package matcher scores how alike two medicine names are.
package matcher

import (
	"regexp"
	"strings"
	"unicode"
)

var digitRun = regexp.MustCompile(`[0-9]+`)

// Normalize lowercases s, turns underscores into spaces and collapses whitespace.
func Normalize(s string) string {
	s = strings.ToLower(strings.ReplaceAll(s, "_", " "))
	return strings.Join(strings.Fields(s), " ")
}

// Similarity returns a score in [0,1] for two names. Equal names after
// normalization always score 1.
func Similarity(a, b string) float64 {
	an, bn := Normalize(a), Normalize(b)
	if an == bn {
		return 1.0
	}
	if an == "" || bn == "" {
		return 0
	}
	// ordering the pair keeps the block search symmetric
	if an > bn {
		an, bn = bn, an
	}

	ar, br := []rune(an), []rune(bn)
	base := ratio(ar, br)
	score := base

	aWords, bWords := tokenSet(an), tokenSet(bn)

	if overlap := wordOverlap(aWords, bWords); overlap >= 0.5 && base < 0.6 {
		score = maxf(score, overlap*0.85)
	}

	if sharesNumericToken(aWords, bWords) {
		score = maxf(score, 0.8)
	}

	if strings.Contains(an, bn) || strings.Contains(bn, an) {
		shorter, longer := len(ar), len(br)
		if shorter > longer {
			shorter, longer = longer, shorter
		}
		score = maxf(score, float64(shorter)/float64(longer)*0.75)
	}

	if aWords["med"] && bWords["med"] && sharesDigitRun(an, bn) {
		score = maxf(score, 0.7)
	}

	if score > 1 {
		score = 1
	}
	return score
}

// ratio is the Ratcliff/Obershelp score 2*M/(len(a)+len(b)).
func ratio(a, b []rune) float64 {
	total := len(a) + len(b)
	if total == 0 {
		return 1.0
	}
	return 2.0 * float64(matchedChars(a, b)) / float64(total)
}

type span struct{ alo, ahi, blo, bhi int }

// matchedChars sums the sizes of the matching blocks found by repeatedly
// taking the longest common substring and recursing on both sides of it.
func matchedChars(a, b []rune) int {
	matched := 0
	queue := []span{{0, len(a), 0, len(b)}}
	for len(queue) > 0 {
		s := queue[len(queue)-1]
		queue = queue[:len(queue)-1]

		i, j, k := longestMatch(a, b, s)
		if k == 0 {
			continue
		}
		matched += k
		if s.alo < i && s.blo < j {
			queue = append(queue, span{s.alo, i, s.blo, j})
		}
		if i+k < s.ahi && j+k < s.bhi {
			queue = append(queue, span{i + k, s.ahi, j + k, s.bhi})
		}
	}
	return matched
}

// longestMatch finds the longest common substring of a[alo:ahi] and b[blo:bhi].
// Ties resolve to the earliest start in a, then in b.
func longestMatch(a, b []rune, s span) (besti, bestj, bestk int) {
	besti, bestj = s.alo, s.blo

	b2j := make(map[rune][]int)
	for j := s.blo; j < s.bhi; j++ {
		b2j[b[j]] = append(b2j[b[j]], j)
	}

	j2len := map[int]int{}
	for i := s.alo; i < s.ahi; i++ {
		next := map[int]int{}
		for _, j := range b2j[a[i]] {
			k := j2len[j-1] + 1
			next[j] = k
			if k > bestk {
				besti, bestj, bestk = i-k+1, j-k+1, k
			}
		}
		j2len = next
	}
	return besti, bestj, bestk
}

func tokenSet(s string) map[string]bool {
	set := make(map[string]bool)
	for _, w := range strings.Fields(s) {
		set[w] = true
	}
	return set
}

func wordOverlap(a, b map[string]bool) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	common := 0
	for w := range a {
		if b[w] {
			common++
		}
	}
	larger := len(a)
	if len(b) > larger {
		larger = len(b)
	}
	return float64(common) / float64(larger)
}

func sharesNumericToken(a, b map[string]bool) bool {
	for w := range a {
		if isDigits(w) && b[w] {
			return true
		}
	}
	return false
}

func sharesDigitRun(a, b string) bool {
	runs := make(map[string]bool)
	for _, r := range digitRun.FindAllString(a, -1) {
		runs[r] = true
	}
	for _, r := range digitRun.FindAllString(b, -1) {
		if runs[r] {
			return true
		}
	}
	return false
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r > unicode.MaxASCII || !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}

func maxf(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}
