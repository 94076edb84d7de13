package pdf

import (
	"regexp"
	"strconv"
)

// Some rich-text editors emit inline font sizes in rem units, which the
// layout engine reads against the page size instead of the base font and
// renders either page-filling or illegibly tiny. Rewriting the value to the
// equivalent percentage produces visually stable output.
var remFontSizeRe = regexp.MustCompile(`(?i)(<span\b[^>]*\bstyle\s*=\s*["'][^"']*font-size\s*:\s*)(\d*\.?\d+)\s*rem`)

// FixRemFontSize rewrites rem font sizes in span style attributes to
// percentages, leaving quoting, casing and every other attribute exactly as
// found. Strings without a matching span come back unchanged; multiple
// matches are rewritten independently.
func FixRemFontSize(s string) string {
	return remFontSizeRe.ReplaceAllStringFunc(s, func(m string) string {
		sub := remFontSizeRe.FindStringSubmatch(m)
		v, err := strconv.ParseFloat(sub[2], 64)
		if err != nil {
			return m
		}
		return sub[1] + strconv.FormatFloat(v*100, 'f', -1, 64) + "%"
	})
}
