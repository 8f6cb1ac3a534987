// Package mediaref finds and rewrites media file references embedded in note fields.
package mediaref

import (
	"html"
	"regexp"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

type pattern struct {
	re    *regexp.Regexp
	group int // submatch holding the filename
}

// Order matters: each pattern runs over the output of the previous one.
var patterns = []pattern{
	{regexp.MustCompile(`(?i)\[sound:([^\]]+)\]`), 1},
	{regexp.MustCompile(`(?i)<(?:img|audio)\b[^>]* src="([^>]+?)"[^>]*>`), 1},
	{regexp.MustCompile(`(?i)<(?:img|audio)\b[^>]* src='([^>]+?)'[^>]*>`), 1},
	{regexp.MustCompile(`(?i)<(?:img|audio)\b[^>]* src=([^ >'"][^ >]*)[^>]*?>`), 1},
	{regexp.MustCompile(`(?i)<object\b[^>]* data="([^>]+?)"[^>]*>`), 1},
	{regexp.MustCompile(`(?i)<object\b[^>]* data='([^>]+?)'[^>]*>`), 1},
	{regexp.MustCompile(`(?i)<object\b[^>]* data=([^ >'"][^ >]*)[^>]*?>`), 1},
}

var (
	remoteRe = regexp.MustCompile(`(?i)^(https?|ftp)://`)
	imgRe    = regexp.MustCompile(`(?i)<img[^>]+src=["']?([^"'>]+)["']?[^>]*>`)
	strict   = bluemonday.StrictPolicy()
)

// Replacer maps a referenced filename to the filename the reference should use.
// Returning the input unchanged leaves the reference untouched; a non-nil error
// aborts the rewrite.
type Replacer func(fname string) (string, error)

// Rewrite applies fn to every media reference in s and returns the rewritten string.
func Rewrite(s string, fn Replacer) (string, error) {
	for _, p := range patterns {
		locs := p.re.FindAllStringSubmatchIndex(s, -1)
		if len(locs) == 0 {
			continue
		}
		var b strings.Builder
		last := 0
		for _, loc := range locs {
			whole := s[loc[0]:loc[1]]
			fname := s[loc[2*p.group]:loc[2*p.group+1]]
			repl, err := fn(fname)
			if err != nil {
				return "", err
			}
			b.WriteString(s[last:loc[0]])
			if repl == fname {
				b.WriteString(whole)
			} else {
				b.WriteString(strings.ReplaceAll(whole, fname, repl))
			}
			last = loc[1]
		}
		b.WriteString(s[last:])
		s = b.String()
	}
	return s, nil
}

// Filenames returns every local media filename referenced in s, in match order.
func Filenames(s string) []string {
	var out []string
	for _, p := range patterns {
		for _, m := range p.re.FindAllStringSubmatch(s, -1) {
			fname := m[p.group]
			if remoteRe.MatchString(fname) {
				continue
			}
			out = append(out, fname)
		}
	}
	return out
}

// StripHTML removes markup and decodes entities.
func StripHTML(s string) string {
	out := strict.Sanitize(s)
	out = html.UnescapeString(out)
	out = strings.ReplaceAll(out, "\u00a0", " ")
	return strings.TrimSpace(out)
}

// StripHTMLMedia is StripHTML that keeps the filenames of images.
func StripHTMLMedia(s string) string {
	return StripHTML(imgRe.ReplaceAllString(s, " $1 "))
}

// SplitFilename splits name into its base and extension (including the dot).
func SplitFilename(name string) (string, string) {
	i := strings.LastIndex(name, ".")
	if i < 0 {
		return name, ""
	}
	return name[:i], name[i:]
}
