// Package textnorm turns raw chat text into something a speech engine can
// read aloud.
//
// Normalisation strips platform decorations (mentions, custom emoji, URLs,
// code fences), folds full-width/half-width variants, applies the
// pronunciation dictionary with longest-match substitution, and finally caps
// the result at a maximum length. It never fails: input it cannot make sense
// of is passed through unchanged.
package textnorm

import (
	"regexp"
	"strings"
	"sync"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/width"
)

// Defaults for [Options].
const (
	DefaultMaxLength      = 140
	DefaultTruncateMarker = "、以下略"
)

// Entry is one dictionary substitution.
type Entry struct {
	Word string
	Read string
}

// Options tune the normaliser.
type Options struct {
	// MaxLength caps the output in runes, marker included. Zero or negative
	// disables the cap.
	MaxLength int

	// TruncateMarker is appended when text is cut.
	TruncateMarker string
}

// DefaultOptions returns the default options.
func DefaultOptions() Options {
	return Options{MaxLength: DefaultMaxLength, TruncateMarker: DefaultTruncateMarker}
}

var (
	reUserMention    = regexp.MustCompile(`<@!?\d+>`)
	reRoleMention    = regexp.MustCompile(`<@&\d+>`)
	reChannelMention = regexp.MustCompile(`<#\d+>`)
	reCustomEmoji    = regexp.MustCompile(`<a?:\w+:\d+>`)
	reURL            = regexp.MustCompile(`https?://[^\s<>]+`)
	reSpaces         = regexp.MustCompile(`\s{2,}`)
)

// Normalizer applies the normalisation pipeline. The zero value is not
// usable; construct with [New]. Safe for concurrent use; [Normalizer.SetOptions]
// may be called while other goroutines normalise.
type Normalizer struct {
	mu   sync.RWMutex
	opts Options
}

// New returns a Normalizer with opts.
func New(opts Options) *Normalizer {
	return &Normalizer{opts: opts}
}

// Options returns the current options.
func (n *Normalizer) Options() Options {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.opts
}

// SetOptions replaces the options used by subsequent calls.
func (n *Normalizer) SetOptions(opts Options) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.opts = opts
}

// Normalize returns text cleaned for speech with dict applied. Invalid UTF-8
// skips cleanup and substitution but is still truncated.
func (n *Normalizer) Normalize(text string, dict []Entry) string {
	if text == "" {
		return text
	}
	opts := n.Options()
	if !utf8.ValidString(text) {
		return Truncate(text, opts.MaxLength, opts.TruncateMarker)
	}

	out := Strip(text)
	out = width.Fold.String(out)
	out = Substitute(out, dict)
	return Truncate(out, opts.MaxLength, opts.TruncateMarker)
}

// Strip removes mention tokens, custom emoji, URLs and code markers, and
// turns control characters into spaces.
func Strip(text string) string {
	text = reUserMention.ReplaceAllString(text, "")
	text = reRoleMention.ReplaceAllString(text, "")
	text = reChannelMention.ReplaceAllString(text, "")
	text = reCustomEmoji.ReplaceAllString(text, "")
	text = reURL.ReplaceAllString(text, "")
	text = strings.ReplaceAll(text, "```", "")
	text = strings.ReplaceAll(text, "`", "")

	text = strings.Map(func(r rune) rune {
		switch {
		case r == '\n' || r == '\r' || r == '\t':
			return ' '
		case unicode.IsControl(r):
			return -1
		}
		return r
	}, text)
	text = reSpaces.ReplaceAllString(text, " ")
	return strings.TrimSpace(text)
}

// Truncate cuts text so that it is at most maxLen runes long including
// marker. If the marker alone does not fit, the text is cut without it. Each
// invalid UTF-8 byte counts as one rune and is kept as is.
func Truncate(text string, maxLen int, marker string) string {
	if maxLen <= 0 || utf8.RuneCountInString(text) <= maxLen {
		return text
	}
	keep := maxLen - utf8.RuneCountInString(marker)
	if keep <= 0 {
		return prefix(text, maxLen)
	}
	return prefix(text, keep) + marker
}

// prefix returns the first n runes of text.
func prefix(text string, n int) string {
	i := 0
	for ; n > 0 && i < len(text); n-- {
		_, size := utf8.DecodeRuneInString(text[i:])
		i += size
	}
	return text[:i]
}
