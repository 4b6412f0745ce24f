package textnorm

import (
	"strings"
	"sync"
	"testing"
	"unicode/utf8"
)

func TestSubstitute(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		text string
		dict []Entry
		want string
	}{
		{
			name: "longest match wins",
			text: "ABC",
			dict: []Entry{{"AB", "x"}, {"ABC", "y"}},
			want: "y",
		},
		{
			name: "longest match wins regardless of registration order",
			text: "ABC",
			dict: []Entry{{"ABC", "y"}, {"AB", "x"}},
			want: "y",
		},
		{
			name: "shorter key used when longer does not match",
			text: "ABD",
			dict: []Entry{{"AB", "x"}, {"ABC", "y"}},
			want: "xD",
		},
		{
			name: "first registered duplicate wins",
			text: "AB",
			dict: []Entry{{"AB", "first"}, {"AB", "second"}},
			want: "first",
		},
		{
			name: "katakana reading",
			text: "ROIが上がった",
			dict: []Entry{{"ROI", "アールオーアイ"}},
			want: "アールオーアイが上がった",
		},
		{
			name: "multiple non-overlapping matches",
			text: "wwwとw",
			dict: []Entry{{"w", "わら"}, {"www", "大草原"}},
			want: "大草原とわら",
		},
		{
			name: "matched span is consumed",
			text: "ABAB",
			dict: []Entry{{"BA", "z"}, {"AB", "x"}},
			want: "xx",
		},
		{
			name: "empty dictionary",
			text: "そのまま",
			want: "そのまま",
		},
		{
			name: "empty key ignored",
			text: "abc",
			dict: []Entry{{"", "never"}},
			want: "abc",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := Substitute(tc.text, tc.dict); got != tc.want {
				t.Errorf("Substitute(%q) = %q, want %q", tc.text, got, tc.want)
			}
		})
	}
}

func TestStrip(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"user mention", "<@123456> おはよう", "おはよう"},
		{"nick mention", "<@!123456>おはよう", "おはよう"},
		{"role and channel", "<@&42> と <#99> を見て", "と を見て"},
		{"custom emoji", "いいね<:thumb:1234567890>", "いいね"},
		{"animated emoji", "<a:dance:1234567890>やった", "やった"},
		{"url", "これ見て https://example.com/a?b=c おもしろい", "これ見て おもしろい"},
		{"code fence", "```go\nfmt.Println()\n```", "go fmt.Println()"},
		{"inline code", "`x` を使う", "x を使う"},
		{"control characters", "a\x00b\tc\r\nd", "ab c d"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := Strip(tc.in); got != tc.want {
				t.Errorf("Strip(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}

func TestTruncate(t *testing.T) {
	t.Parallel()

	long := strings.Repeat("あ", 200)
	got := Truncate(long, 140, DefaultTruncateMarker)
	if n := utf8.RuneCountInString(got); n != 140 {
		t.Errorf("rune count = %d, want 140", n)
	}
	if !strings.HasSuffix(got, DefaultTruncateMarker) {
		t.Errorf("missing marker: %q", got[len(got)-20:])
	}

	if got := Truncate("short", 140, DefaultTruncateMarker); got != "short" {
		t.Errorf("short text changed: %q", got)
	}
	if got := Truncate("abcdef", 2, "、以下略"); got != "ab" {
		t.Errorf("marker longer than limit: got %q, want %q", got, "ab")
	}
	if got := Truncate(long, 0, "x"); got != long {
		t.Error("zero max length should disable truncation")
	}
}

func TestNormalize(t *testing.T) {
	t.Parallel()

	n := New(DefaultOptions())
	dict := []Entry{{"ROI", "アールオーアイ"}}

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"scenario", "ROIが上がった", "アールオーアイが上がった"},
		{"full-width key folded", "ＲＯＩが上がった", "アールオーアイが上がった"},
		{"mention stripped before lookup", "<@1>ROI", "アールオーアイ"},
		{"empty", "", ""},
		{"invalid utf-8 passes through", "\xff\xfe", "\xff\xfe"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := n.Normalize(tc.in, dict); got != tc.want {
				t.Errorf("Normalize(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}

func TestNormalize_NeverExceedsMaxLength(t *testing.T) {
	t.Parallel()

	n := New(Options{MaxLength: 10, TruncateMarker: "…"})
	// Readings expand the text well past the limit.
	dict := []Entry{{"a", "あいうえお"}}
	got := n.Normalize(strings.Repeat("a", 20), dict)
	if c := utf8.RuneCountInString(got); c > 10 {
		t.Errorf("len = %d runes, want <= 10 (%q)", c, got)
	}

	// Invalid UTF-8 skips substitution but is still cut to the limit.
	invalid := strings.Repeat("\xffa", 20)
	got = n.Normalize(invalid, dict)
	if c := utf8.RuneCountInString(got); c > 10 {
		t.Errorf("invalid input: len = %d runes, want <= 10 (%q)", c, got)
	}
	if want := strings.Repeat("\xffa", 4) + "\xff…"; got != want {
		t.Errorf("invalid input = %q, want %q", got, want)
	}
}

func TestNormalizer_SetOptionsConcurrent(t *testing.T) {
	t.Parallel()

	n := New(DefaultOptions())
	var wg sync.WaitGroup
	for i := range 20 {
		wg.Go(func() {
			if i%2 == 0 {
				n.SetOptions(Options{MaxLength: 5 + i, TruncateMarker: "…"})
				return
			}
			_ = n.Normalize(strings.Repeat("テスト", 30), nil)
		})
	}
	wg.Wait()
}
