package textnorm

import (
	"strings"

	"golang.org/x/text/width"
)

// trie is a rune trie over dictionary keys. Each terminal node stores the
// reading of the first entry registered for that key.
type trie struct {
	children map[rune]*trie
	read     string
	terminal bool
}

func (t *trie) insert(word, read string) {
	node := t
	for _, r := range word {
		if node.children == nil {
			node.children = make(map[rune]*trie)
		}
		next, ok := node.children[r]
		if !ok {
			next = &trie{}
			node.children[r] = next
		}
		node = next
	}
	if node.terminal {
		return // first registration wins
	}
	node.terminal = true
	node.read = read
}

// longest returns the reading and rune length of the longest key that is a
// prefix of s.
func (t *trie) longest(s []rune) (read string, n int) {
	node := t
	for i, r := range s {
		next, ok := node.children[r]
		if !ok {
			break
		}
		node = next
		if node.terminal {
			read, n = node.read, i+1
		}
	}
	return read, n
}

// Substitute scans text left to right and replaces, at each position, the
// longest matching dictionary key with its reading. Keys are width-folded the
// same way as the text. Among duplicate keys the earliest entry wins.
func Substitute(text string, dict []Entry) string {
	if len(dict) == 0 || text == "" {
		return text
	}
	root := &trie{}
	for _, e := range dict {
		key := width.Fold.String(e.Word)
		if key == "" {
			continue
		}
		root.insert(key, e.Read)
	}

	src := []rune(text)
	var b strings.Builder
	b.Grow(len(text))
	for i := 0; i < len(src); {
		if read, n := root.longest(src[i:]); n > 0 {
			b.WriteString(read)
			i += n
			continue
		}
		b.WriteRune(src[i])
		i++
	}
	return b.String()
}
