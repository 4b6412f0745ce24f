package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"slices"
)

// ImportDictJSON seeds store from a flat JSON object mapping words to
// readings (the read_dict.json layout). Keys are registered in sorted order
// because JSON objects carry no order of their own. It returns the number of
// entries written.
func ImportDictJSON(ctx context.Context, store Store, r io.Reader) (int, error) {
	var raw map[string]string
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return 0, fmt.Errorf("storage: decode dictionary: %w", err)
	}
	words := make([]string, 0, len(raw))
	for w := range raw {
		if w == "" {
			continue
		}
		words = append(words, w)
	}
	slices.Sort(words)

	for i, w := range words {
		if err := store.AddDictEntry(ctx, DictEntry{Word: w, Read: raw[w]}); err != nil {
			return i, err
		}
	}
	return len(words), nil
}
