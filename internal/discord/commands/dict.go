package commands

import (
	"context"
	"fmt"

	"github.com/MrWong99/yomiage/internal/storage"
)

// Add registers a pronunciation. Re-adding a word replaces its reading.
func (c *Commands) Add(ctx context.Context, inv Invocation) (Result, error) {
	if !inv.CanEditDictionary {
		return Result{}, ErrForbidden
	}
	word, err := inv.option("word")
	if err != nil {
		return Result{}, err
	}
	read, err := inv.option("read")
	if err != nil {
		return Result{}, err
	}
	if err := c.store.AddDictEntry(ctx, storage.DictEntry{Word: word, Read: read}); err != nil {
		return Result{}, fmt.Errorf("commands: add %q: %w", word, err)
	}
	return Result{
		Text: fmt.Sprintf("「%s」を「%s」と読むように登録しました", word, read),
		Read: true,
	}, nil
}

// Rem removes a pronunciation.
func (c *Commands) Rem(ctx context.Context, inv Invocation) (Result, error) {
	if !inv.CanEditDictionary {
		return Result{}, ErrForbidden
	}
	word, err := inv.option("word")
	if err != nil {
		return Result{}, err
	}
	removed, err := c.store.RemoveDictEntry(ctx, word)
	if err != nil {
		return Result{}, fmt.Errorf("commands: rem %q: %w", word, err)
	}
	if !removed {
		return Result{Text: fmt.Sprintf("「%s」は登録されていません", word)}, nil
	}
	return Result{Text: fmt.Sprintf("「%s」を辞書から削除しました", word), Read: true}, nil
}
