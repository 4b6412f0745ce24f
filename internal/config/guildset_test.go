package config

import (
	"os"
	"path/filepath"
	"slices"
	"testing"
)

func TestGuildSet(t *testing.T) {
	path := filepath.Join(t.TempDir(), "guilds.yaml")

	gs, err := LoadGuildSet(path)
	if err != nil {
		t.Fatalf("LoadGuildSet(missing): %v", err)
	}
	if len(gs.IDs()) != 0 {
		t.Fatalf("IDs = %v, want empty", gs.IDs())
	}

	for _, id := range []string{"300", "100", "200"} {
		added, err := gs.Add(id)
		if err != nil || !added {
			t.Fatalf("Add(%s) = (%v, %v)", id, added, err)
		}
	}
	if added, _ := gs.Add("100"); added {
		t.Error("duplicate Add reported as new")
	}
	if _, err := gs.Add(""); err == nil {
		t.Error("Add(\"\") succeeded")
	}
	if !gs.Contains("200") || gs.Contains("400") {
		t.Error("Contains mismatch")
	}

	reloaded, err := LoadGuildSet(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if want := []string{"100", "200", "300"}; !slices.Equal(reloaded.IDs(), want) {
		t.Errorf("reloaded IDs = %v, want %v", reloaded.IDs(), want)
	}
}

func TestGuildSet_Corrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "guilds.yaml")
	if err := os.WriteFile(path, []byte("guilds: {not: a list"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadGuildSet(path); err == nil {
		t.Fatal("expected parse error")
	}
}
