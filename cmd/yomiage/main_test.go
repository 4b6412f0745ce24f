package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"

	"github.com/MrWong99/yomiage/internal/config"
	"github.com/MrWong99/yomiage/internal/storage"
	"github.com/MrWong99/yomiage/pkg/provider/tts"
	ttsmock "github.com/MrWong99/yomiage/pkg/provider/tts/mock"
)

// writeConfig creates a config file backed by a sqlite database in dir.
func writeConfig(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "config.yaml")
	body := "storage:\n  driver: sqlite\n  dsn: " + filepath.Join(dir, "yomiage.db") + "\n" +
		"guilds_file: " + filepath.Join(dir, "guilds.yaml") + "\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestRootCommand_Subcommands(t *testing.T) {
	cmd := newRootCommand()
	want := map[string]bool{"run": false, "migrate": false, "dict": false, "speakers": false}
	for _, c := range cmd.Commands() {
		if _, ok := want[c.Name()]; ok {
			want[c.Name()] = true
		}
	}
	for name, found := range want {
		if !found {
			t.Errorf("subcommand %q not registered", name)
		}
	}
}

func TestMigrateCommand(t *testing.T) {
	dir := t.TempDir()
	out, err := execute(t, "migrate", "--config", writeConfig(t, dir), "--env-file", filepath.Join(dir, "missing.env"))
	if err != nil {
		t.Fatalf("migrate: %v (%s)", err, out)
	}
	if !strings.Contains(out, "schema up to date (sqlite)") {
		t.Errorf("output = %q", out)
	}
	if _, err := os.Stat(filepath.Join(dir, "yomiage.db")); err != nil {
		t.Errorf("database not created: %v", err)
	}
}

func TestDictImportCommand(t *testing.T) {
	dir := t.TempDir()
	dict := filepath.Join(dir, "read_dict.json")
	if err := os.WriteFile(dict, []byte(`{"w": "わら", "草": "くさ"}`), 0o600); err != nil {
		t.Fatal(err)
	}

	out, err := execute(t, "dict", "import", dict, "--config", writeConfig(t, dir), "--env-file", filepath.Join(dir, "missing.env"))
	if err != nil {
		t.Fatalf("dict import: %v (%s)", err, out)
	}
	if !strings.Contains(out, "imported 2 entries") {
		t.Errorf("output = %q", out)
	}
}

func TestDictImportCommand_RequiresFile(t *testing.T) {
	dir := t.TempDir()
	if _, err := execute(t, "dict", "import", "--config", writeConfig(t, dir)); err == nil {
		t.Fatal("expected an argument error")
	}
}

func TestLoadConfig_MissingFile(t *testing.T) {
	flags := &rootFlags{configPath: filepath.Join(t.TempDir(), "nope.yaml")}
	_, _, err := flags.loadConfig()
	if err == nil || !strings.Contains(err.Error(), "not found") {
		t.Fatalf("loadConfig() error = %v, want not found", err)
	}
}

func TestSyncSpeakers(t *testing.T) {
	store := storage.NewMemStore(storage.StandardDefaults)
	backends := map[tts.Generator]tts.Provider{
		tts.GeneratorVOICEVOX: &ttsmock.Provider{
			Gen: tts.GeneratorVOICEVOX,
			Speakers: []tts.Speaker{
				{Generator: tts.GeneratorVOICEVOX, SpeakerUUID: "a", StyleID: 1, Name: "ずんだもん", StyleName: "ノーマル"},
				{Generator: tts.GeneratorVOICEVOX, SpeakerUUID: "a", StyleID: 3, Name: "ずんだもん", StyleName: "あまあま"},
			},
		},
	}
	var gens config.GeneratorsConfig
	gens.VOICEVOX.BaseURL = "http://voicevox.test"

	cmd := &cobra.Command{}
	var out bytes.Buffer
	cmd.SetOut(&out)
	if err := syncSpeakers(context.Background(), cmd, store, backends, gens); err != nil {
		t.Fatalf("syncSpeakers: %v", err)
	}
	if !strings.Contains(out.String(), "VOICEVOX: 2 styles") {
		t.Errorf("output = %q", out.String())
	}
}

func TestSyncSpeakers_NoBackends(t *testing.T) {
	store := storage.NewMemStore(storage.StandardDefaults)
	if err := syncSpeakers(context.Background(), &cobra.Command{}, store, nil, config.GeneratorsConfig{}); err == nil {
		t.Fatal("expected error without backends")
	}
}
