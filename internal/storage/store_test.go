package storage

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/MrWong99/yomiage/pkg/provider/tts"
)

// runStoreContract exercises behaviour every Store implementation must share.
func runStoreContract(t *testing.T, newStore func(t *testing.T) Store) {
	t.Helper()

	t.Run("user config defaults and update", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		cfg, err := s.UserConfigOrDefault(ctx, "u1")
		if err != nil {
			t.Fatalf("UserConfigOrDefault: %v", err)
		}
		want := StandardDefaults.UserConfig("u1")
		if cfg.Hello != want.Hello || cfg.Bye != want.Bye || cfg.ReadNickname != nil ||
			cfg.VoiceType != want.VoiceType || cfg.GeneratorType != want.GeneratorType {
			t.Fatalf("defaults = %+v, want %+v", cfg, want)
		}

		nick := "たろう"
		cfg.ReadNickname = &nick
		cfg.Hello = "やあ"
		cfg.GeneratorType = tts.GeneratorCOEIROINK
		cfg.VoiceType = 5
		if err := s.UpdateUserConfig(ctx, cfg); err != nil {
			t.Fatalf("UpdateUserConfig: %v", err)
		}

		got, err := s.UserConfigOrDefault(ctx, "u1")
		if err != nil {
			t.Fatalf("UserConfigOrDefault after update: %v", err)
		}
		if got.ReadNickname == nil || *got.ReadNickname != "たろう" {
			t.Errorf("ReadNickname = %v, want たろう", got.ReadNickname)
		}
		if got.Hello != "やあ" || got.GeneratorType != tts.GeneratorCOEIROINK || got.VoiceType != 5 {
			t.Errorf("updated config = %+v", got)
		}
	})

	t.Run("dict keeps registration order", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		for _, e := range []DictEntry{{"AB", "x"}, {"ABC", "y"}, {"ROI", "アールオーアイ"}} {
			if err := s.AddDictEntry(ctx, e); err != nil {
				t.Fatalf("AddDictEntry(%q): %v", e.Word, err)
			}
		}
		// Updating keeps AB in first position.
		if err := s.AddDictEntry(ctx, DictEntry{"AB", "z"}); err != nil {
			t.Fatal(err)
		}

		got, err := s.Dict(ctx)
		if err != nil {
			t.Fatalf("Dict: %v", err)
		}
		want := []DictEntry{{"AB", "z"}, {"ABC", "y"}, {"ROI", "アールオーアイ"}}
		if len(got) != len(want) {
			t.Fatalf("Dict = %v, want %v", got, want)
		}
		for i := range want {
			if got[i] != want[i] {
				t.Errorf("Dict[%d] = %v, want %v", i, got[i], want[i])
			}
		}

		removed, err := s.RemoveDictEntry(ctx, "ABC")
		if err != nil || !removed {
			t.Fatalf("RemoveDictEntry(ABC) = %v, %v", removed, err)
		}
		removed, err = s.RemoveDictEntry(ctx, "ABC")
		if err != nil || removed {
			t.Fatalf("second RemoveDictEntry(ABC) = %v, %v; want false, nil", removed, err)
		}
	})

	t.Run("speaker catalogue replace keeps ids", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		vv := []tts.Speaker{
			{SpeakerUUID: "m", StyleID: 2, Name: "四国めたん", StyleName: "ノーマル"},
			{SpeakerUUID: "z", StyleID: 3, Name: "ずんだもん", StyleName: "ノーマル"},
		}
		if err := s.ReplaceSpeakers(ctx, tts.GeneratorVOICEVOX, vv); err != nil {
			t.Fatalf("ReplaceSpeakers: %v", err)
		}
		co := []tts.Speaker{{SpeakerUUID: "t", StyleID: 0, Name: "つくよみちゃん", StyleName: "れいせい"}}
		if err := s.ReplaceSpeakers(ctx, tts.GeneratorCOEIROINK, co); err != nil {
			t.Fatalf("ReplaceSpeakers: %v", err)
		}

		all, err := s.Speakers(ctx)
		if err != nil {
			t.Fatalf("Speakers: %v", err)
		}
		if len(all) != 3 {
			t.Fatalf("len(Speakers) = %d, want 3", len(all))
		}
		if all[0].Generator != tts.GeneratorCOEIROINK {
			t.Errorf("Speakers not ordered by generator: %+v", all)
		}

		var zundaID int64
		for _, sp := range all {
			if sp.StyleID == 3 && sp.Generator == tts.GeneratorVOICEVOX {
				zundaID = sp.ID
			}
		}

		// Drop style 2, rename style 3.
		vv = []tts.Speaker{{SpeakerUUID: "z", StyleID: 3, Name: "ずんだもん", StyleName: "あまあま"}}
		if err := s.ReplaceSpeakers(ctx, tts.GeneratorVOICEVOX, vv); err != nil {
			t.Fatalf("ReplaceSpeakers: %v", err)
		}
		got, err := s.Speaker(ctx, zundaID)
		if err != nil {
			t.Fatalf("Speaker(%d): %v", zundaID, err)
		}
		if got.StyleName != "あまあま" || got.Generator != tts.GeneratorVOICEVOX {
			t.Errorf("Speaker = %+v", got)
		}
		all, _ = s.Speakers(ctx)
		if len(all) != 2 {
			t.Errorf("len(Speakers) after prune = %d, want 2", len(all))
		}

		if _, err := s.Speaker(ctx, 9999); !errors.Is(err, ErrNotFound) {
			t.Errorf("Speaker(9999) err = %v, want ErrNotFound", err)
		}
	})

	t.Run("dict import", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		n, err := ImportDictJSON(ctx, s, strings.NewReader(`{"w":"だぶりゅー","ROI":"アールオーアイ","":"skip"}`))
		if err != nil {
			t.Fatalf("ImportDictJSON: %v", err)
		}
		if n != 2 {
			t.Errorf("imported %d, want 2", n)
		}
		got, _ := s.Dict(ctx)
		if len(got) != 2 || got[0].Word != "ROI" || got[1].Word != "w" {
			t.Errorf("Dict = %v, want sorted [ROI w]", got)
		}

		if _, err := ImportDictJSON(ctx, s, strings.NewReader(`["not","an","object"]`)); err == nil {
			t.Error("ImportDictJSON(array): expected error")
		}
	})

	t.Run("ping and close", func(t *testing.T) {
		s := newStore(t)
		if err := s.Ping(context.Background()); err != nil {
			t.Errorf("Ping: %v", err)
		}
	})
}

func TestMemStore(t *testing.T) {
	runStoreContract(t, func(t *testing.T) Store {
		return NewMemStore(StandardDefaults)
	})
}

func TestMemStore_ReturnsCopies(t *testing.T) {
	s := NewMemStore(StandardDefaults)
	ctx := context.Background()
	nick := "a"
	_ = s.UpdateUserConfig(ctx, UserConfig{UserID: "u", ReadNickname: &nick})
	nick = "mutated"

	got, _ := s.UserConfigOrDefault(ctx, "u")
	if *got.ReadNickname != "a" {
		t.Errorf("stored nickname aliased caller memory: %q", *got.ReadNickname)
	}
}

func TestSQLiteStore(t *testing.T) {
	runStoreContract(t, func(t *testing.T) Store {
		t.Helper()
		path := filepath.Join(t.TempDir(), "yomiage.db")
		s, err := OpenSQLite(context.Background(), path, StandardDefaults)
		if err != nil {
			t.Fatalf("OpenSQLite: %v", err)
		}
		t.Cleanup(func() { _ = s.Close() })
		return s
	})
}
