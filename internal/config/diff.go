package config

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked; everything else
// needs a restart.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// NormalizerChanged is true when max_length or truncate_marker changed.
	NormalizerChanged bool
	MaxLength         int
	TruncateMarker    string

	AttachmentMarkerChanged bool
	AttachmentMarker        string

	// RestartRequired lists changed settings that are not applied live.
	RestartRequired []string
}

// Empty reports whether d carries no change at all.
func (d ConfigDiff) Empty() bool {
	return !d.LogLevelChanged && !d.NormalizerChanged && !d.AttachmentMarkerChanged && len(d.RestartRequired) == 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	on, nn := old.Narration, new.Narration
	if on.MaxLength != nn.MaxLength || on.TruncateMarker != nn.TruncateMarker {
		d.NormalizerChanged = true
		d.MaxLength = nn.MaxLength
		d.TruncateMarker = nn.TruncateMarker
	}
	if on.AttachmentMarker != nn.AttachmentMarker {
		d.AttachmentMarkerChanged = true
		d.AttachmentMarker = nn.AttachmentMarker
	}

	restart := func(changed bool, name string) {
		if changed {
			d.RestartRequired = append(d.RestartRequired, name)
		}
	}
	restart(old.Server.ListenAddr != new.Server.ListenAddr, "server.listen_addr")
	restart(old.Server.ReconcileInterval != new.Server.ReconcileInterval, "server.reconcile_interval")
	restart(old.Discord.Token != new.Discord.Token, "discord.token")
	restart(on.QueueSize != nn.QueueSize, "narration.queue_size")
	restart(on.DefaultGenerator != nn.DefaultGenerator || on.Style() != nn.Style(), "narration.default_voice")
	restart(on.Hello != nn.Hello || on.Bye != nn.Bye, "narration.greetings")
	restart(old.Generators != new.Generators, "generators")
	restart(old.Storage != new.Storage, "storage")
	restart(old.GuildsFile != new.GuildsFile, "guilds_file")

	return d
}
