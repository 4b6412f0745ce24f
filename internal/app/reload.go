package app

import (
	"log/slog"

	"github.com/MrWong99/yomiage/internal/config"
	"github.com/MrWong99/yomiage/internal/textnorm"
)

// onConfigChange is the watcher callback.
func (a *App) onConfigChange(old, new *config.Config) {
	a.applyDiff(config.Diff(old, new))
}

// applyDiff applies the hot-reloadable part of d and logs the rest.
func (a *App) applyDiff(d config.ConfigDiff) {
	if d.Empty() {
		return
	}
	if d.LogLevelChanged && a.logLevel != nil {
		a.logLevel.Set(d.NewLogLevel.SlogLevel())
		slog.Info("config reload: log level changed", "level", d.NewLogLevel)
	}
	if d.NormalizerChanged {
		a.normalizer.SetOptions(textnorm.Options{
			MaxLength:      d.MaxLength,
			TruncateMarker: d.TruncateMarker,
		})
		slog.Info("config reload: normaliser updated", "max_length", d.MaxLength, "truncate_marker", d.TruncateMarker)
	}
	if d.AttachmentMarkerChanged {
		a.gateway.SetAttachmentMarker(d.AttachmentMarker)
		slog.Info("config reload: attachment marker changed", "marker", d.AttachmentMarker)
	}
	if len(d.RestartRequired) > 0 {
		slog.Warn("config reload: some changes need a restart", "settings", d.RestartRequired)
	}
}
