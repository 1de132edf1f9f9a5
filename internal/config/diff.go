package config

import "slices"

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// SessionChanged is true when the voice, persona or search setting
	// changed. The new values apply to the next Connect.
	SessionChanged bool

	// RestartRequired lists changed settings that only take effect after a
	// restart.
	RestartRequired []string
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if old.Gemini.Voice != new.Gemini.Voice ||
		old.Gemini.SearchEnabled() != new.Gemini.SearchEnabled() ||
		old.Assistant.Persona != new.Assistant.Persona {
		d.SessionChanged = true
	}

	restart := []struct {
		name    string
		changed bool
	}{
		{"server.listen_addr", old.Server.ListenAddr != new.Server.ListenAddr},
		{"server.allowed_origins", !slices.Equal(old.Server.AllowedOrigins, new.Server.AllowedOrigins)},
		{"gemini.model", old.Gemini.Model != new.Gemini.Model},
		{"gemini.base_url", old.Gemini.BaseURL != new.Gemini.BaseURL},
		{"audio.input_device", old.Audio.InputDevice != new.Audio.InputDevice},
		{"audio.output_device", old.Audio.OutputDevice != new.Audio.OutputDevice},
		{"assistant.capture_frame_size", old.Assistant.CaptureFrameSize != new.Assistant.CaptureFrameSize},
		{"assistant.meter_fps", old.Assistant.MeterFPS != new.Assistant.MeterFPS},
		{"telegram", old.Telegram != new.Telegram},
	}
	for _, r := range restart {
		if r.changed {
			d.RestartRequired = append(d.RestartRequired, r.name)
		}
	}

	return d
}
