package config

// ConfigDiff describes what changed between two configs and whether it can
// be applied without a restart.
type ConfigDiff struct {
	// SessionChanged is true when voice, instructions, send queue or the
	// connect timeout changed. These apply to the next practice session.
	SessionChanged bool

	LogLevelChanged bool
	NewLogLevel     LogLevel

	// RestartRequired lists config paths whose new values only take effect
	// after a restart.
	RestartRequired []string
}

// Diff compares old and new configs.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	ol, nl := old.Live, new.Live
	if ol.Voice != nl.Voice || ol.Instructions != nl.Instructions ||
		ol.SendQueue != nl.SendQueue || ol.ConnectTimeout != nl.ConnectTimeout {
		d.SessionChanged = true
	}

	if old.Server.ListenAddr != new.Server.ListenAddr {
		d.RestartRequired = append(d.RestartRequired, "server.listen_addr")
	}
	if (old.Server.TLS == nil) != (new.Server.TLS == nil) ||
		(old.Server.TLS != nil && *old.Server.TLS != *new.Server.TLS) {
		d.RestartRequired = append(d.RestartRequired, "server.tls")
	}
	if !sameEntry(ol.Provider, nl.Provider) {
		d.RestartRequired = append(d.RestartRequired, "live.provider")
	}
	if len(ol.Fallbacks) != len(nl.Fallbacks) {
		d.RestartRequired = append(d.RestartRequired, "live.fallbacks")
	} else {
		for i := range ol.Fallbacks {
			if !sameEntry(ol.Fallbacks[i], nl.Fallbacks[i]) {
				d.RestartRequired = append(d.RestartRequired, "live.fallbacks")
				break
			}
		}
	}
	if ol.Breaker != nl.Breaker {
		d.RestartRequired = append(d.RestartRequired, "live.breaker")
	}
	if old.Audio != new.Audio {
		d.RestartRequired = append(d.RestartRequired, "audio")
	}
	return d
}

// sameEntry compares the fields a backend is constructed from. Options are
// not compared.
func sameEntry(a, b ProviderEntry) bool {
	return a.Name == b.Name && a.APIKey == b.APIKey && a.BaseURL == b.BaseURL && a.Model == b.Model
}
