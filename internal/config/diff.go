package config

import (
	"reflect"
	"sort"
	"strings"

	"nagbot/pkg/logx"
)

// SummarizeConfigChange returns a compact list of changed sections plus safe
// structured attrs for logging. Values that could identify a user's browsing
// (backend URLs aside) are summarized, not dumped.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 6)
	attrs := make([]logx.Field, 0, 16)

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logx.level", newCfg.Logging.Level),
			logx.Bool("logx.console", newCfg.Logging.Console),
			logx.Bool("logx.file_enabled", newCfg.Logging.File.Enabled),
			logx.Bool("logx.events_enabled", newCfg.Logging.Events.Enabled),
		)
	}

	if !reflect.DeepEqual(oldCfg.HTTP, newCfg.HTTP) {
		changed = append(changed, "http")
		attrs = append(attrs,
			logx.String("http.addr", strings.TrimSpace(newCfg.HTTP.Addr)),
		)
	}

	if !reflect.DeepEqual(oldCfg.Engage, newCfg.Engage) {
		changed = append(changed, "engage")
		attrs = append(attrs,
			logx.String("engage.tick", newCfg.TickSpec()),
			logx.String("engage.popup_min", strings.TrimSpace(newCfg.Engage.PopupMin)),
			logx.String("engage.popup_max", strings.TrimSpace(newCfg.Engage.PopupMax)),
			logx.String("engage.content_check_min", strings.TrimSpace(newCfg.Engage.ContentCheckMin)),
			logx.String("engage.content_check_max", strings.TrimSpace(newCfg.Engage.ContentCheckMax)),
			logx.String("engage.liveness_timeout", strings.TrimSpace(newCfg.Engage.LivenessTimeout)),
		)
	}

	if !reflect.DeepEqual(oldCfg.Popup, newCfg.Popup) {
		changed = append(changed, "popup")
		attrs = append(attrs,
			logx.String("popup.cooldown", strings.TrimSpace(newCfg.Popup.Cooldown)),
			logx.String("popup.auto_dismiss", strings.TrimSpace(newCfg.Popup.AutoDismiss)),
			logx.Int("popup.margin", newCfg.Popup.Margin),
		)
	}

	if !reflect.DeepEqual(oldCfg.Backend, newCfg.Backend) {
		changed = append(changed, "backend")
		attrs = append(attrs,
			logx.String("backend.base_url", strings.TrimSpace(newCfg.Backend.BaseURL)),
			logx.String("backend.timeout", strings.TrimSpace(newCfg.Backend.Timeout)),
			logx.Int("backend.rate_per_sec", newCfg.Backend.RatePerSec),
		)
	}

	// Session: nil means in-memory.
	var oDriver, nDriver, oBusy, nBusy string
	var oPathSet, nPathSet bool
	if oldCfg.Session != nil {
		oDriver = strings.TrimSpace(oldCfg.Session.Driver)
		oBusy = strings.TrimSpace(oldCfg.Session.BusyTimeout)
		oPathSet = strings.TrimSpace(oldCfg.Session.Path) != ""
	}
	if newCfg.Session != nil {
		nDriver = strings.TrimSpace(newCfg.Session.Driver)
		nBusy = strings.TrimSpace(newCfg.Session.BusyTimeout)
		nPathSet = strings.TrimSpace(newCfg.Session.Path) != ""
	}
	if oDriver != nDriver || oBusy != nBusy || oPathSet != nPathSet {
		changed = append(changed, "session")
		attrs = append(attrs,
			logx.String("session.driver", nDriver),
			logx.Bool("session.path_set", nPathSet),
			logx.String("session.busy_timeout", nBusy),
		)
	}

	sort.Strings(changed)
	return changed, attrs
}
