package config

import (
	"fmt"
	"log/slog"
	"reflect"
)

// ReloadResult describes what changed during a config reload.
type ReloadResult struct {
	Changed []string // changed fields
	Applied []string // successfully applied at runtime
	Skipped []string // require restart
}

// restartRequired lists top-level sections that cannot be hot-reloaded:
// identity, transport and storage locations are fixed for the process
// lifetime.
var restartRequired = map[string]bool{
	"Device":  true,
	"Link":    true,
	"Storage": true,
}

// Reload compares the running config against a freshly loaded one and
// applies what can change at runtime. The apply callback receives the
// updated config once per reload, after c has been mutated.
func (c *Config) Reload(path string, logger *slog.Logger, apply func(*Config)) (*ReloadResult, error) {
	next, err := Load(path)
	if err != nil {
		return nil, fmt.Errorf("reload config: %w", err)
	}

	result := &ReloadResult{}

	cv := reflect.ValueOf(c).Elem()
	nv := reflect.ValueOf(next).Elem()
	ct := cv.Type()

	dirty := false
	for i := 0; i < ct.NumField(); i++ {
		name := ct.Field(i).Name
		if reflect.DeepEqual(cv.Field(i).Interface(), nv.Field(i).Interface()) {
			continue
		}
		result.Changed = append(result.Changed, name)
		if restartRequired[name] {
			result.Skipped = append(result.Skipped, name)
			logger.Warn("config change requires restart", "section", name)
			continue
		}
		cv.Field(i).Set(nv.Field(i))
		result.Applied = append(result.Applied, name)
		dirty = true
	}

	if dirty && apply != nil {
		apply(c)
	}
	if len(result.Changed) > 0 {
		logger.Info("config reloaded",
			"changed", len(result.Changed),
			"applied", len(result.Applied),
			"skipped", len(result.Skipped))
	}
	return result, nil
}
