package core

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
)

var pluginIDPattern = regexp.MustCompile(`^[a-z][a-z0-9_]+$`)

// ValidatePlugins checks ids and manifests before anything is registered.
// Every problem is reported, not just the first.
func ValidatePlugins(plugins []Plugin) error {
	var errs []error
	owner := make(map[string]string)
	for _, plugin := range plugins {
		id := plugin.ID()
		switch {
		case !pluginIDPattern.MatchString(id):
			errs = append(errs, fmt.Errorf("plugin id %q does not match %s", id, pluginIDPattern))
			continue
		case plugin.Manifest().PluginID != id:
			errs = append(errs, fmt.Errorf("plugin %s: manifest declares %q", id, plugin.Manifest().PluginID))
		}
		if _, dup := owner[id]; dup {
			errs = append(errs, fmt.Errorf("duplicate plugin id: %s", id))
		}
		owner[id] = id
		for _, svc := range plugin.Manifest().Services {
			if prev, taken := owner["svc:"+svc]; taken {
				errs = append(errs, fmt.Errorf("service %s claimed by %s and %s", svc, prev, id))
			}
			owner["svc:"+svc] = id
		}
	}
	return errors.Join(errs...)
}

// FilterPlugins returns the compiled plugins switched on in config, in
// compiled order.
func FilterPlugins(compiled []Plugin, enabled map[string]bool, enableAll bool) []Plugin {
	if enableAll {
		return compiled
	}
	var out []Plugin
	for _, plugin := range compiled {
		if enabled[plugin.ID()] {
			out = append(out, plugin)
		}
	}
	return out
}

// ValidateEnabledPlugins fails when config enables an id this binary was
// built without.
func ValidateEnabledPlugins(compiled []Plugin, enabled map[string]bool, enableAll bool) error {
	if enableAll {
		return nil
	}
	known := make(map[string]struct{}, len(compiled))
	for _, plugin := range compiled {
		known[plugin.ID()] = struct{}{}
	}
	var missing []string
	for id, on := range enabled {
		if _, ok := known[id]; on && !ok {
			missing = append(missing, id)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	sort.Strings(missing)
	return fmt.Errorf("enabled plugins not compiled in: %s", strings.Join(missing, ", "))
}
