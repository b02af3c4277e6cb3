package core

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// DashboardPath is the HTTP path a plugin dashboard is served at.
func DashboardPath(pluginID, name string) string {
	return "/dashboards/" + pluginID + "/" + name + ".json"
}

func eachDashboard(plugins []Plugin, fn func(pluginID string, dash Dashboard) error) error {
	for _, plugin := range plugins {
		id := plugin.Manifest().PluginID
		for _, dash := range plugin.Dashboards() {
			if err := fn(id, dash); err != nil {
				return err
			}
		}
	}
	return nil
}

// DashboardsMap keys every dashboard by its DashboardPath.
func DashboardsMap(plugins []Plugin) map[string][]byte {
	result := make(map[string][]byte)
	_ = eachDashboard(plugins, func(pluginID string, dash Dashboard) error {
		result[DashboardPath(pluginID, dash.Name)] = dash.JSON
		return nil
	})
	return result
}

// WriteDashboards provisions dashboards as <dir>/<plugin>/<name>.json for
// Grafana. Files whose content already matches are left alone so Grafana
// does not see a change on every restart. An empty dir is a no-op.
func WriteDashboards(dir string, plugins []Plugin) error {
	if dir == "" {
		return nil
	}
	return eachDashboard(plugins, func(pluginID string, dash Dashboard) error {
		if !json.Valid(dash.JSON) {
			return fmt.Errorf("dashboard %s/%s is not valid json", pluginID, dash.Name)
		}
		target := filepath.Join(dir, pluginID, dash.Name+".json")
		if current, err := os.ReadFile(target); err == nil && bytes.Equal(current, dash.JSON) {
			return nil
		}
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return fmt.Errorf("create dashboard dir: %w", err)
		}
		tmp := target + ".tmp"
		if err := os.WriteFile(tmp, dash.JSON, 0o644); err != nil {
			return fmt.Errorf("write dashboard %s: %w", target, err)
		}
		return os.Rename(tmp, target)
	})
}
