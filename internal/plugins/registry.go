package plugins

import (
	"github.com/sirupsen/logrus"

	"github.com/joshp123/deyehome/internal/config"
	"github.com/joshp123/deyehome/internal/core"
)

// Factory builds a plugin instance from the loaded config. It reports false
// when the plugin has no config section.
type Factory func(*config.Config, *logrus.Logger) (core.Plugin, bool)

var compiled []Factory

// Register adds a compiled-in plugin factory to the registry.
func Register(factory Factory) {
	compiled = append(compiled, factory)
}

// Compiled returns the configured plugin instances for this build.
func Compiled(cfg *config.Config, logger *logrus.Logger) []core.Plugin {
	if cfg == nil {
		return nil
	}
	out := make([]core.Plugin, 0, len(compiled))
	for _, factory := range compiled {
		plugin, ok := factory(cfg, logger)
		if !ok {
			continue
		}
		out = append(out, plugin)
	}
	return out
}
