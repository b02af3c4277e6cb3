package plugins

import (
	"github.com/sirupsen/logrus"

	"github.com/joshp123/deyehome/internal/config"
	"github.com/joshp123/deyehome/internal/core"
	"github.com/joshp123/deyehome/plugins/deye"
)

func init() {
	Register(func(cfg *config.Config, logger *logrus.Logger) (core.Plugin, bool) {
		return deye.NewPlugin(cfg.Deye, logger)
	})
}
