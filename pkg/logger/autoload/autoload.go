// Package autoload initializes the global logger from the environment on
// import. Blank-import it from main.
package autoload

import (
	configx "github.com/napatsw/deskmate/pkg/config"
	logx "github.com/napatsw/deskmate/pkg/logger"
)

func init() {
	conf, err := configx.New[logx.Config]("LOG")
	if err != nil {
		conf = logx.DefaultConfig
	}
	logx.Init(*conf)
}
