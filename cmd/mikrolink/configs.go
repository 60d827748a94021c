package main

import (
	"github.com/scott-cotton/cli"
)

// MainConfig holds the root flags. Flags left unset fall back to the
// config file, then to built-in defaults.
type MainConfig struct {
	Config string `cli:"name=config aliases=c desc='TOML config file'"`
	Host   string `cli:"name=host desc='router address'"`
	Port   int    `cli:"name=port desc='API port (default 8728, 8729 with -tls)'"`
	User   string `cli:"name=user aliases=u desc='login user (default admin)'"`
	TLS    bool   `cli:"name=tls desc='connect with TLS'"`
	Output string `cli:"name=o aliases=output desc='output format: table, yaml, json'"`

	Main *cli.Command
}

// isSet reports whether the named root flag appeared on the command line.
func (cfg *MainConfig) isSet(name string) bool {
	if cfg.Main == nil {
		return false
	}
	for _, opt := range cfg.Main.Opts {
		if opt.Name == name {
			return opt.Value != nil
		}
	}
	return false
}

type ExecConfig struct {
	*MainConfig

	Exec *cli.Command
}

type PrintConfig struct {
	*MainConfig

	Where string `cli:"name=where aliases=w desc='expression rows must satisfy'"`

	Print *cli.Command
}

type BackupConfig struct {
	*MainConfig

	Name    string `cli:"name=name aliases=n desc='backup file name'"`
	Encrypt bool   `cli:"name=encrypt desc='keep the router default encryption'"`

	Backup *cli.Command
}

type LoginCheckConfig struct {
	*MainConfig

	LoginCheck *cli.Command
}

type MonitorConfig struct {
	*MainConfig

	Listen string `cli:"name=listen aliases=l desc='HTTP listen address' default=127.0.0.1:9436"`
	Every  string `cli:"name=every desc='poll interval' default=15s"`
	CORS   string `cli:"name=cors desc='comma separated allowed CORS origins'"`

	Monitor *cli.Command
}
