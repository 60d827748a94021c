package main

import (
	"github.com/scott-cotton/cli"
)

func MainCommand() *cli.Command {
	cfg := &MainConfig{}
	opts, err := cli.StructOpts(cfg)
	if err != nil {
		panic(err)
	}
	return cli.NewCommandAt(&cfg.Main, "mikrolink").
		WithSynopsis("mikrolink [opts] command [opts]").
		WithDescription("mikrolink talks to a router over its API port.").
		WithOpts(opts...).
		WithRun(func(cc *cli.Context, args []string) error {
			return mikrolinkMain(cfg, cc, args)
		}).
		WithSubs(
			ExecCommand(cfg),
			PrintCommand(cfg),
			BackupCommand(cfg),
			LoginCheckCommand(cfg),
			MonitorCommand(cfg))
}

func ExecCommand(mainCfg *MainConfig) *cli.Command {
	cfg := &ExecConfig{MainConfig: mainCfg}
	return cli.NewCommandAt(&cfg.Exec, "exec").
		WithAliases("x").
		WithSynopsis("exec <command> [key=value | ?key=value | ~key=regex]...").
		WithDescription(execDescription).
		WithRun(func(cc *cli.Context, args []string) error {
			return execCmd(cfg, cc, args)
		})
}

const execDescription = `exec runs one API command and prints the reply.

Arguments after the command become parameters:
  key=value     assignment, sent as =key=value
  ?key=value    query filter
  ~key=regex    regex filter

Example:
  mikrolink -host 192.168.88.1 exec /ip/address/add address=10.0.0.1/24 interface=ether1`

func PrintCommand(mainCfg *MainConfig) *cli.Command {
	cfg := &PrintConfig{MainConfig: mainCfg}
	opts, err := cli.StructOpts(cfg)
	if err != nil {
		panic(err)
	}
	return cli.NewCommandAt(&cfg.Print, "print").
		WithAliases("p").
		WithSynopsis("print [-where expr] <menu>").
		WithDescription(printDescription).
		WithOpts(opts...).
		WithRun(func(cc *cli.Context, args []string) error {
			return printCmd(cfg, cc, args)
		})
}

const printDescription = `print lists a menu and optionally filters the rows locally.

The -where expression sees every attribute of a row as a variable, with '-'
and '.' in names replaced by '_' (".id" becomes "id", "mac-address" becomes
"mac_address"), plus the whole row as "row".

Example:
  mikrolink print -where 'name startsWith "ether" && running == "true"' /interface`

func BackupCommand(mainCfg *MainConfig) *cli.Command {
	cfg := &BackupConfig{MainConfig: mainCfg}
	opts, err := cli.StructOpts(cfg)
	if err != nil {
		panic(err)
	}
	return cli.NewCommandAt(&cfg.Backup, "backup").
		WithSynopsis("backup [-name n] [-encrypt]").
		WithDescription("backup saves a system backup on the router.").
		WithOpts(opts...).
		WithRun(func(cc *cli.Context, args []string) error {
			return backupCmd(cfg, cc, args)
		})
}

func LoginCheckCommand(mainCfg *MainConfig) *cli.Command {
	cfg := &LoginCheckConfig{MainConfig: mainCfg}
	return cli.NewCommandAt(&cfg.LoginCheck, "login-check").
		WithAliases("check").
		WithSynopsis("login-check").
		WithDescription("login-check connects, reports the login method and disconnects.").
		WithRun(func(cc *cli.Context, args []string) error {
			return loginCheckCmd(cfg, cc, args)
		})
}

func MonitorCommand(mainCfg *MainConfig) *cli.Command {
	cfg := &MonitorConfig{MainConfig: mainCfg}
	opts, err := cli.StructOpts(cfg)
	if err != nil {
		panic(err)
	}
	return cli.NewCommandAt(&cfg.Monitor, "monitor").
		WithAliases("mon").
		WithSynopsis("monitor [-listen addr] [-every 15s] [-cors origins] <menu>...").
		WithDescription(monitorDescription).
		WithOpts(opts...).
		WithRun(func(cc *cli.Context, args []string) error {
			return monitorCmd(cfg, cc, args)
		})
}

const monitorDescription = `monitor polls print commands and serves the results over HTTP.

Routes:
  /metrics    numeric attributes as mikrolink_router_value{command,row,attr}
  /snapshot   the last rows of every command as JSON
  /health     liveness
  /ready      503 until a poll succeeds

A dropped session is reopened on the next poll.

Example:
  mikrolink -host 192.168.88.1 monitor -every 30s /interface /system/resource`
