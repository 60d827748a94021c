package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/danmuck/mikrolink"
	"github.com/danmuck/mikrolink/internal/logging"
	"github.com/danmuck/mikrolink/internal/protocol"
	"github.com/danmuck/mikrolink/internal/protocol/reply"
	"github.com/scott-cotton/cli"
)

const (
	cmdBackupSave = "/system/backup/save"
	printSuffix   = "/print"
)

func mikrolinkMain(cfg *MainConfig, cc *cli.Context, args []string) error {
	args, err := cfg.Main.Parse(cc, args)
	if err != nil {
		return err
	}
	if len(args) == 0 {
		return cli.ErrNoCommandProvided
	}
	sub := cfg.Main.FindSub(cc, args[0])
	if sub == nil {
		return fmt.Errorf("%w: %q not found", cli.ErrNoSuchCommand, args[0])
	}
	err = sub.Run(cc, args[1:])
	if errors.Is(err, cli.ErrUsage) {
		sub.Usage(cc, err)
		os.Exit(sub.Exit(cc, err))
	}
	return err
}

// openSession resolves settings and connects. The caller owns the client.
func openSession(ctx context.Context, cfg *MainConfig) (*mikrolink.Client, settings, error) {
	s, err := resolveSettings(cfg, os.Getenv)
	if err != nil {
		return nil, settings{}, fmt.Errorf("%w: %w", cli.ErrUsage, err)
	}
	logging.ConfigureRuntime()
	client := mikrolink.New(s.Session, mikrolink.WithLogger(logging.Component("mikrolink")))
	if err := client.Connect(ctx, s.Host, s.User, s.Password, s.Port, s.TLS); err != nil {
		fmt.Fprintf(os.Stderr, "mikrolink: %v\n", err)
		return nil, settings{}, cli.ExitCodeErr(1)
	}
	return client, s, nil
}

func signalContext(cc *cli.Context) (context.Context, context.CancelFunc) {
	parent := context.Background()
	if cc != nil && cc.Go != nil {
		parent = cc.Go
	}
	return signal.NotifyContext(parent, os.Interrupt)
}

// runAndPrint executes one command and renders the reply. A trap in the
// reply is printed and turned into exit code 1.
func runAndPrint(cfg *MainConfig, cc *cli.Context, command string, params []protocol.Param, filter *rowFilter) error {
	ctx, cancel := signalContext(cc)
	defer cancel()

	client, s, err := openSession(ctx, cfg)
	if err != nil {
		return err
	}
	defer client.Disconnect()

	res, err := client.ExecParams(command, params...)
	if err != nil {
		fmt.Fprintf(os.Stderr, "mikrolink: %v\n", err)
		return cli.ExitCodeErr(1)
	}
	if res.Kind() == reply.KindRows {
		if res.Rows, err = filter.Apply(res.Rows); err != nil {
			return fmt.Errorf("%w: %w", cli.ErrUsage, err)
		}
	}
	if err := newPrinter(cc.Out, s.Output).Reply(res); err != nil {
		return err
	}
	if res.Err() != nil {
		return cli.ExitCodeErr(1)
	}
	return nil
}

func execCmd(cfg *ExecConfig, cc *cli.Context, args []string) error {
	args, err := cfg.Exec.Parse(cc, args)
	if err != nil {
		cfg.Exec.Usage(cc, err)
		return cli.ExitCodeErr(1)
	}
	if len(args) == 0 {
		return fmt.Errorf("%w: exec requires a command", cli.ErrUsage)
	}
	params, err := parseParams(args[1:])
	if err != nil {
		return fmt.Errorf("%w: %w", cli.ErrUsage, err)
	}
	return runAndPrint(cfg.MainConfig, cc, args[0], params, nil)
}

func printCmd(cfg *PrintConfig, cc *cli.Context, args []string) error {
	args, err := cfg.Print.Parse(cc, args)
	if err != nil {
		cfg.Print.Usage(cc, err)
		return cli.ExitCodeErr(1)
	}
	if len(args) != 1 {
		return fmt.Errorf("%w: print requires one menu path", cli.ErrUsage)
	}
	filter, err := compileFilter(cfg.Where)
	if err != nil {
		return fmt.Errorf("%w: %w", cli.ErrUsage, err)
	}
	return runAndPrint(cfg.MainConfig, cc, printCommand(args[0]), nil, filter)
}

func backupCmd(cfg *BackupConfig, cc *cli.Context, args []string) error {
	args, err := cfg.Backup.Parse(cc, args)
	if err != nil {
		cfg.Backup.Usage(cc, err)
		return cli.ExitCodeErr(1)
	}
	if len(args) != 0 {
		return fmt.Errorf("%w: backup takes no arguments", cli.ErrUsage)
	}
	return runAndPrint(cfg.MainConfig, cc, cmdBackupSave, backupParams(cfg.Name, cfg.Encrypt), nil)
}

func loginCheckCmd(cfg *LoginCheckConfig, cc *cli.Context, args []string) error {
	if _, err := cfg.LoginCheck.Parse(cc, args); err != nil {
		cfg.LoginCheck.Usage(cc, err)
		return cli.ExitCodeErr(1)
	}
	ctx, cancel := signalContext(cc)
	defer cancel()

	client, s, err := openSession(ctx, cfg.MainConfig)
	if err != nil {
		return err
	}
	defer client.Disconnect()
	fmt.Fprintf(cc.Out, "%s@%s:%d login=%s\n", s.User, s.Host, s.Port, client.LoginMethod())
	return nil
}

// parseParams maps "key=value", "?key=value" and "~key=regex" arguments to
// command parameters, keeping their order.
func parseParams(args []string) ([]protocol.Param, error) {
	params := make([]protocol.Param, 0, len(args))
	for _, arg := range args {
		key, value, _ := strings.Cut(arg, "=")
		if strings.Trim(key, "?~=") == "" {
			return nil, fmt.Errorf("invalid parameter %q", arg)
		}
		params = append(params, protocol.Param{Key: key, Value: value})
	}
	return params, nil
}

func printCommand(menu string) string {
	menu = "/" + strings.Trim(strings.TrimSpace(menu), "/")
	if strings.HasSuffix(menu, printSuffix) {
		return menu
	}
	return menu + printSuffix
}

func backupParams(name string, encrypt bool) []protocol.Param {
	var params []protocol.Param
	if name = strings.TrimSpace(name); name != "" {
		params = append(params, protocol.Param{Key: "name", Value: name})
	}
	if !encrypt {
		params = append(params, protocol.Param{Key: "dont-encrypt", Value: "yes"})
	}
	return params
}
