package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
)

const usage = `usage: vbuddy [-config PATH] [-v] <command> [args]

commands:
  watch               keep the library in sync and log every change (default)
  list                print the bundles in the library
  duplicate NAME      copy a bundle to "Copy of NAME"
  rename NAME NEW     rename a bundle
  trash NAME          move a bundle to the trash
  set-root PATH       change and remember the library root
  history [-n N]      show recent bundle operations
  version             print version information
`

var errUsage = errors.New("invalid usage")

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := run(ctx, os.Args[1:], os.Stdout)
	stop()
	if err != nil {
		if errors.Is(err, errUsage) {
			fmt.Fprint(os.Stderr, usage)
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("vbuddy", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	configPath := fs.String("config", "", "config file (default $VB_CONFIG_PATH or the user config dir)")
	verbose := fs.Bool("v", false, "debug logging")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %v", errUsage, err)
	}

	cmd, rest := "watch", fs.Args()
	if len(rest) > 0 {
		cmd, rest = rest[0], rest[1:]
	}
	if cmd == "version" {
		return versionCmd(stdout)
	}
	if cmd == "help" || cmd == "-h" {
		_, err := fmt.Fprint(stdout, usage)
		return err
	}

	a, err := setup(ctx, *configPath, *verbose)
	if err != nil {
		return err
	}
	defer a.close()

	switch cmd {
	case "watch":
		return a.watch(ctx)
	case "list":
		return a.list(ctx, stdout)
	case "duplicate":
		if len(rest) != 1 {
			return fmt.Errorf("%w: duplicate takes NAME", errUsage)
		}
		return a.duplicate(ctx, stdout, rest[0])
	case "rename":
		if len(rest) != 2 {
			return fmt.Errorf("%w: rename takes NAME NEW", errUsage)
		}
		return a.rename(ctx, stdout, rest[0], rest[1])
	case "trash":
		if len(rest) != 1 {
			return fmt.Errorf("%w: trash takes NAME", errUsage)
		}
		return a.trash(ctx, stdout, rest[0])
	case "set-root":
		if len(rest) != 1 {
			return fmt.Errorf("%w: set-root takes PATH", errUsage)
		}
		return a.setRoot(ctx, stdout, rest[0])
	case "history":
		return a.history(ctx, stdout, rest)
	default:
		return fmt.Errorf("%w: unknown command %q", errUsage, cmd)
	}
}
