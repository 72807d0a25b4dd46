// Command xproof proves cross-chain lending positions.
//
// Usage:
//
//	xproof [--config file] <command> [flags]
//
// Commands:
//
//	prove           Collect witnesses for a request and prove them
//	exec            Like prove, without a seal
//	journal decode  Print an encoded journal as JSON
//	image-id        Print the guest program image id
//	version         Print version and exit
//
// Every setting can also come from the environment, e.g.
// XPROOF_PROVER_BACKEND=remote or XPROOF_CHAINS_OPTIMISM_RPC=http://...
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/eth2030/xproof/config"
	"github.com/eth2030/xproof/log"
)

// Build-time version info, overridable with ldflags:
//
//	go build -ldflags "-X main.version=v0.2.0 -X main.commit=abc1234"
var (
	version = "v0.1.0-dev"
	commit  = "unknown"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// run is the actual entry point, returning an exit code. Accepts CLI
// arguments (without the program name) so it can be tested in isolation.
func run(args []string, stdout, stderr io.Writer) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := newRootCmd(stdout, stderr)
	root.SetArgs(args)
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(stderr, "xproof:", err)
		return 1
	}
	return 0
}

// app is the state shared by subcommands once the configuration is
// loaded.
type app struct {
	v       *viper.Viper
	cfgFile string
	cfg     *config.Config
	log     *log.Logger
	stdout  io.Writer
	stderr  io.Writer
}

// skipConfig marks commands that run without loading the configuration.
const skipConfig = "skip-config"

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	a := &app{v: viper.New(), stdout: stdout, stderr: stderr}
	root := &cobra.Command{
		Use:           "xproof",
		Short:         "Prove lending positions across Ethereum and its rollups",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Annotations[skipConfig] != "" {
				return nil
			}
			return a.load()
		},
	}
	root.SetOut(stdout)
	root.SetErr(stderr)

	flags := root.PersistentFlags()
	flags.StringVar(&a.cfgFile, "config", "", "Path to configuration file (toml, yaml or json)")
	flags.String("network", "", "Network whose chains may be configured: mainnet, sepolia")
	flags.String("submitter", "", "Who submits the proof: self, sequencer")
	flags.String("backend", "", "Proving backend: local, remote")
	flags.String("metrics-addr", "", "Serve Prometheus metrics on this address")
	flags.String("log-level", "", "Log level: debug, info, warn, error")
	flags.String("log-format", "", "Log format: json, text")
	for key, flag := range map[string]string{
		"network":        "network",
		"submitter":      "submitter",
		"prover.backend": "backend",
		"metrics_addr":   "metrics-addr",
		"log_level":      "log-level",
		"log_format":     "log-format",
	} {
		if err := a.v.BindPFlag(key, flags.Lookup(flag)); err != nil {
			panic(err)
		}
	}

	root.AddCommand(
		newProveCmd(a, true),
		newProveCmd(a, false),
		newJournalCmd(a),
		newImageIDCmd(a),
		newVersionCmd(a),
	)
	return root
}

func (a *app) load() error {
	cfg, err := config.Load(a.v, a.cfgFile)
	if err != nil {
		return err
	}
	level, _ := log.ParseLevel(cfg.LogLevel)
	a.cfg = cfg
	a.log = log.NewWithWriter(a.stderr, level, cfg.LogFormat)
	log.SetDefault(a.log)
	return nil
}
