package main

import (
	"flag"
	"fmt"
	"io"
	"strings"

	"github.com/iomekam/dapp-inter/internal/cli"
	"github.com/iomekam/dapp-inter/internal/vstorage"
)

const (
	formatJSON = "json"
	formatYAML = "yaml"
)

// overrideKeys maps flags to the config file keys they override.
var overrideKeys = map[string]string{
	"rpc":                   "rpc-addr",
	"chain-id":              "chain-id",
	"namespace":             "namespace",
	"interval":              "interval",
	"timeout":               "request-timeout",
	"max-rounds-per-second": "max-rounds-per-second",
	"listen":                "listen",
	"log-level":             "log-level",
}

type flagValues struct {
	ConfigPath string
	Format     string
	Once       bool
	Watches    []vstorage.Path
	// Overrides holds only the flags given on the command line, keyed by
	// config file key.
	Overrides map[string]any
	Help      bool
	Version   bool
}

func parseFlags(args []string) (flagValues, error) {
	if args == nil {
		args = []string{}
	}
	fs := flag.NewFlagSet("storagewatch", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	configPath := fs.String("config", "", "TOML config file")
	fs.String("rpc", "", "Node JSON-RPC endpoint, e.g. https://main.rpc.agoric.net:443")
	fs.String("chain-id", "", "Chain id reported in logs and stats")
	fs.String("namespace", "", "Custom query namespace (default vstorage)")
	fs.Duration("interval", 0, "Delay between polling rounds")
	fs.Duration("timeout", 0, "Per-round request timeout")
	fs.Float64("max-rounds-per-second", 0, "Upper bound on polling rounds per second")
	fs.String("listen", "", "Serve /ws, /metrics and /healthz on this address")
	fs.String("log-level", "", "debug, info, warn or error")
	format := fs.String("format", formatJSON, "Output format: json or yaml")
	once := fs.Bool("once", false, "Poll a single round, print the results and exit")
	helpVersion := cli.AddHelpVersionFlags(fs, "Show help", "Print version and exit")

	if err := fs.Parse(args); err != nil {
		return flagValues{}, err
	}

	overrides := map[string]any{}
	fs.Visit(func(given *flag.Flag) {
		key, ok := overrideKeys[given.Name]
		if !ok {
			return
		}
		if getter, ok := given.Value.(flag.Getter); ok {
			overrides[key] = getter.Get()
		}
	})

	flags := flagValues{
		ConfigPath: *configPath,
		Format:     strings.ToLower(strings.TrimSpace(*format)),
		Once:       *once,
		Overrides:  overrides,
		Help:       helpVersion.Help,
		Version:    helpVersion.Version,
	}
	if flags.Help || flags.Version {
		return flags, nil
	}
	if flags.Format != formatJSON && flags.Format != formatYAML {
		return flagValues{}, fmt.Errorf("unknown format %q", *format)
	}

	for _, arg := range fs.Args() {
		path, err := vstorage.ParsePath(arg)
		if err != nil {
			return flagValues{}, fmt.Errorf("watch %q: %w", arg, err)
		}
		flags.Watches = append(flags.Watches, path)
	}
	return flags, nil
}

func printHelp(out io.Writer) {
	fmt.Fprintln(out, "Usage: storagewatch [options] [kind:path ...]")
	fmt.Fprintln(out, "")
	fmt.Fprintln(out, "Polls chain storage paths and prints every change.")
	fmt.Fprintln(out, "A path is data:published.x or children:published.y; a bare name is a data path.")
	fmt.Fprintln(out, "")
	fmt.Fprintln(out, "Options:")
	for _, option := range []struct{ name, desc string }{
		{"-config FILE", "TOML config file"},
		{"-rpc URL", "Node JSON-RPC endpoint"},
		{"-chain-id ID", "Chain id reported in logs and stats"},
		{"-namespace NAME", "Custom query namespace (default: vstorage)"},
		{"-interval DURATION", "Delay between polling rounds (default: 2s)"},
		{"-timeout DURATION", "Per-round request timeout (default: 30s)"},
		{"-max-rounds-per-second N", "Upper bound on polling rounds per second"},
		{"-listen ADDR", "Serve /ws, /metrics and /healthz"},
		{"-log-level LEVEL", "debug, info, warn or error (default: info)"},
		{"-format FORMAT", "json or yaml (default: json)"},
		{"-once", "Poll a single round and exit"},
		{"-h, -help", "Show help"},
		{"-v, -version", "Print version and exit"},
	} {
		fmt.Fprintf(out, "  %-28s %s\n", option.name, option.desc)
	}
}
