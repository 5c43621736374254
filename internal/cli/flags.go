// Package cli holds flag helpers shared by storagewatch commands.
package cli

import (
	"flag"
	"fmt"
	"io"

	"github.com/iomekam/dapp-inter/internal/version"
)

const (
	defaultHelpDesc    = "Show help"
	defaultVersionDesc = "Print version and exit"
)

type HelpVersionFlags struct {
	Help    bool
	Version bool
}

func AddHelpVersionFlags(fs *flag.FlagSet, helpDesc, versionDesc string) *HelpVersionFlags {
	if fs == nil {
		return &HelpVersionFlags{}
	}
	if helpDesc == "" {
		helpDesc = defaultHelpDesc
	}
	if versionDesc == "" {
		versionDesc = defaultVersionDesc
	}
	flags := &HelpVersionFlags{}
	fs.BoolVar(&flags.Help, "help", false, helpDesc)
	fs.BoolVar(&flags.Help, "h", false, helpDesc)
	fs.BoolVar(&flags.Version, "version", false, versionDesc)
	fs.BoolVar(&flags.Version, "v", false, versionDesc)
	return flags
}

// Handle writes usage or the version line when one of the flags was given
// and reports whether the command should stop there.
func (flags *HelpVersionFlags) Handle(out io.Writer, program string, usage func(io.Writer)) bool {
	if flags == nil {
		return false
	}
	switch {
	case flags.Help:
		if usage != nil {
			usage(out)
		}
		return true
	case flags.Version:
		fmt.Fprintf(out, "%s %s\n", program, version.GetVersionInfo())
		return true
	}
	return false
}
