// Package version carries build metadata injected with -ldflags.
package version

import (
	"fmt"
	"strconv"
	"strings"
)

// Version values are set at build time using -ldflags.
var Version = "dev"
var Major = "0"
var Minor = "0"
var Patch = "0"
var Built = ""
var GitCommit = ""

type VersionInfo struct {
	Version   string `json:"version"`
	Major     int    `json:"major"`
	Minor     int    `json:"minor"`
	Patch     int    `json:"patch"`
	Built     string `json:"built,omitempty"`
	GitCommit string `json:"git_commit,omitempty"`
}

func GetVersionInfo() VersionInfo {
	return VersionInfo{
		Version:   Version,
		Major:     parseInt(Major),
		Minor:     parseInt(Minor),
		Patch:     parseInt(Patch),
		Built:     Built,
		GitCommit: GitCommit,
	}
}

// String renders "1.2.3 (abc123, built 2026-01-11T12:34:56Z)", leaving out
// whatever metadata is unset.
func (info VersionInfo) String() string {
	var extra []string
	if info.GitCommit != "" {
		extra = append(extra, info.GitCommit)
	}
	if info.Built != "" {
		extra = append(extra, "built "+info.Built)
	}
	if len(extra) == 0 {
		return info.Version
	}
	return fmt.Sprintf("%s (%s)", info.Version, strings.Join(extra, ", "))
}

// UserAgent is sent with every RPC request.
func UserAgent() string {
	return "storagewatch/" + Version
}

func parseInt(value string) int {
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return 0
	}
	return parsed
}
