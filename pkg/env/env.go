package env

import (
	"fmt"
	"net/http"

	"github.com/carlmjohnson/versioninfo"
)

const unset = "unset"

// Version may be set at link time with -ldflags "-X github.com/gazobot/gazobot/pkg/env.Version=...".
var Version = unset

// VersionString is the link-time version, or the VCS revision recorded by the go toolchain.
func VersionString() string {
	if Version != unset {
		return Version
	}
	return versioninfo.Short()
}

func VersionHandler(w http.ResponseWriter, r *http.Request) {
	fmt.Fprintf(w, "%s\n", VersionString()) // nolint:errcheck
}
