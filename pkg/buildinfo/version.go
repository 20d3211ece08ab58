// Package buildinfo exposes the running binary's version string.
package buildinfo

import (
	"os/exec"
	"strings"
	"sync"
)

const defaultVersion = "0.1.0"

var (
	versionOnce   sync.Once
	versionCached string
)

// Version returns the nearest git tag reachable from HEAD, as reported by
// `git describe --tags --abbrev=0` run in the process's working directory
// on the first call, or defaultVersion if that command fails. The result
// is computed once and cached.
func Version() string {
	versionOnce.Do(func() {
		versionCached = gitDescribe()
		if versionCached == "" {
			versionCached = defaultVersion
		}
	})
	return versionCached
}

func gitDescribe() string {
	out, err := exec.Command("git", "describe", "--tags", "--abbrev=0").Output()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(out))
}
