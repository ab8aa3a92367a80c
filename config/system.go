// Copyright 2024 The zb Authors
// SPDX-License-Identifier: MIT

package config

import "runtime"

// defaultSystem reports the this-system tag for the running platform, in
// the "<arch>-<os>" form used throughout the Nix ecosystem.
func defaultSystem() string {
	arch := runtime.GOARCH
	switch arch {
	case "amd64":
		arch = "x86_64"
	case "arm64":
		arch = "aarch64"
	}
	osName := runtime.GOOS
	switch osName {
	case "darwin":
		osName = "darwin"
	case "linux":
		osName = "linux"
	}
	return arch + "-" + osName
}
