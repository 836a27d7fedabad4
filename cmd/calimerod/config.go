// Copyright 2026 The Calimero Authors
// This file is part of Calimero.
//
// Calimero is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// Calimero is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with Calimero. If not, see <http://www.gnu.org/licenses/>.

package main

import (
	"os"
	"strings"

	"github.com/calimero-network/core-sub010/internal/runtime"
)

// Config is the handful of bootstrap values this composition root needs to
// construct a node. Config loading (a file format, flags, env schema) is out
// of scope (spec.md §1) — these are the bare values a caller of main() can
// override through the process environment, not a configuration subsystem.
type Config struct {
	DataDir     string
	ListenAddrs []string
	Limits      runtime.Limits
}

func defaultConfig() Config {
	return Config{
		DataDir:     "./calimero-data",
		ListenAddrs: []string{"/ip4/0.0.0.0/tcp/0"},
		Limits:      runtime.DefaultLimits,
	}
}

// loadConfig returns defaultConfig with CALIMERO_DATA_DIR and
// CALIMERO_LISTEN_ADDRS (comma-separated multiaddrs) applied when set.
func loadConfig() Config {
	cfg := defaultConfig()
	if dir := os.Getenv("CALIMERO_DATA_DIR"); dir != "" {
		cfg.DataDir = dir
	}
	if addrs := os.Getenv("CALIMERO_LISTEN_ADDRS"); addrs != "" {
		cfg.ListenAddrs = strings.Split(addrs, ",")
	}
	return cfg
}
