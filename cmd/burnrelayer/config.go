// Copyright (c) 2023 The Burn Relayer Network developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package main

import (
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	cli "gopkg.in/urfave/cli.v1"
	"gopkg.in/yaml.v3"

	"github.com/WaleedMaghraby/burn-relayer/brn"
)

type config struct {
	DataDir          string `yaml:"dataDir"`
	APIAddr          string `yaml:"apiAddr"`
	APICors          string `yaml:"apiCors"`
	Verbosity        int    `yaml:"verbosity"`
	BlockInterval    uint64 `yaml:"blockInterval"`
	BufferLimit      int    `yaml:"bufferLimit"`
	EnableAPILogs    bool   `yaml:"enableApiLogs"`
	EnableMetrics    bool   `yaml:"enableMetrics"`
	Pprof            bool   `yaml:"pprof"`
	GenerateRequests bool   `yaml:"generateRequests"`
}

func defaultConfig() config {
	return config{
		DataDir:       defaultDataDir(),
		APIAddr:       "localhost:8669",
		Verbosity:     3,
		BlockInterval: brn.BlockInterval,
		BufferLimit:   16384,
	}
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".burnrelayer"
	}
	return filepath.Join(home, ".burnrelayer")
}

// loadConfig builds the effective config: defaults, then the yaml file if
// given, then explicit flags on top.
func loadConfig(ctx *cli.Context) (config, error) {
	cfg := defaultConfig()

	if path := ctx.String(configFlag.Name); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, errors.Wrap(err, "read config")
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, errors.Wrap(err, "parse config")
		}
	}

	if ctx.IsSet(dataDirFlag.Name) {
		cfg.DataDir = ctx.String(dataDirFlag.Name)
	}
	if ctx.IsSet(apiAddrFlag.Name) {
		cfg.APIAddr = ctx.String(apiAddrFlag.Name)
	}
	if ctx.IsSet(apiCorsFlag.Name) {
		cfg.APICors = ctx.String(apiCorsFlag.Name)
	}
	if ctx.IsSet(verbosityFlag.Name) {
		cfg.Verbosity = ctx.Int(verbosityFlag.Name)
	}
	if v := ctx.Uint64(blockIntervalFlag.Name); v != 0 {
		cfg.BlockInterval = v
	}
	if ctx.Bool(enableAPILogsFlag.Name) {
		cfg.EnableAPILogs = true
	}
	if ctx.Bool(enableMetricsFlag.Name) {
		cfg.EnableMetrics = true
	}
	if ctx.Bool(pprofFlag.Name) {
		cfg.Pprof = true
	}
	if ctx.Bool(genRequestsFlag.Name) {
		cfg.GenerateRequests = true
	}
	return cfg, nil
}
