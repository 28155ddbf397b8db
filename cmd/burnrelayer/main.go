// Copyright (c) 2023 The Burn Relayer Network developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mattn/go-isatty"
	"golang.org/x/sync/errgroup"
	cli "gopkg.in/urfave/cli.v1"

	"github.com/WaleedMaghraby/burn-relayer/allocation"
	"github.com/WaleedMaghraby/burn-relayer/api"
	"github.com/WaleedMaghraby/burn-relayer/log"
	"github.com/WaleedMaghraby/burn-relayer/lvldb"
	"github.com/WaleedMaghraby/burn-relayer/metrics"
	"github.com/WaleedMaghraby/burn-relayer/registry"
	"github.com/WaleedMaghraby/burn-relayer/txstub"
)

var (
	version   string
	gitCommit string
	gitTag    string

	logger = log.WithContext("pkg", "main")
)

func fullVersion() string {
	versionMeta := "release"
	if gitTag == "" {
		versionMeta = "dev"
	}
	return fmt.Sprintf("%s-%s-%s", version, gitCommit, versionMeta)
}

func main() {
	app := cli.App{
		Version:   fullVersion(),
		Name:      "burnrelayer",
		Usage:     "Node of the Burn Relayer Network",
		Copyright: "2023 The Burn Relayer Network developers",
		Flags: []cli.Flag{
			configFlag,
			dataDirFlag,
			apiAddrFlag,
			apiCorsFlag,
			verbosityFlag,
			blockIntervalFlag,
			enableAPILogsFlag,
			enableMetricsFlag,
			pprofFlag,
			genRequestsFlag,
		},
		Action: defaultAction,
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// blockClock derives the current block number from wall time. There is no
// underlying ledger here; block height only drives window progression.
type blockClock struct {
	start    time.Time
	interval time.Duration
}

func newBlockClock(intervalSeconds uint64) *blockClock {
	return &blockClock{
		start:    time.Now(),
		interval: time.Duration(intervalSeconds) * time.Second,
	}
}

func (c *blockClock) BlockNumber() uint64 {
	return uint64(time.Since(c.start) / c.interval)
}

func initLogger(verbosity int) {
	level := log.VerbosityToLevel(verbosity)
	if isatty.IsTerminal(os.Stderr.Fd()) {
		log.SetHandler(log.NewTextHandler(os.Stderr, level))
	} else {
		log.SetHandler(log.NewJSONHandler(os.Stderr, level))
	}
}

func defaultAction(ctx *cli.Context) error {
	defer func() { logger.Info("exited") }()

	cfg, err := loadConfig(ctx)
	if err != nil {
		return err
	}
	initLogger(cfg.Verbosity)

	if cfg.EnableMetrics {
		metrics.InitializePrometheusMetrics()
	}

	if err := os.MkdirAll(cfg.DataDir, 0700); err != nil {
		return err
	}
	db, err := lvldb.New(cfg.DataDir, lvldb.Options{})
	if err != nil {
		return err
	}
	defer func() { logger.Info("closing registry database..."); db.Close() }()

	clock := newBlockClock(cfg.BlockInterval)
	reg, err := registry.New(db, clock, registry.NoopVault{}, registry.DefaultConfig())
	if err != nil {
		return err
	}
	buffer := txstub.NewBuffer(cfg.BufferLimit)
	engine := allocation.New(reg, nil)

	handler := api.New(reg, engine, buffer, api.Options{
		AllowedOrigins:  cfg.APICors,
		PprofOn:         cfg.Pprof,
		EnableReqLogger: cfg.EnableAPILogs,
		EnableMetrics:   cfg.EnableMetrics,
	})

	listener, err := net.Listen("tcp", cfg.APIAddr)
	if err != nil {
		return err
	}
	srv := &http.Server{Handler: handler}

	runCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	group, groupCtx := errgroup.WithContext(runCtx)
	group.Go(func() error {
		logger.Info("API service started", "addr", listener.Addr(), "version", fullVersion())
		if err := srv.Serve(listener); err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	if cfg.GenerateRequests {
		group.Go(func() error {
			return generateRequests(groupCtx, buffer, cfg.BlockInterval)
		})
	}

	return group.Wait()
}

// generateRequests feeds one synthetic candidate request per block interval,
// to exercise allocation in demo deployments.
func generateRequests(ctx context.Context, buffer *txstub.Buffer, intervalSeconds uint64) error {
	gen := txstub.NewGenerator()
	ticker := time.NewTicker(time.Duration(intervalSeconds) * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			buffer.Add(gen.Next())
		}
	}
}
