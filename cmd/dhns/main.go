// Command dhns runs the combined DHCPv4 server and DNS forwarder.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/AdguardTeam/golibs/osutil"
	"github.com/dhns/dhnsd/internal/config"
	"github.com/dhns/dhnsd/internal/server"
)

func main() {
	ctx := context.Background()

	confFile := flag.String("config", "dhns.yaml", "path to the configuration file")
	verbose := flag.Bool("verbose", false, "enable debug logging")
	flag.Parse()

	lvl := slog.LevelInfo
	if *verbose {
		lvl = slog.LevelDebug
	}

	logger := slogutil.New(&slogutil.Config{
		Format:       slogutil.FormatDefault,
		Level:        lvl,
		AddTimestamp: true,
	})

	logger.InfoContext(ctx, "starting dhns", "pid", os.Getpid(), "config", *confFile)

	conf, err := config.Load(*confFile)
	if err != nil {
		logger.ErrorContext(ctx, "loading configuration", slogutil.KeyError, err)
		os.Exit(int(osutil.ExitCodeArgumentError))
	}

	srv, err := server.New(buildServerConfig(conf, logger))
	if err != nil {
		logger.ErrorContext(ctx, "assembling server", slogutil.KeyError, err)
		os.Exit(int(osutil.ExitCodeFailure))
	}

	startCtx, startCancel := context.WithTimeout(ctx, defaultTimeoutStart)
	err = srv.Start(startCtx)
	startCancel()
	errors.Check(err)

	os.Exit(int(waitForShutdown(ctx, logger, srv)))
}

// Default timeouts for the startup and graceful-shutdown phases of the
// server lifecycle.
const (
	defaultTimeoutStart    = 10 * time.Second
	defaultTimeoutShutdown = 5 * time.Second
)

// buildServerConfig translates the on-disk configuration into the
// assembly-time server.Config.
func buildServerConfig(conf *config.Config, logger *slog.Logger) server.Config {
	return server.Config{
		DHCPListenAddr: fmt.Sprintf(":%d", config.DHCPPort()),
		DNSListenAddr:  fmt.Sprintf(":%d", config.DNSPort()),
		Pools:          conf.Pools,
		FixedRecords:   config.ToFixedRecords(conf.FixedRecords),
		SuffixRoutes:   config.ToSuffixRoutes(conf.SuffixRoutes),
		Upstreams:      conf.Upstreams,
		Discovery:      conf.Discovery,
		ResolvConfPath: conf.ResolvConf,
		LeaseDBPath:    conf.LeaseDBPath,
		Logger:         logger,
	}
}

// waitForShutdown blocks until a shutdown signal arrives, then stops srv.  It
// returns [osutil.ExitCodeSuccess] on a clean stop and
// [osutil.ExitCodeFailure] if stopping srv fails.
func waitForShutdown(ctx context.Context, logger *slog.Logger, srv *server.Server) (status osutil.ExitCode) {
	sig := make(chan os.Signal, 1)
	notifier := osutil.DefaultSignalNotifier{}
	osutil.NotifyShutdownSignal(notifier, sig)

	s := <-sig
	logger.InfoContext(ctx, "received signal", "signal", s)

	shutdownCtx, cancel := context.WithTimeout(ctx, defaultTimeoutShutdown)
	defer cancel()

	if err := srv.Stop(); err != nil {
		logger.ErrorContext(shutdownCtx, "stopping server", slogutil.KeyError, err)

		return osutil.ExitCodeFailure
	}

	logger.InfoContext(shutdownCtx, "stopped")

	return osutil.ExitCodeSuccess
}
