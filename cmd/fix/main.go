// Copyright 2024 The zb Authors
// SPDX-License-Identifier: MIT

// Command fix is the informative, external-collaborator CLI described by
// §6: it evaluates terms, instantiates derivations, and reads and writes
// the store, but never drives a builder itself.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"slices"
	"sync"
	"syscall"

	"github.com/spf13/cobra"
	"go4.org/xdgdir"
	"zombiezen.com/go/log"

	"fix.alekseev.dev/core/config"
)

func main() {
	rootCommand := &cobra.Command{
		Use:           "fix",
		Short:         "evaluate and instantiate fix expressions",
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	var configPaths []string
	showDebug := rootCommand.PersistentFlags().Bool("debug", false, "show debugging output")
	rootCommand.PersistentFlags().StringArrayVar(&configPaths, "config", defaultConfigPaths(), "`path` to a HuJSON configuration file, merged in order")

	var cfg *config.Config
	rootCommand.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		initLogging(*showDebug)
		var err error
		cfg, err = loadConfig(configPaths)
		return err
	}

	rootCommand.AddCommand(
		newEvalCommand(&cfg),
		newInstantiateCommand(&cfg),
		newBuildCommand(&cfg),
		newAddRootCommand(&cfg),
		newStoreCommand(&cfg),
	)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCommand.ExecuteContext(ctx)
	cancel()
	if err != nil {
		initLogging(*showDebug)
		log.Errorf(context.Background(), "%v", err)
		os.Exit(1)
	}
}

func defaultConfigPaths() []string {
	var paths []string
	if cd := xdgdir.Config.Path(); cd != "" {
		paths = append(paths, filepath.Join(cd, "fix", "config.jwcc"))
	}
	return paths
}

func loadConfig(paths []string) (*config.Config, error) {
	c, err := config.Load(slices.Values(paths))
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return c, nil
}

var initLogOnce sync.Once

func initLogging(showDebug bool) {
	initLogOnce.Do(func() {
		minLogLevel := log.Info
		if showDebug {
			minLogLevel = log.Debug
		}
		log.SetDefault(&log.LevelFilter{
			Min:    minLogLevel,
			Output: log.New(os.Stderr, "fix: ", log.StdFlags, nil),
		})
	})
}
