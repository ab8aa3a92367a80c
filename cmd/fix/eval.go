// Copyright 2024 The zb Authors
// SPDX-License-Identifier: MIT

package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"fix.alekseev.dev/core/config"
	"fix.alekseev.dev/core/eval"
	"fix.alekseev.dev/core/parser"
	"fix.alekseev.dev/core/store"
	"fix.alekseev.dev/core/term"
)

// newEngine opens the store and an evaluator state for cfg, the setup the
// eval and instantiate subcommands share.
func newEngine(cfg *config.Config) (*eval.State, *term.Arena, error) {
	st, err := store.Open(store.Options{Dir: cfg.StoreDir, ReadOnly: cfg.ReadOnlyMode})
	if err != nil {
		return nil, nil, err
	}
	a := term.NewArena()
	return eval.NewState(a, st, cfg.SearchDirs, cfg.ThisSystem), a, nil
}

func evalFile(ctx context.Context, cfg *config.Config, path string) (*term.Term, *eval.State, error) {
	s, a, err := newEngine(cfg)
	if err != nil {
		return nil, nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, err
	}
	e, err := parser.Parse(a, string(data))
	if err != nil {
		return nil, nil, err
	}
	nf, err := s.Eval(ctx, e)
	if err != nil {
		return nil, nil, err
	}
	return nf, s, nil
}

func newEvalCommand(cfg **config.Config) *cobra.Command {
	c := &cobra.Command{
		Use:                   "eval FILE",
		Short:                 "evaluate a fix expression to normal form",
		DisableFlagsInUseLine: true,
		Args:                  cobra.ExactArgs(1),
		SilenceErrors:         true,
		SilenceUsage:          true,
	}
	c.RunE = func(cmd *cobra.Command, args []string) error {
		nf, s, err := evalFile(cmd.Context(), *cfg, args[0])
		if err != nil {
			return err
		}
		fmt.Println(nf)
		stats := s.Stats()
		fmt.Fprintf(cmd.ErrOrStderr(), "evaluated %d terms, %d cache hits\n", stats.Evaluated, stats.Cached)
		return nil
	}
	return c
}

func newInstantiateCommand(cfg **config.Config) *cobra.Command {
	c := &cobra.Command{
		Use:                   "instantiate FILE",
		Short:                 "evaluate a derivation expression and print its drvPath",
		DisableFlagsInUseLine: true,
		Args:                  cobra.ExactArgs(1),
		SilenceErrors:         true,
		SilenceUsage:          true,
	}
	c.RunE = func(cmd *cobra.Command, args []string) error {
		nf, _, err := evalFile(cmd.Context(), *cfg, args[0])
		if err != nil {
			return err
		}
		if nf.Kind() != term.Attrs {
			return fmt.Errorf("instantiate: expected a derivation attribute set, got %v", nf.Kind())
		}
		drvPath, ok := nf.Lookup("drvPath")
		if !ok {
			return fmt.Errorf("instantiate: result has no drvPath attribute")
		}
		fmt.Println(drvPath.Text())
		return nil
	}
	return c
}

func newBuildCommand(cfg **config.Config) *cobra.Command {
	c := &cobra.Command{
		Use:                   "build DRVPATH",
		Short:                 "invoke an external builder for a derivation (out of scope)",
		DisableFlagsInUseLine: true,
		Args:                  cobra.ExactArgs(1),
		SilenceErrors:         true,
		SilenceUsage:          true,
	}
	c.RunE = func(cmd *cobra.Command, args []string) error {
		return fmt.Errorf("build: invoking a builder is out of scope for this engine; instantiate %s and hand drvPath to an external builder", args[0])
	}
	return c
}
