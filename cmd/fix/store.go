// Copyright 2024 The zb Authors
// SPDX-License-Identifier: MIT

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"fix.alekseev.dev/core/config"
	"fix.alekseev.dev/core/store"
)

func newAddRootCommand(cfg **config.Config) *cobra.Command {
	c := &cobra.Command{
		Use:                   "add-root LINK",
		Short:                 "register an indirect garbage-collection root",
		DisableFlagsInUseLine: true,
		Args:                  cobra.ExactArgs(1),
		SilenceErrors:         true,
		SilenceUsage:          true,
	}
	c.RunE = func(cmd *cobra.Command, args []string) error {
		st, err := store.Open(store.Options{Dir: (*cfg).StoreDir, ReadOnly: (*cfg).ReadOnlyMode})
		if err != nil {
			return err
		}
		return st.AddIndirectRoot(cmd.Context(), args[0])
	}
	return c
}

func newStoreCommand(cfg **config.Config) *cobra.Command {
	c := &cobra.Command{
		Use:                   "store COMMAND",
		Short:                 "inspect and populate the store",
		DisableFlagsInUseLine: true,
		SilenceErrors:         true,
		SilenceUsage:          true,
	}
	c.AddCommand(newStoreAddCommand(cfg))
	return c
}

func newStoreAddCommand(cfg **config.Config) *cobra.Command {
	var mode string
	c := &cobra.Command{
		Use:                   "add PATH [PATH ...]",
		Short:                 "ingest one or more files or directory trees into the store",
		DisableFlagsInUseLine: true,
		Args:                  cobra.MinimumNArgs(1),
		SilenceErrors:         true,
		SilenceUsage:          true,
	}
	c.Flags().StringVar(&mode, "mode", "flat", "ingestion `mode`: flat or nar")
	c.RunE = func(cmd *cobra.Command, args []string) error {
		var recursive bool
		switch mode {
		case "flat":
			recursive = false
		case "nar":
			recursive = true
		default:
			return fmt.Errorf("store add: unrecognized --mode %q (want flat or nar)", mode)
		}
		st, err := store.Open(store.Options{Dir: (*cfg).StoreDir, ReadOnly: (*cfg).ReadOnlyMode})
		if err != nil {
			return err
		}
		// Independent sources are ingested concurrently; with one path this
		// is equivalent to a single AddToStore call.
		paths, err := store.CopyClosureBatch(cmd.Context(), st, args, recursive)
		if err != nil {
			return err
		}
		for _, p := range paths {
			fmt.Println(string(p))
		}
		return nil
	}
	return c
}
