// Copyright (C) 2025 tempstore authors.
// See LICENSE for copying information.

package main

import (
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/zeebo/errs"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"storj.io/common/errs2"

	"github.com/marcv81/tempstore/blobstore/filestore"
	"github.com/marcv81/tempstore/cleanup"
	"github.com/marcv81/tempstore/console"
	"github.com/marcv81/tempstore/engine"
	"github.com/marcv81/tempstore/metadb"
)

// Config defines the tempstore process configuration.
type Config struct {
	DatastoreDir    string
	DatabaseDir     string
	ObsoleteAge     time.Duration
	Address         string
	CleanupInterval time.Duration
}

var (
	rootCmd = &cobra.Command{
		Use:   "tempstore",
		Short: "Temporary artifact store",
	}
	runCmd = &cobra.Command{
		Use:   "run",
		Short: "Run the web console and the cleanup chore",
		RunE:  cmdRun,
	}
	initCmd = &cobra.Command{
		Use:   "init",
		Short: "Bootstrap or reset the datastore and the database (destructive)",
		RunE:  cmdInit,
	}
	cleanupCmd = &cobra.Command{
		Use:   "cleanup",
		Short: "Remove obsolete versions and unreferenced blobs",
		RunE:  cmdCleanup,
	}

	runCfg Config
)

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&runCfg.DatastoreDir, "datastore-dir", "datastore", "directory holding the content-addressed blobs")
	flags.StringVar(&runCfg.DatabaseDir, "database-dir", "database", "directory holding the metadata database")
	flags.DurationVar(&runCfg.ObsoleteAge, "obsolete-age", 30*24*time.Hour, "how old an unstarred version must be before cleanup removes it")
	flags.StringVar(&runCfg.Address, "address", "127.0.0.1:8000", "address for the web console")
	flags.DurationVar(&runCfg.CleanupInterval, "cleanup-interval", time.Hour, "how frequently the cleanup chore runs")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(cleanupCmd)
}

func newLogger() (*zap.Logger, error) {
	return zap.NewProduction()
}

func newEngine(log *zap.Logger) *engine.Engine {
	blobs := filestore.New(log.Named("filestore"), runCfg.DatastoreDir, filestore.DefaultConfig)
	db := metadb.Open(log.Named("metadb"), runCfg.DatabaseDir)
	return engine.New(log.Named("engine"), blobs, db, engine.Config{
		ObsoleteAge: runCfg.ObsoleteAge,
	})
}

func cmdInit(cmd *cobra.Command, args []string) (err error) {
	log, err := newLogger()
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	log.Info("resetting contents",
		zap.String("datastore", runCfg.DatastoreDir),
		zap.String("database", runCfg.DatabaseDir))

	eng := newEngine(log)
	defer func() { err = errs.Combine(err, eng.Close()) }()
	return eng.Init(cmd.Context())
}

func cmdCleanup(cmd *cobra.Command, args []string) (err error) {
	log, err := newLogger()
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	eng := newEngine(log)
	defer func() { err = errs.Combine(err, eng.Close()) }()
	return eng.Cleanup(cmd.Context())
}

func cmdRun(cmd *cobra.Command, args []string) (err error) {
	log, err := newLogger()
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	eng := newEngine(log)
	defer func() { err = errs.Combine(err, eng.Close()) }()

	listener, err := net.Listen("tcp", runCfg.Address)
	if err != nil {
		return errs.Wrap(err)
	}

	server := console.NewServer(log.Named("console"),
		console.Config{Address: runCfg.Address}, eng, listener)
	chore := cleanup.NewService(log.Named("cleanup"), eng,
		cleanup.Config{Interval: runCfg.CleanupInterval})

	log.Info("tempstore running", zap.String("address", runCfg.Address))

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return errs2.IgnoreCanceled(server.Run(ctx))
	})
	group.Go(func() error {
		return errs2.IgnoreCanceled(chore.Run(ctx))
	})
	defer func() { err = errs.Combine(err, server.Close(), chore.Close()) }()
	return group.Wait()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
