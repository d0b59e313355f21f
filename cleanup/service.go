// Copyright (C) 2025 tempstore authors.
// See LICENSE for copying information.

// Package cleanup implements periodic removal of obsolete versions and
// unreferenced blobs.
package cleanup

import (
	"context"
	"time"

	"github.com/spacemonkeygo/monkit/v3"
	"go.uber.org/zap"

	"storj.io/common/sync2"

	"github.com/marcv81/tempstore/engine"
)

var mon = monkit.Package()

// Config defines parameters for the cleanup service.
type Config struct {
	Interval time.Duration
}

// DefaultConfig is the default value for Config.
var DefaultConfig = Config{
	Interval: time.Hour,
}

// Service runs engine cleanup passes on a cycle.
//
// architecture: Chore
type Service struct {
	log    *zap.Logger
	engine *engine.Engine

	Loop *sync2.Cycle
}

// NewService creates a new cleanup service.
func NewService(log *zap.Logger, engine *engine.Engine, config Config) *Service {
	if config.Interval <= 0 {
		config.Interval = DefaultConfig.Interval
	}
	return &Service{
		log:    log,
		engine: engine,
		Loop:   sync2.NewCycle(config.Interval),
	}
}

// Run runs the cleanup service until ctx is canceled. A failed pass is
// logged and does not stop the loop.
func (service *Service) Run(ctx context.Context) (err error) {
	defer mon.Task()(&ctx)(&err)

	return service.Loop.Run(ctx, func(ctx context.Context) error {
		if err := service.engine.Cleanup(ctx); err != nil {
			service.log.Error("cleanup failed", zap.Error(err))
		}
		return nil
	})
}

// Close stops the cleanup service.
func (service *Service) Close() error {
	service.Loop.Close()
	return nil
}
