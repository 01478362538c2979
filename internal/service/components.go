// Package service wires the audit components together and exposes them
// over HTTP. Components is the composition root shared by the CLI and the
// API server; Server is the transport on top of it.
package service

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/ode0x/solaudit/api/schemas"
	"github.com/ode0x/solaudit/internal/advisor"
	"github.com/ode0x/solaudit/internal/audit"
	"github.com/ode0x/solaudit/internal/config"
	"github.com/ode0x/solaudit/internal/contract"
	"github.com/ode0x/solaudit/internal/coordinator"
	"github.com/ode0x/solaudit/internal/fetch"
	"github.com/ode0x/solaudit/internal/oracle"
	"github.com/ode0x/solaudit/internal/reasoning"
	"github.com/ode0x/solaudit/internal/store"
)

// Components holds the initialized audit services. It centralizes the
// lifecycle of every collaborator so the CLI and the server shut them
// down the same way.
type Components struct {
	Coordinator *coordinator.Coordinator
	Parser      *contract.Parser
	Reasoner    *reasoning.Reasoner
	Oracle      schemas.Oracle
	Store       schemas.Store
	Advisor     schemas.Advisor
	Fetcher     schemas.SourceFetcher
	Auditor     schemas.Auditor

	log        *zap.Logger
	closeStore func()
}

// Build initializes every component the configuration enables. Optional
// collaborators that are disabled stay nil; ones that are enabled but
// fail to initialize abort the build, with everything created so far
// shut down.
func Build(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Components, error) {
	if cfg == nil || logger == nil {
		return nil, errors.New("cannot build components with nil dependencies")
	}

	c := &Components{log: logger.Named("service")}

	var buildErr error
	defer func() {
		if buildErr != nil {
			c.log.Warn("Initialization failed, shutting down partially built components", zap.Error(buildErr))
			c.Shutdown()
		}
	}()

	coord, err := coordinator.New(cfg, logger)
	if err != nil {
		buildErr = fmt.Errorf("failed to initialize coordinator: %w", err)
		return nil, buildErr
	}
	c.Coordinator = coord
	c.log.Debug("Detector coordinator initialized")

	c.Parser = contract.NewParser(logger)
	c.Reasoner = reasoning.New(logger)

	if cfg.Oracle.Enabled {
		kb, err := oracle.New(cfg, logger)
		if err != nil {
			// Reasoning stays rule-only; the oracle is advisory by
			// contract.
			c.log.Warn("Oracle unavailable, proceeding rule-only", zap.Error(err))
		} else {
			c.Oracle = kb
			c.log.Debug("Reasoning oracle initialized")
		}
	}

	if cfg.Store.Enabled {
		dbStore, err := store.Connect(ctx, cfg, logger)
		if err != nil {
			buildErr = fmt.Errorf("failed to initialize audit store: %w", err)
			return nil, buildErr
		}
		c.Store = dbStore
		c.closeStore = dbStore.Close
		c.log.Debug("Audit store initialized")
	}

	adv, err := advisor.New(ctx, cfg, logger)
	if err != nil {
		buildErr = fmt.Errorf("failed to initialize advisor: %w", err)
		return nil, buildErr
	}
	c.Advisor = adv
	c.log.Debug("Advisor initialized")

	fetcher, err := fetch.New(cfg, logger)
	if err != nil {
		buildErr = fmt.Errorf("failed to initialize source fetcher: %w", err)
		return nil, buildErr
	}
	c.Fetcher = fetcher
	c.log.Debug("Source fetcher initialized")

	auditor, err := audit.New(cfg, logger, audit.Deps{
		Coordinator: c.Coordinator,
		Parser:      c.Parser,
		Reasoner:    c.Reasoner,
		Oracle:      c.Oracle,
		Store:       c.Store,
		Advisor:     c.Advisor,
	})
	if err != nil {
		buildErr = fmt.Errorf("failed to initialize auditor: %w", err)
		return nil, buildErr
	}
	c.Auditor = auditor

	c.log.Info("All audit components initialized")
	return c, nil
}

// Shutdown releases component resources in reverse initialization order.
// It is safe to call on a partially built container.
func (c *Components) Shutdown() {
	c.log.Debug("Beginning component shutdown sequence")

	if c.Advisor != nil {
		if err := c.Advisor.Close(); err != nil {
			c.log.Warn("Error closing advisor", zap.Error(err))
		} else {
			c.log.Debug("Advisor closed")
		}
	}

	if c.closeStore != nil {
		c.closeStore()
		c.log.Debug("Audit store closed")
	}

	c.log.Info("All components shut down")
}
