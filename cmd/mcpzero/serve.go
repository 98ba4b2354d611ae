package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/GlobalSushrut/mcp-zero/internal/agent"
	"github.com/GlobalSushrut/mcp-zero/internal/agreements"
	"github.com/GlobalSushrut/mcp-zero/internal/api"
	"github.com/GlobalSushrut/mcp-zero/internal/billing"
	"github.com/GlobalSushrut/mcp-zero/internal/config"
	"github.com/GlobalSushrut/mcp-zero/internal/db"
	"github.com/GlobalSushrut/mcp-zero/internal/learning"
	"github.com/GlobalSushrut/mcp-zero/internal/marketplace"
	"github.com/GlobalSushrut/mcp-zero/internal/mesh"
	"github.com/GlobalSushrut/mcp-zero/internal/monitor"
	"github.com/GlobalSushrut/mcp-zero/internal/plugins"
	"github.com/GlobalSushrut/mcp-zero/internal/trace"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the fabric daemon",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve()
		},
	}
}

func serve() error {
	cfg := config.Load()
	cfg.ApplyLogging()
	log := logrus.WithField("component", "serve")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Resource monitor first: everything else runs under its gate.
	mon := monitor.New()
	mon.Start(ctx)

	// Storage. Postgres backs billing and the memory trace; the in-memory
	// store keeps single-node deployments dependency-free.
	var (
		store     billing.Store
		persister trace.Persister
	)
	if cfg.DBType == "postgres" {
		pg, err := db.Connect(cfg.DatabaseURL())
		if err != nil {
			return fmt.Errorf("connecting to postgres: %w", err)
		}
		defer pg.Close()
		if err := pg.InitSchema(); err != nil {
			return fmt.Errorf("initialising schema: %w", err)
		}
		store = pg
		persister = pg
	} else {
		store = billing.NewMemStore()
	}

	var treeOpts []trace.Option
	if persister != nil {
		treeOpts = append(treeOpts, trace.WithPersister(persister))
	}
	tree := trace.NewTree(treeOpts...)
	if persister != nil {
		if err := tree.Restore(ctx); err != nil {
			log.Warnf("Could not restore memory trace: %v", err)
		}
	}

	billingSys := billing.NewSystem(store)

	engine, err := agreements.NewEngine(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("opening agreement store: %w", err)
	}
	executor := agreements.NewExecutor(engine, billingSys)
	executor.Start(ctx)

	registry := plugins.NewRegistry()
	catalog := marketplace.NewCatalog(billingSys)
	grid := learning.NewIntentGrid(10, 10, 0.05, 0.98, 0.70)

	agents := agent.NewService(registry, mon, tree, agent.WithIntentGrid(grid))

	hub := api.NewHub()
	go hub.Run()

	var meshNode *mesh.Node
	if cfg.MeshEnabled {
		meshNode = mesh.NewNode(cfg.MeshHost, cfg.MeshPort)
		validator := mesh.NewValidator(meshNode.ID, engine, executor)
		validator.Attach(meshNode)
		if err := meshNode.Start(ctx); err != nil {
			return fmt.Errorf("starting mesh node: %w", err)
		}
		log.Infof("Mesh node %s listening on %s", meshNode.ID, meshNode.Address())
	}

	router := api.SetupRouter(api.Deps{
		Agents:    agents,
		Engine:    engine,
		Billing:   billingSys,
		Catalog:   catalog,
		Registry:  registry,
		Monitor:   mon,
		Tree:      tree,
		MeshNode:  meshNode,
		Hub:       hub,
		RateLimit: api.NewRateLimiter(300, 50),
	})

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.HTTPPort)
	server := &http.Server{Addr: addr, Handler: router}

	errCh := make(chan error, 1)
	go func() {
		log.Infof("HTTP API listening on %s", addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	log.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warnf("HTTP shutdown: %v", err)
	}

	executor.Wait()
	mon.Wait()
	if meshNode != nil {
		meshNode.Wait()
	}
	return nil
}
