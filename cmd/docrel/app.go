package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jacentio/docrel/backend"
	"github.com/jacentio/docrel/backend/dynamo"
	"github.com/jacentio/docrel/backend/sqldb"
	"github.com/jacentio/docrel/schema"
	"github.com/jacentio/docrel/store"
)

// app is everything a command needs, opened from the config file.
type app struct {
	cfg      *Config
	logger   *slog.Logger
	registry *schema.Registry
	conn     backend.Conn
	store    *store.Store

	metrics       *prometheus.Registry
	metricsServer *http.Server
	metricsAddr   string

	// Exactly one is set, by backend.
	sql    *sqldb.DB
	dynamo *dynamo.DB
}

func openApp(ctx context.Context, cfg *Config) (*app, error) {
	logger, err := cfg.logger()
	if err != nil {
		return nil, err
	}
	reg, err := schema.LoadYAMLFile(cfg.Schema)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, logger: logger, registry: reg, metrics: prometheus.NewRegistry()}
	a.metrics.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics, err := store.NewMetrics(a.metrics)
	if err != nil {
		return nil, err
	}

	switch cfg.Backend {
	case "sqlite", "postgres":
		db, err := sqldb.Open(cfg.Backend, cfg.SQL.DSN, reg, logger)
		if err != nil {
			return nil, err
		}
		a.sql, a.conn = db, db
	case "dynamo":
		client, err := newDynamoClient(ctx, cfg.Dynamo)
		if err != nil {
			return nil, err
		}
		db := dynamo.New(client, reg, dynamo.Config{
			TablePrefix: cfg.Dynamo.TablePrefix,
			UniqueTable: cfg.Dynamo.UniqueTable,
			NumShards:   cfg.Dynamo.NumShards,
			Logger:      logger,
		})
		a.dynamo, a.conn = db, db
	}

	a.store = store.New(a.conn, reg, store.Config{
		MaxConcurrency: cfg.Store.MaxConcurrency,
		ReadDepth:      cfg.Store.ReadDepth,
		Strict:         cfg.Store.Strict,
		Locales:        cfg.Store.Locales,
		Logger:         logger,
		Metrics:        metrics,
	})

	if cfg.MetricsAddr != "" {
		if err := a.serveMetrics(cfg.MetricsAddr); err != nil {
			_ = a.Close()
			return nil, err
		}
	}
	return a, nil
}

// serveMetrics exposes the app's registry on addr until Close.
func (a *app) serveMetrics(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("metrics listener: %w", err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(a.metrics, promhttp.HandlerOpts{}))
	a.metricsServer = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	a.metricsAddr = ln.Addr().String()
	go func() {
		if err := a.metricsServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("metrics listener stopped", "addr", a.metricsAddr, "error", err)
		}
	}()
	a.logger.Info("serving metrics", "addr", a.metricsAddr)
	return nil
}

func newDynamoClient(ctx context.Context, cfg DynamoConfig) (*dynamodb.Client, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	}), nil
}

// createTables creates the backend's tables.
func (a *app) createTables(ctx context.Context) error {
	if a.sql != nil {
		return a.sql.CreateTables(ctx)
	}
	return a.dynamo.CreateTables(ctx)
}

func (a *app) Close() error {
	var errs []error
	if a.metricsServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		errs = append(errs, a.metricsServer.Shutdown(ctx))
	}
	if a.sql != nil {
		errs = append(errs, a.sql.Close())
	}
	return errors.Join(errs...)
}
