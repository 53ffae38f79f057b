// Command mailsummary runs the inbox automation daemon: it periodically
// fetches messages from the configured IMAP mailbox, runs the rule pipeline
// over them and dispatches the resulting side effects back to the mail
// store. The optional admin HTTP API exposes rule management and metrics.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/kochj23/mailsummary/cache"
	"github.com/kochj23/mailsummary/config"
	"github.com/kochj23/mailsummary/db"
	"github.com/kochj23/mailsummary/logger"
	"github.com/kochj23/mailsummary/mailstore"
	"github.com/kochj23/mailsummary/notify"
	"github.com/kochj23/mailsummary/pkg/errors"
	"github.com/kochj23/mailsummary/rules"
	"github.com/kochj23/mailsummary/server/httpapi"
	"github.com/kochj23/mailsummary/storage"
)

// Version information, injected at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// daemon bundles the wired services behind the run loop.
type daemon struct {
	cfg      *config.Config
	engine   *rules.Engine
	source   mailstore.Source
	dispatch *mailstore.Dispatcher
	index    *cache.Cache

	runMu sync.Mutex
}

func main() {
	errorHandler := errors.NewErrorHandler()

	showVersion := flag.Bool("version", false, "Show version information and exit")
	flag.BoolVar(showVersion, "v", false, "Show version information and exit")
	configPath := flag.String("config", "config.toml", "Path to TOML configuration file")
	flag.Parse()

	if *showVersion {
		fmt.Printf("mailsummary version %s (commit: %s, built at: %s)\n", version, commit, date)
		os.Exit(0)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		errorHandler.ConfigError(*configPath, err)
		os.Exit(errorHandler.WaitForExit())
	}
	if err := cfg.Validate(); err != nil {
		errorHandler.ValidationError("configuration", err)
		os.Exit(errorHandler.WaitForExit())
	}

	logFile, err := logger.Initialize(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "mailsummary: warning initializing logger: %v\n", err)
	}
	if logFile != nil {
		defer logFile.Close()
	}

	logger.Infof("mailsummary starting (version %s, commit: %s, built: %s)", version, commit, date)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-signalChan
		logger.Infof("received signal: %s, shutting down...", sig)
		cancel()
	}()

	d, cleanup, err := initializeServices(ctx, cfg)
	if err != nil {
		errorHandler.FatalError("initialize services", err)
		os.Exit(errorHandler.WaitForExit())
	}
	defer cleanup()

	errChan := make(chan error, 1)

	if cfg.HTTPAPI.Enabled {
		go httpapi.Start(ctx, d.engine, httpapi.ServerOptions{
			Addr:           cfg.HTTPAPI.GetAddr(),
			APIKey:         cfg.HTTPAPI.APIKey,
			AllowedHosts:   cfg.HTTPAPI.AllowedHosts,
			Cache:          d.index,
			RunNow:         d.runOnce,
			ArchiveMailbox: cfg.IMAP.GetArchiveBox(),
			TLS:            cfg.HTTPAPI.TLS,
			TLSCertFile:    cfg.HTTPAPI.TLSCertFile,
			TLSKeyFile:     cfg.HTTPAPI.TLSKeyFile,
		}, errChan)
	}

	go d.runLoop(ctx)

	select {
	case <-ctx.Done():
		errorHandler.Shutdown(ctx)
		// Let an in-flight pass notice the cancelled context.
		time.Sleep(time.Second)
	case err := <-errChan:
		errorHandler.FatalError("server operation", err)
		os.Exit(errorHandler.WaitForExit())
	}
}

// initializeServices wires database, message index, archive, mail store and
// the rule engine from configuration. The returned cleanup closes them in
// reverse order.
func initializeServices(ctx context.Context, cfg *config.Config) (*daemon, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	database, err := db.NewDatabase(ctx, &cfg.Database)
	if err != nil {
		return nil, cleanup, fmt.Errorf("database: %w", err)
	}
	closers = append(closers, database.Close)

	queryTimeout, err := cfg.Database.GetQueryTimeout()
	if err != nil {
		cleanup()
		return nil, func() {}, fmt.Errorf("database.query_timeout: %w", err)
	}
	store := db.NewRulesStore(database, queryTimeout)

	var index *cache.Cache
	if cfg.Cache.Path != "" {
		maxAge, err := cfg.Cache.GetMaxAge()
		if err != nil {
			cleanup()
			return nil, func() {}, fmt.Errorf("cache.max_age: %w", err)
		}
		purgeInterval, err := cfg.Cache.GetPurgeInterval()
		if err != nil {
			cleanup()
			return nil, func() {}, fmt.Errorf("cache.purge_interval: %w", err)
		}
		index, err = cache.New(cfg.Cache.Path, maxAge, purgeInterval)
		if err != nil {
			cleanup()
			return nil, func() {}, fmt.Errorf("message index: %w", err)
		}
		closers = append(closers, func() { index.Close() })
		index.StartPurgeLoop(ctx)
	}

	notifier, err := notify.NewFromConfig(cfg.Notifier)
	if err != nil {
		cleanup()
		return nil, func() {}, fmt.Errorf("notifier: %w", err)
	}

	engine := rules.NewEngine(
		rules.WithStore(store),
		rules.WithNotifier(notifier),
		rules.WithWorkers(cfg.Engine.GetWorkers()),
	)
	engine.LoadFromStore(ctx)

	imapStore := mailstore.NewIMAPStore(cfg.IMAP)
	closers = append(closers, func() { imapStore.Close() })

	dispatchOpts := []mailstore.DispatcherOption{}
	if cfg.S3.Enabled {
		archive, err := storage.New(
			cfg.S3.Endpoint,
			cfg.S3.AccessKey,
			cfg.S3.SecretKey,
			cfg.S3.Bucket,
			!cfg.S3.DisableTLS,
			cfg.S3.Debug,
		)
		if err != nil {
			cleanup()
			return nil, func() {}, fmt.Errorf("archive storage: %w", err)
		}
		dispatchOpts = append(dispatchOpts, mailstore.WithArchiver(archive, imapStore))
	}

	return &daemon{
		cfg:      cfg,
		engine:   engine,
		source:   imapStore,
		dispatch: mailstore.NewDispatcher(imapStore, dispatchOpts...),
		index:    index,
	}, cleanup, nil
}

// runLoop runs a full pass immediately and then on the configured interval.
func (d *daemon) runLoop(ctx context.Context) {
	interval, err := d.cfg.Engine.GetInterval()
	if err != nil {
		// Validate() already checked this; keep a sane fallback anyway.
		interval = 5 * time.Minute
	}

	if _, err := d.runOnce(ctx); err != nil {
		logger.Error("initial rule pass failed", "error", err)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := d.runOnce(ctx); err != nil {
				logger.Error("rule pass failed", "error", err)
			}
		}
	}
}

// runOnce fetches the current batch, skips snoozed messages, runs the rule
// pipeline and dispatches the emitted effects. It is also the handler
// behind the admin API's manual run endpoint; passes are serialized.
func (d *daemon) runOnce(ctx context.Context) (*rules.RunReport, error) {
	d.runMu.Lock()
	defer d.runMu.Unlock()

	start := time.Now()
	batch, err := d.source.Fetch(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch: %w", err)
	}
	batch = d.filterSnoozed(ctx, batch)
	batch = d.filterProcessed(ctx, batch)
	if len(batch) == 0 {
		logger.DebugContext(ctx, "no messages to process")
		return &rules.RunReport{}, nil
	}

	report := d.engine.Run(ctx, batch)

	failed := d.dispatch.Dispatch(ctx, report.Effects)
	for _, f := range failed {
		logger.ErrorContext(ctx, "effect dispatch failed", "error", f)
	}

	d.recordPass(ctx, batch)
	d.forgetDeleted(ctx, report.Effects, failed)

	logger.InfoContext(ctx, "rule pass complete",
		"messages", len(batch),
		"effects", len(report.Effects),
		"dispatch_failures", len(failed),
		"rule_errors", report.Errored(),
		"duration", time.Since(start))
	return report, nil
}

// filterSnoozed drops messages whose persisted snooze deadline has not
// passed yet.
func (d *daemon) filterSnoozed(ctx context.Context, batch []*rules.Message) []*rules.Message {
	if d.index == nil {
		return batch
	}
	kept := batch[:0]
	for _, m := range batch {
		until, err := d.index.SnoozedUntil(ctx, m.ExternalID)
		if err != nil {
			logger.Warn("snooze lookup failed", "external_id", m.ExternalID, "error", err)
			kept = append(kept, m)
			continue
		}
		if until != nil {
			logger.Debug("skipping snoozed message", "external_id", m.ExternalID, "until", until)
			continue
		}
		kept = append(kept, m)
	}
	return kept
}

// filterProcessed drops messages the index has already seen, so a tick never
// re-runs the pipeline (and re-fires notify actions) over old mail.
func (d *daemon) filterProcessed(ctx context.Context, batch []*rules.Message) []*rules.Message {
	if d.index == nil || len(batch) == 0 {
		return batch
	}
	ids := make([]string, len(batch))
	for i, m := range batch {
		ids[i] = m.ExternalID
	}
	fresh, err := d.index.FilterUnprocessed(ctx, ids)
	if err != nil {
		logger.Warn("processed-message lookup failed, keeping full batch", "error", err)
		return batch
	}
	keep := make(map[string]struct{}, len(fresh))
	for _, id := range fresh {
		keep[id] = struct{}{}
	}
	kept := batch[:0]
	for _, m := range batch {
		if _, ok := keep[m.ExternalID]; ok {
			kept = append(kept, m)
		}
	}
	return kept
}

// recordPass updates the message index after a pass. Snoozed messages only
// get their deadline persisted, not a processed mark, so they re-enter
// evaluation once the deadline passes.
func (d *daemon) recordPass(ctx context.Context, batch []*rules.Message) {
	if d.index == nil {
		return
	}
	now := time.Now()
	for _, m := range batch {
		if m.Snoozed && m.SnoozeUntil != nil {
			if err := d.index.SetSnooze(ctx, m.ExternalID, *m.SnoozeUntil); err != nil {
				logger.Warn("failed to persist snooze", "external_id", m.ExternalID, "error", err)
			}
			continue
		}
		if err := d.index.MarkProcessed(ctx, m.ExternalID, now); err != nil {
			logger.Warn("failed to mark message processed", "external_id", m.ExternalID, "error", err)
		}
	}
}

// forgetDeleted drops successfully deleted messages from the index; their
// entries would otherwise linger until the purge loop ages them out.
func (d *daemon) forgetDeleted(ctx context.Context, effects []rules.Effect, failed []mailstore.DispatchFailure) {
	if d.index == nil {
		return
	}
	failedDeletes := make(map[string]struct{})
	for _, f := range failed {
		if f.Effect.Kind == rules.EffectDelete {
			failedDeletes[f.Effect.ExternalID] = struct{}{}
		}
	}
	for _, e := range effects {
		if e.Kind != rules.EffectDelete {
			continue
		}
		if _, ok := failedDeletes[e.ExternalID]; ok {
			continue
		}
		if err := d.index.Forget(ctx, e.ExternalID); err != nil {
			logger.Warn("failed to drop deleted message from index", "external_id", e.ExternalID, "error", err)
		}
	}
}
