package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/joestump/congress-roster/internal/alert"
	"github.com/joestump/congress-roster/internal/config"
	"github.com/joestump/congress-roster/internal/mcpserver"
	"github.com/joestump/congress-roster/internal/monitor"
	"github.com/joestump/congress-roster/internal/refresh"
	"github.com/joestump/congress-roster/internal/web"
)

// reportRetention is how long health reports are kept.
const reportRetention = 90 * 24 * time.Hour

func main() {
	rootCmd := &cobra.Command{
		Use:          "rosterd",
		Short:        "Keeps a reconciled roster of the U.S. Congress fresh and serves it",
		SilenceUsage: true,
		RunE:         runServe,
	}

	f := rootCmd.PersistentFlags()
	f.String("config", "", "path to a YAML config file")
	f.String("state-dir", "/state", "directory for the database")
	f.Int("listen-port", 8080, "HTTP port for the API and report")
	f.String("log-level", "info", "debug, info, warn or error")
	f.String("log-format", "text", "text or json")

	// Viper keys use underscores and dots so they match the env var suffix
	// after stripping the ROSTERD_ prefix.
	bindFlag := func(viperKey, flagName string) {
		_ = viper.BindPFlag(viperKey, f.Lookup(flagName))
	}
	bindFlag("state_dir", "state-dir")
	bindFlag("listen_port", "listen-port")
	bindFlag("log.level", "log-level")
	bindFlag("log.format", "log-format")

	// ROSTERD_LOG_LEVEL -> "log.level", ROSTERD_STATE_DIR -> "state_dir".
	viper.SetEnvPrefix("ROSTERD")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	config.SetDefaults(viper.GetViper())

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the scheduler, the HTTP API and the health report (default)",
		RunE:  runServe,
	}

	refreshCmd := &cobra.Command{
		Use:   "refresh",
		Short: "Run one refresh cycle now and print its outcome",
		RunE:  runRefresh,
	}

	checkCmd := &cobra.Command{
		Use:   "check",
		Short: "Evaluate roster health and print the report",
		RunE:  runCheck,
	}
	checkCmd.Flags().Bool("json", false, "print the report as JSON")
	checkCmd.Flags().Bool("strict", false, "exit non-zero unless the roster is FRESH")

	emergencyCmd := &cobra.Command{
		Use:   "emergency",
		Short: "Fire the emergency re-ingest trigger, bypassing its cooldown",
		RunE:  runEmergency,
	}
	emergencyCmd.Flags().String("reason", "manual emergency", "why the re-ingest is needed")

	ackCmd := &cobra.Command{
		Use:   "ack ALERT_ID",
		Short: "Acknowledge an alert and stop its escalation",
		Args:  cobra.ExactArgs(1),
		RunE:  runAck,
	}
	ackCmd.Flags().String("by", os.Getenv("USER"), "who acknowledges the alert")

	mcpCmd := &cobra.Command{
		Use:   "mcp",
		Short: "Serve the published roster as MCP tools over stdio",
		RunE:  runMCP,
	}

	rootCmd.AddCommand(serveCmd, refreshCmd, checkCmd, emergencyCmd, ackCmd, mcpCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig merges the config file (when given) into viper's flags, env
// and defaults, and validates the result.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	if path != "" {
		viper.SetConfigFile(path)
		if err := viper.ReadInConfig(); err != nil {
			return config.Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	cfg, err := config.Load(viper.GetViper())
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, fmt.Errorf("invalid config:\n%w", err)
	}
	return cfg, nil
}

// setup loads the configuration and wires the application. Logs go to
// stderr.
func setup(cmd *cobra.Command) (*app, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	logger := newLogger(cfg, os.Stderr)
	slog.SetDefault(logger)
	return newApp(cfg, logger)
}

func runServe(cmd *cobra.Command, _ []string) error {
	a, err := setup(cmd)
	if err != nil {
		return err
	}
	defer a.close() //nolint:errcheck
	cfg := a.cfg

	// Set up signal handling.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		sig := <-sigCh
		log.Printf("received %s, shutting down...", sig)
		cancel()
	}()

	schema, err := a.store.SchemaVersion(ctx)
	if err != nil {
		return fmt.Errorf("schema version: %w", err)
	}
	facts, err := a.store.CountFacts(ctx)
	if err != nil {
		return fmt.Errorf("count facts: %w", err)
	}

	fmt.Printf("rosterd %s starting\n", config.Version)
	fmt.Printf("  State: %s (schema v%d, %d facts)\n", cfg.StateDir, schema, facts)
	fmt.Printf("  Sources: %s\n", a.sourceIDs())
	fmt.Printf("  Alerts: %s\n", strings.Join(a.alerts.Channels(), ", "))
	fmt.Printf("  Timezone: %s\n", cfg.Location())
	fmt.Printf("  Listen: :%d\n", cfg.ListenPort)
	fmt.Println()

	if prev, err := a.store.GetConfig(ctx, "version", ""); err == nil && prev != config.Version {
		if prev != "" {
			a.logger.Info("upgraded", "from", prev, "to", config.Version)
		}
		if err := a.store.SetConfig(ctx, "version", config.Version); err != nil {
			return fmt.Errorf("record version: %w", err)
		}
	}

	session, err := a.monitor.EnsureSession(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("Congress %d in session since %s\n", session.CongressNumber, session.StartDate.Format("2006-01-02"))

	if n, err := a.store.PruneHealthReports(ctx, time.Now().Add(-reportRetention)); err != nil {
		a.logger.Warn("prune health reports", "error", err)
	} else if n > 0 {
		a.logger.Info("pruned health reports", "count", n)
	}

	webServer := web.New(cfg.ListenPort, a.hub, a.store, a.monitor, a.manager,
		web.WithMetrics(promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{})),
		web.WithAcknowledger(a.alerts),
		web.WithLogger(a.logger),
	)
	go func() {
		if err := webServer.Start(); err != nil {
			log.Printf("web server error: %v", err)
			cancel()
		}
	}()

	if err := a.manager.Run(ctx); err != nil {
		return fmt.Errorf("trigger manager: %w", err)
	}

	// Gracefully shut down web server.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := webServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("web server shutdown: %v", err)
	}
	return nil
}

func runRefresh(cmd *cobra.Command, _ []string) error {
	a, err := setup(cmd)
	if err != nil {
		return err
	}
	defer a.close() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	if _, err := a.monitor.EnsureSession(ctx); err != nil {
		return err
	}

	runID := refresh.NewRunID()
	fmt.Printf("Refresh %s using %s\n", runID, a.sourceIDs())
	done := a.follow(runID, os.Stdout)
	res, err := a.refresher.Run(ctx, runID, "manual")
	a.hub.Remove(runID)
	<-done
	if err != nil {
		return fmt.Errorf("refresh: %w", err)
	}

	fmt.Println()
	fmt.Printf("Status: %s (Congress %d)\n", res.Status, res.Congress)
	fmt.Printf("  Facts written: %d\n", res.FactsWritten)
	fmt.Printf("  Pending identities: %d\n", len(res.Pending))
	for _, ad := range res.Adapters {
		line := fmt.Sprintf("  %-12s %-9s %d records", ad.SourceID, ad.Status, ad.Records)
		if ad.Error != nil {
			line += ": " + *ad.Error
		}
		fmt.Println(line)
	}
	if res.Violation != nil {
		fmt.Println("Refused to publish:")
		for _, v := range res.Violation.Violations {
			fmt.Printf("  - %s\n", v)
		}
	}
	for _, c := range res.LeadershipChanges {
		fmt.Printf("  leadership: %s %s %s -> %s\n", c.Committee, c.Role, c.From, c.To)
	}

	rep, err := a.monitor.Evaluate(ctx)
	if err != nil {
		return fmt.Errorf("evaluate: %w", err)
	}
	fmt.Printf("Health: %s\n", rep.State)
	return nil
}

func runCheck(cmd *cobra.Command, _ []string) error {
	a, err := setup(cmd)
	if err != nil {
		return err
	}
	defer a.close() //nolint:errcheck
	ctx := cmd.Context()

	if _, err := a.monitor.EnsureSession(ctx); err != nil {
		return err
	}
	rep, err := a.monitor.Evaluate(ctx)
	if err != nil {
		return fmt.Errorf("evaluate: %w", err)
	}

	if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(rep); err != nil {
			return err
		}
	} else {
		fmt.Print(rep.Markdown())
	}

	if strict, _ := cmd.Flags().GetBool("strict"); strict && rep.State != monitor.Fresh {
		return fmt.Errorf("roster is %s", rep.State)
	}
	return nil
}

func runEmergency(cmd *cobra.Command, _ []string) error {
	a, err := setup(cmd)
	if err != nil {
		return err
	}
	defer a.close() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	if _, err := a.monitor.EnsureSession(ctx); err != nil {
		return err
	}
	reason, _ := cmd.Flags().GetString("reason")
	exec, err := a.manager.Fire(ctx, monitor.TriggerEmergency, reason)
	if errors.Is(err, monitor.ErrBusy) {
		return fmt.Errorf("%w; retry once it finishes", err)
	}
	if exec != nil {
		run := "-"
		if exec.RunID != nil {
			run = *exec.RunID
		}
		fmt.Printf("Trigger %s: %s (run %s)\n", exec.TriggerName, exec.Status, run)
	}
	return err
}

func runAck(cmd *cobra.Command, args []string) error {
	a, err := setup(cmd)
	if err != nil {
		return err
	}
	defer a.close() //nolint:errcheck

	by, _ := cmd.Flags().GetString("by")
	if by == "" {
		return errors.New("--by is required")
	}
	err = a.alerts.Acknowledge(cmd.Context(), args[0], by)
	switch {
	case errors.Is(err, alert.ErrAlreadyAcknowledged):
		fmt.Printf("Alert %s was already acknowledged\n", args[0])
		return nil
	case err != nil:
		return err
	}
	fmt.Printf("Alert %s acknowledged by %s\n", args[0], by)
	return nil
}

func runMCP(cmd *cobra.Command, _ []string) error {
	a, err := setup(cmd)
	if err != nil {
		return err
	}
	defer a.close() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	return mcpserver.NewServer(a.store, a.monitor).Serve(ctx, os.Stdin, os.Stdout)
}
