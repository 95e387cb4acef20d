package main

import (
	"bufio"
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/ticketpress/ticketpress/config"
	"github.com/ticketpress/ticketpress/internal/bootstrap"
	"github.com/ticketpress/ticketpress/internal/data"
	"github.com/ticketpress/ticketpress/internal/devseed"
	"github.com/ticketpress/ticketpress/internal/render"
)

type commandFn func(ctx *commandContext, args []string) error

type command struct {
	name        string
	description string
	run         commandFn
}

type commandContext struct {
	Ctx    context.Context
	Logger *slog.Logger
	Config config.AppConfig
}

const (
	defaultMigrationTimeout = 5 * time.Minute
	defaultCommandTimeout   = 2 * time.Minute
)

func main() {
	logger := bootstrap.InitLogger()

	if len(os.Args) < 2 {
		if err := printUsage(); err != nil {
			logger.Error("print usage failed", "error", err)
		}
		os.Exit(2) //nolint:forbidigo // CLI must exit with failure status when no command is provided
	}

	cmdName := os.Args[1]
	cmd, ok := commands()[cmdName]
	if !ok {
		if err := writef(os.Stderr, "unknown command %q\n\n", cmdName); err != nil {
			logger.Error("print unknown command message failed", "error", err)
		}
		if err := printUsage(); err != nil {
			logger.Error("print usage failed", "error", err)
		}
		os.Exit(2) //nolint:forbidigo // CLI must exit with failure status when command is unknown
	}

	cfg, err := bootstrap.LoadConfig()
	if err != nil {
		logger.ErrorContext(context.Background(), "load config", "error", err)
		os.Exit(1) //nolint:forbidigo // CLI must signal configuration load failure to shell scripts
	}

	cmdCtx := &commandContext{
		Ctx:    context.Background(),
		Logger: logger,
		Config: cfg,
	}
	if runErr := cmd.run(cmdCtx, os.Args[2:]); runErr != nil {
		logger.ErrorContext(cmdCtx.Ctx, "command failed", "command", cmdName, "error", runErr)
		os.Exit(1) //nolint:forbidigo // CLI must propagate command execution failure to callers
	}
}

func commands() map[string]command {
	return map[string]command{
		"migrate": {
			name:        "migrate",
			description: "Run database migrations",
			run:         runMigrations,
		},
		"db-reset": {
			name:        "db-reset",
			description: "Drop the database schema, run migrations, and optionally seed data",
			run:         runDBReset,
		},
		"db-seed": {
			name:        "db-seed",
			description: "Run database migrations and seed sample templates and jobs",
			run:         runDBSeed,
		},
		"stats": {
			name:        "stats",
			description: "Show render job counts per status",
			run:         runStats,
		},
		"requeue-failed": {
			name:        "requeue-failed",
			description: "Move failed jobs back to queued with a fresh attempt budget",
			run:         runRequeueFailed,
		},
		"probe": {
			name:        "probe",
			description: "Probe the configured external renderer and report availability",
			run:         runProbe,
		},
	}
}

func printUsage() error {
	if err := writef(os.Stdout, "Usage: ticketpress-admin <command> [flags]\n\n"); err != nil {
		return err
	}
	if err := writef(os.Stdout, "Available commands:\n"); err != nil {
		return err
	}
	names := make([]string, 0)
	cmds := commands()
	for name := range cmds {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		c := cmds[name]
		if err := writef(os.Stdout, "  %-16s %s\n", c.name, c.description); err != nil {
			return err
		}
	}
	return nil
}

type migrateOptions struct {
	Timeout time.Duration
}

type dbResetOptions struct {
	Timeout     time.Duration
	Yes         bool
	Seed        bool
	AllowRemote bool
}

type dbSeedOptions struct {
	Timeout     time.Duration
	AllowRemote bool
}

type requeueOptions struct {
	JobID  string
	All    bool
	DryRun bool
	Yes    bool
}

func runMigrations(cmdCtx *commandContext, args []string) error {
	opts, err := parseMigrateFlags(args)
	if err != nil {
		return err
	}

	return withDatabase(cmdCtx, opts.Timeout, func(ctx context.Context, db *sql.DB) error {
		cmdCtx.Logger.Info("running database migrations")
		if migrateErr := bootstrap.RunMigrations(ctx, db, cmdCtx.Logger); migrateErr != nil {
			return fmt.Errorf("run migrations: %w", migrateErr)
		}
		cmdCtx.Logger.Info("migrations completed successfully")
		return nil
	})
}

func runDBReset(cmdCtx *commandContext, args []string) error {
	opts, err := parseDBResetFlags(args)
	if err != nil {
		return err
	}

	target := fmt.Sprintf(
		"database %q on %s:%d",
		cmdCtx.Config.Postgres.Name,
		cmdCtx.Config.Postgres.Host,
		cmdCtx.Config.Postgres.Port,
	)

	if _, guardErr := guardRemoteHost(cmdCtx, opts.AllowRemote, "drop and recreate the public schema"); guardErr != nil {
		return guardErr
	}
	if confirmErr := confirmAction(opts.Yes, "reset database schema", target); confirmErr != nil {
		return confirmErr
	}

	return withDatabase(cmdCtx, opts.Timeout, func(ctx context.Context, db *sql.DB) error {
		cmdCtx.Logger.Info("dropping public schema", "database", cmdCtx.Config.Postgres.Name)
		if resetErr := cmdCtx.resetDatabase(ctx, db); resetErr != nil {
			return resetErr
		}

		cmdCtx.Logger.Info("re-running database migrations")
		if migrateErr := bootstrap.RunMigrations(ctx, db, cmdCtx.Logger); migrateErr != nil {
			return fmt.Errorf("run migrations: %w", migrateErr)
		}

		if opts.Seed {
			cmdCtx.Logger.Info("seeding sample data after reset")
			if seedErr := seedSampleData(ctx, cmdCtx, db); seedErr != nil {
				return seedErr
			}
		}

		cmdCtx.Logger.Info("database reset completed successfully")
		return nil
	})
}

func runDBSeed(cmdCtx *commandContext, args []string) error {
	opts, err := parseDBSeedFlags(args)
	if err != nil {
		return err
	}

	if _, guardErr := guardRemoteHost(cmdCtx, opts.AllowRemote, "seed sample data on the configured database"); guardErr != nil {
		return guardErr
	}

	return withDatabase(cmdCtx, opts.Timeout, func(ctx context.Context, db *sql.DB) error {
		cmdCtx.Logger.Info("ensuring database migrations are current")
		if migrateErr := bootstrap.RunMigrations(ctx, db, cmdCtx.Logger); migrateErr != nil {
			return fmt.Errorf("run migrations: %w", migrateErr)
		}

		cmdCtx.Logger.Info("seeding sample templates and jobs")
		if seedErr := seedSampleData(ctx, cmdCtx, db); seedErr != nil {
			return seedErr
		}

		cmdCtx.Logger.Info("database seeding completed successfully")
		return nil
	})
}

func seedSampleData(ctx context.Context, cmdCtx *commandContext, db *sql.DB) error {
	store, err := bootstrap.BuildObjectStore(ctx, cmdCtx.Config.Storage, cmdCtx.Logger)
	if err != nil {
		return fmt.Errorf("build object store: %w", err)
	}
	svcs, err := devseed.NewServices(db, store)
	if err != nil {
		return err
	}
	if seedErr := devseed.Run(ctx, svcs, cmdCtx.Logger); seedErr != nil {
		return fmt.Errorf("seed data: %w", seedErr)
	}
	return nil
}

func runStats(cmdCtx *commandContext, _ []string) error {
	return withDatabase(cmdCtx, defaultCommandTimeout, func(ctx context.Context, db *sql.DB) error {
		repo := data.NewJobRepo(db, data.RepoConfig{Logger: cmdCtx.Logger})
		stats, err := repo.Stats(ctx)
		if err != nil {
			return fmt.Errorf("query job stats: %w", err)
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		rows := []struct {
			label string
			count int
		}{
			{"Queued", stats.Queued},
			{"Rendering", stats.Rendering},
			{"Assembling", stats.Assembling},
			{"Done", stats.Done},
			{"Failed", stats.Failed},
			{"Expired", stats.Expired},
		}
		if err := writeln(w, "Status\tJobs"); err != nil {
			return fmt.Errorf("print stats header: %w", err)
		}
		total := 0
		for _, row := range rows {
			total += row.count
			if err := writef(w, "%s\t%d\n", row.label, row.count); err != nil {
				return fmt.Errorf("print stats row: %w", err)
			}
		}
		if err := writef(w, "Total\t%d\n", total); err != nil {
			return fmt.Errorf("print stats total: %w", err)
		}
		if err := w.Flush(); err != nil {
			return fmt.Errorf("flush stats table: %w", err)
		}
		return nil
	})
}

const requeueFailedSQL = `
UPDATE vector_jobs
SET status = 'queued',
    attempts = 0,
    last_error = NULL,
    lease_expires_at = NULL,
    completed_at = NULL,
    scheduled_at = now(),
    updated_at = now()
WHERE status = 'failed'`

func runRequeueFailed(cmdCtx *commandContext, args []string) error {
	opts, err := parseRequeueFlags(args)
	if err != nil {
		return err
	}

	return withDatabase(cmdCtx, defaultCommandTimeout, func(ctx context.Context, db *sql.DB) error {
		query := requeueFailedSQL
		var queryArgs []any
		target := "all failed jobs"
		if opts.JobID != "" {
			query += " AND id = $1"
			queryArgs = append(queryArgs, opts.JobID)
			target = fmt.Sprintf("failed job %s", opts.JobID)
		}
		query += " RETURNING id"

		if opts.DryRun {
			return printRequeueDryRun(ctx, db, opts)
		}

		if confirmErr := confirmAction(opts.Yes, "requeue", target); confirmErr != nil {
			return confirmErr
		}

		rows, queryErr := db.QueryContext(ctx, query, queryArgs...)
		if queryErr != nil {
			return fmt.Errorf("requeue failed jobs: %w", queryErr)
		}
		defer func() {
			if cerr := rows.Close(); cerr != nil {
				cmdCtx.Logger.Warn("close requeue rows failed", "error", cerr)
			}
		}()

		var jobIDs []string
		for rows.Next() {
			var id string
			if scanErr := rows.Scan(&id); scanErr != nil {
				return fmt.Errorf("scan requeued job id: %w", scanErr)
			}
			jobIDs = append(jobIDs, id)
		}
		if rowsErr := rows.Err(); rowsErr != nil {
			return fmt.Errorf("iterate requeued jobs: %w", rowsErr)
		}

		cmdCtx.Logger.Info("requeue complete", "jobs_requeued", len(jobIDs))
		wakeRequeuedJobs(ctx, cmdCtx, jobIDs)
		return nil
	})
}

func printRequeueDryRun(ctx context.Context, db *sql.DB, opts requeueOptions) error {
	query := "SELECT count(*) FROM vector_jobs WHERE status = 'failed'"
	var queryArgs []any
	if opts.JobID != "" {
		query += " AND id = $1"
		queryArgs = append(queryArgs, opts.JobID)
	}
	var count int64
	if err := db.QueryRowContext(ctx, query, queryArgs...).Scan(&count); err != nil {
		return fmt.Errorf("count failed jobs: %w", err)
	}
	return writef(os.Stdout, "Dry-run: would requeue %d failed job(s)\n", count)
}

// wakeRequeuedJobs nudges workers over the wake channel so requeued jobs do
// not wait out a poll interval. Best effort: the database already holds the
// queued rows.
func wakeRequeuedJobs(ctx context.Context, cmdCtx *commandContext, jobIDs []string) {
	if len(jobIDs) == 0 {
		return
	}
	client, err := bootstrap.ConnectRedis(bootstrap.DatabaseConfig{
		RedisConfig: cmdCtx.Config.Redis,
		Logger:      cmdCtx.Logger,
	})
	if err != nil {
		cmdCtx.Logger.Warn("redis unavailable, workers will pick jobs up on their next poll", "error", err)
		return
	}
	defer func() {
		if cerr := client.Close(); cerr != nil {
			cmdCtx.Logger.Warn("redis close failed", "error", cerr)
		}
	}()

	queue := data.NewRedisQueueRepo(client)
	for _, id := range jobIDs {
		if enqErr := queue.Enqueue(ctx, id); enqErr != nil {
			cmdCtx.Logger.Warn("wake signal failed", "job_id", id, "error", enqErr)
			return
		}
	}
}

func runProbe(cmdCtx *commandContext, _ []string) error {
	cfg := cmdCtx.Config.Render
	if render.Engine(cfg.Engine) == render.EngineNative {
		return writeln(os.Stdout, "Renderer engine is native; no external binary to probe")
	}

	probe, err := render.NewProbe(render.ProbeOptions{
		Binary:          cfg.InkscapeBinary,
		Timeout:         cfg.ProbeTimeout,
		RecheckInterval: cfg.ProbeRecheckInterval,
		Logger:          cmdCtx.Logger,
	})
	if err != nil {
		return fmt.Errorf("build probe: %w", err)
	}

	ctx, cancel := context.WithTimeout(cmdCtx.Ctx, cfg.ProbeTimeout+time.Second)
	defer cancel()

	state := probe.Check(ctx)
	if err := writef(os.Stdout, "Renderer %q: %s\n", cfg.InkscapeBinary, state); err != nil {
		return fmt.Errorf("print probe result: %w", err)
	}
	if state != render.AvailabilityAvailable {
		return fmt.Errorf("renderer %q is %s", cfg.InkscapeBinary, state)
	}
	return nil
}

func parseMigrateFlags(args []string) (migrateOptions, error) {
	fs := flag.NewFlagSet("migrate", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	opts := migrateOptions{
		Timeout: defaultMigrationTimeout,
	}

	fs.DurationVar(
		&opts.Timeout,
		"timeout",
		defaultMigrationTimeout,
		"Maximum duration to wait for migrations to complete",
	)

	if err := fs.Parse(args); err != nil {
		return migrateOptions{}, err
	}

	if opts.Timeout <= 0 {
		return migrateOptions{}, errors.New("--timeout must be greater than zero")
	}

	return opts, nil
}

func parseDBResetFlags(args []string) (dbResetOptions, error) {
	fs := flag.NewFlagSet("db-reset", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	opts := dbResetOptions{
		Timeout: defaultMigrationTimeout,
	}

	fs.DurationVar(
		&opts.Timeout,
		"timeout",
		defaultMigrationTimeout,
		"Maximum duration to wait for reset operations to complete",
	)
	fs.BoolVar(
		&opts.Yes,
		"yes",
		false,
		"Skip confirmation prompt",
	)
	fs.BoolVar(
		&opts.Seed,
		"seed",
		false,
		"Run sample data seeding after reset completes",
	)
	fs.BoolVar(
		&opts.AllowRemote,
		"allow-remote",
		false,
		"Permit running against database hosts that do not look local",
	)

	if err := fs.Parse(args); err != nil {
		return dbResetOptions{}, err
	}

	if opts.Timeout <= 0 {
		return dbResetOptions{}, errors.New("--timeout must be greater than zero")
	}

	return opts, nil
}

func parseDBSeedFlags(args []string) (dbSeedOptions, error) {
	fs := flag.NewFlagSet("db-seed", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	opts := dbSeedOptions{
		Timeout: defaultMigrationTimeout,
	}

	fs.DurationVar(
		&opts.Timeout,
		"timeout",
		defaultMigrationTimeout,
		"Maximum duration to wait for seeding to complete",
	)
	fs.BoolVar(
		&opts.AllowRemote,
		"allow-remote",
		false,
		"Permit running against database hosts that do not look local",
	)

	if err := fs.Parse(args); err != nil {
		return dbSeedOptions{}, err
	}

	if opts.Timeout <= 0 {
		return dbSeedOptions{}, errors.New("--timeout must be greater than zero")
	}

	return opts, nil
}

func parseRequeueFlags(args []string) (requeueOptions, error) {
	fs := flag.NewFlagSet("requeue-failed", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var opts requeueOptions
	fs.StringVar(&opts.JobID, "job-id", "", "Requeue a single failed job by id")
	fs.BoolVar(&opts.All, "all", false, "Requeue every failed job")
	fs.BoolVar(&opts.DryRun, "dry-run", false, "Report how many jobs would be requeued without changing them")
	fs.BoolVar(&opts.Yes, "yes", false, "Skip confirmation prompt")

	if err := fs.Parse(args); err != nil {
		return requeueOptions{}, err
	}

	if opts.JobID == "" && !opts.All {
		return requeueOptions{}, errors.New("pass --job-id <id> or --all")
	}
	if opts.JobID != "" && opts.All {
		return requeueOptions{}, errors.New("--job-id and --all are mutually exclusive")
	}

	return opts, nil
}

func withDatabase(
	cmdCtx *commandContext,
	timeout time.Duration,
	f func(context.Context, *sql.DB) error,
) error {
	ctx, stop := signal.NotifyContext(cmdCtx.Ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	db, err := bootstrap.ConnectDB(bootstrap.DatabaseConfig{
		DBConfig: cmdCtx.Config.Postgres,
		Logger:   cmdCtx.Logger,
	})
	if err != nil {
		return fmt.Errorf("connect db: %w", err)
	}
	defer func() {
		if cerr := db.Close(); cerr != nil {
			cmdCtx.Logger.Warn("db close failed", "error", cerr)
		}
	}()

	return f(ctx, db)
}

func guardRemoteHost(cmdCtx *commandContext, allow bool, action string) (bool, error) {
	remote := isLikelyRemoteHost(cmdCtx.Config.Postgres.Host)
	if !remote {
		return false, nil
	}
	if !allow {
		return true, fmt.Errorf(
			"refusing to run against potentially remote database host %q; re-run with --allow-remote if this is intentional",
			cmdCtx.Config.Postgres.Host,
		)
	}
	if err := requireRemoteHostConfirmation(action, cmdCtx.Config.Postgres.Host); err != nil {
		return true, err
	}
	return true, nil
}

func (cmdCtx *commandContext) resetDatabase(ctx context.Context, db *sql.DB) error {
	if cmdCtx == nil {
		return errors.New("command context is required")
	}

	cfg := &cmdCtx.Config.Postgres
	statements := []string{
		"DROP SCHEMA public CASCADE",
		"CREATE SCHEMA public",
		"GRANT ALL ON SCHEMA public TO public",
	}
	if user := strings.TrimSpace(cfg.User); user != "" && !strings.EqualFold(user, "public") {
		statements = append(statements, "GRANT ALL ON SCHEMA public TO "+quoteIdentifier(user))
	}

	for _, stmt := range statements {
		if cmdCtx.Logger != nil {
			cmdCtx.Logger.DebugContext(ctx, "executing reset statement", "sql", stmt)
		}
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("exec %q: %w", stmt, err)
		}
	}
	return nil
}

func quoteIdentifier(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

func isLikelyRemoteHost(host string) bool {
	h := strings.ToLower(strings.TrimSpace(host))
	if h == "" {
		return false
	}
	switch h {
	case "localhost", "127.0.0.1", "::1", "host.docker.internal":
		return false
	}
	if ip := net.ParseIP(h); ip != nil {
		return !ip.IsLoopback() && !ip.IsPrivate()
	}
	if local := localHostname(); local != "" && strings.EqualFold(h, local) {
		return false
	}
	return !strings.HasSuffix(h, ".local")
}

func localHostname() string {
	host, err := os.Hostname()
	if err != nil {
		return ""
	}
	return host
}

func requireRemoteHostConfirmation(action, host string) error {
	if err := writef(
		os.Stdout,
		"WARNING: about to %s on remote host %q.\nType the host name to continue: ",
		action,
		host,
	); err != nil {
		return fmt.Errorf("print remote host warning: %w", err)
	}
	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil {
		return fmt.Errorf("read remote host confirmation: %w", err)
	}
	if strings.TrimSpace(line) != host {
		return errors.New("remote host confirmation did not match; aborting")
	}
	return nil
}

func confirmAction(yes bool, actionType, target string) error {
	if yes {
		return nil
	}
	if err := writef(os.Stdout, "About to %s for %s. Continue? [y/N]: ", actionType, target); err != nil {
		return fmt.Errorf("print confirmation message: %w", err)
	}
	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil {
		return fmt.Errorf("read confirmation: %w", err)
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	if answer != "y" && answer != "yes" {
		return errors.New("aborted")
	}
	return nil
}

func writef(w io.Writer, format string, args ...any) error {
	_, err := fmt.Fprintf(w, format, args...)
	return err
}

func writeln(w io.Writer, args ...any) error {
	if len(args) == 0 {
		_, err := fmt.Fprintln(w)
		return err
	}
	_, err := fmt.Fprintln(w, args...)
	return err
}
