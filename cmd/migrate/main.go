package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/mirajehossain/datamigratex/internal/catalog"
	"github.com/mirajehossain/datamigratex/internal/config"
	"github.com/mirajehossain/datamigratex/internal/httpapi"
	"github.com/mirajehossain/datamigratex/internal/logger"
	"github.com/mirajehossain/datamigratex/internal/metrics"
	"github.com/mirajehossain/datamigratex/internal/migrator"
)

const (
	exitOK      = 0
	exitUnknown = 3
	exitFail    = 4
	exitUsage   = 5
)

func main() {
	os.Exit(run(os.Args[1:]))
}

// argCount is the number of positional arguments each command takes; -1 means one or more.
var argCount = map[string]int{
	"up": 0, "status": 0, "list": 0, "applied": 0, "version": 0, "serve": 0,
	"run": 1, "baseline": 1, "create": 1,
	"check": -1,
}

func run(args []string) int {
	if len(args) < 1 || args[0] == "-h" || args[0] == "--help" || args[0] == "help" {
		usage()
		return exitOK
	}
	cmd := args[0]
	want, known := argCount[cmd]
	if !known {
		fmt.Fprintf(os.Stderr, "unknown command %q\n", cmd)
		usage()
		return exitUsage
	}
	positional, rest := splitArgs(args[1:])
	if (want >= 0 && len(positional) != want) || (want < 0 && len(positional) == 0) {
		fmt.Fprintf(os.Stderr, "%s: wrong number of arguments\n", cmd)
		return exitUsage
	}

	global := flag.NewFlagSet("global", flag.ContinueOnError)
	conf := global.String("config", "", "Optional YAML config path")
	envFile := global.String("env-file", ".env", "Optional .env file")
	backend := global.String("backend", "", "Store backend: memory|mysql|postgres|sqlite|redis (or MIGRATE_BACKEND)")
	dsn := global.String("dsn", "", "Database DSN (or DB_DSN)")
	redisAddr := global.String("redis-addr", "", "Redis address (or REDIS_ADDR)")
	table := global.String("table", "", "Registry table name (or REGISTRY_TABLE)")
	addr := global.String("addr", "", "Admin listen address for serve (or ADMIN_ADDR)")
	jsonOut := global.Bool("json", false, "JSON logs and output")
	dryRun := global.Bool("dry-run", false, "Plan only; do not execute")
	verbose := global.Bool("verbose", false, "Debug logs")
	retry := global.Bool("retry-unfinished", false, "Bulk runs also pick up claimed migrations that never succeeded")
	dir := global.String("dir", "./internal/catalog", "Output directory for create")
	pkg := global.String("package", "catalog", "Go package name for create")
	if err := global.Parse(rest); err != nil {
		return exitUsage
	}

	if err := config.LoadDotEnv(*envFile); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitUsage
	}
	cfg, err := config.LoadYAML(*conf)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitUsage
	}
	cfg = config.MergeEnv(cfg)
	if *backend != "" {
		cfg.Backend = *backend
	}
	if *dsn != "" {
		cfg.DSN = *dsn
	}
	if *redisAddr != "" {
		cfg.RedisAddr = *redisAddr
	}
	if *table != "" {
		cfg.RegistryTable = *table
	}
	if *addr != "" {
		cfg.AdminAddr = *addr
	}
	cfg.JSON = cfg.JSON || *jsonOut
	cfg.DryRun = cfg.DryRun || *dryRun
	cfg.Verbose = cfg.Verbose || *verbose
	cfg.RetryUnfinished = cfg.RetryUnfinished || *retry

	log := logger.New(cfg.JSON)
	log.SetVerbose(cfg.Verbose)

	if cmd == "create" {
		path, err := createDefinition(*dir, *pkg, positional[0])
		if err != nil {
			log.Error("create failed", map[string]any{"error": err.Error()})
			return exitFail
		}
		log.Info("created migration", map[string]any{"path": path})
		return exitOK
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitUsage
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	st, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		log.Error("store open failed", map[string]any{"backend": cfg.Backend, "error": err.Error()})
		return exitFail
	}
	defer closeStore()

	if err := catalog.EnsureTables(ctx, st); err != nil {
		log.Error("ensure tables failed", map[string]any{"error": err.Error()})
		return exitFail
	}
	reg, err := migrator.NewRegistry(ctx, st, cfg.RegistryTable)
	if err != nil {
		log.Error("registry init failed", map[string]any{"error": err.Error()})
		return exitFail
	}
	collector := metrics.NewCollector()
	runner, err := migrator.NewRunner(catalog.Definitions(), reg,
		migrator.WithLogger(log),
		migrator.WithMetrics(collector),
		migrator.WithEnv(st),
		migrator.WithRetryUnfinished(cfg.RetryUnfinished),
	)
	if err != nil {
		log.Error("invalid migration catalog", map[string]any{"error": err.Error()})
		return exitUsage
	}

	out := newPrinter(os.Stdout, cfg.JSON)

	switch cmd {
	case "up":
		if cfg.DryRun {
			plan, err := runner.Plan(ctx)
			if err != nil {
				log.Error("plan failed", map[string]any{"error": err.Error()})
				return exitUsage
			}
			out.plan(plan)
			return exitOK
		}
		res, err := runner.RunPending(ctx)
		out.runResult(res)
		if err != nil {
			log.Error("up failed", map[string]any{"error": err.Error()})
			return exitFail
		}
		if !res.Success {
			return exitFail
		}
		return exitOK
	case "run":
		res, err := runner.RunOne(ctx, positional[0])
		out.targeted(res)
		if errors.Is(err, migrator.ErrUnknownMigration) {
			return exitUnknown
		}
		if err != nil {
			log.Error("run failed", map[string]any{"migration_id": positional[0], "error": err.Error()})
			return exitFail
		}
		if !res.Success {
			return exitFail
		}
		return exitOK
	case "status":
		plan, err := runner.Plan(ctx)
		if err != nil {
			log.Error("status failed", map[string]any{"error": err.Error()})
			return exitUsage
		}
		out.plan(plan)
		return exitOK
	case "list":
		out.definitions(runner.Definitions())
		return exitOK
	case "applied":
		records, err := reg.ListApplied(ctx)
		if err != nil {
			log.Error("applied failed", map[string]any{"error": err.Error()})
			return exitFail
		}
		out.records(records)
		return exitOK
	case "version":
		v, err := reg.CurrentVersion(ctx)
		if err != nil {
			log.Error("version failed", map[string]any{"error": err.Error()})
			return exitFail
		}
		out.version(v)
		return exitOK
	case "check":
		check, err := reg.CheckPrerequisites(ctx, positional)
		if err != nil {
			log.Error("check failed", map[string]any{"error": err.Error()})
			return exitFail
		}
		out.prerequisites(check)
		if !check.AllApplied {
			return exitFail
		}
		return exitOK
	case "baseline":
		err := runner.Baseline(ctx, positional[0])
		if errors.Is(err, migrator.ErrUnknownMigration) {
			log.Error("baseline failed", map[string]any{"migration_id": positional[0], "error": err.Error()})
			return exitUnknown
		}
		if err != nil {
			log.Error("baseline failed", map[string]any{"migration_id": positional[0], "error": err.Error()})
			return exitFail
		}
		log.Info("baseline complete", map[string]any{"migration_id": positional[0]})
		return exitOK
	case "serve":
		handler := httpapi.NewHandler(runner, collector, log, cfg.CORSOrigins).Routes()
		if err := httpapi.Serve(ctx, cfg.AdminAddr, handler, log); err != nil {
			log.Error("serve failed", map[string]any{"error": err.Error()})
			return exitFail
		}
		return exitOK
	}
	return exitUsage
}

// splitArgs separates leading positional arguments from flags.
func splitArgs(args []string) (positional, flags []string) {
	for i, a := range args {
		if strings.HasPrefix(a, "-") {
			return args[:i], args[i:]
		}
	}
	return args, nil
}

func usage() {
	fmt.Println(`datamigratex - versioned data migration runner

USAGE:
  migrate <command> [args] [--flags]

COMMANDS:
  up                        Apply all pending migrations (--dry-run prints the plan)
  run <id>                  Run one migration, ignoring prerequisites and existing records
  status                    Show applied/pending/blocked state per migration
  list                      List the migration catalog
  applied                   List registry records
  version                   Print the highest recorded version
  check <id>...             Report which of the ids have no registry record
  baseline <id>             Record a migration as applied without running it
  create <name>             Scaffold a Go migration definition
  serve                     Start the admin HTTP API

GLOBAL FLAGS:
  --backend <name>          memory|mysql|postgres|sqlite|redis (or MIGRATE_BACKEND)
  --dsn <dsn>               SQL DSN (or DB_DSN)
  --redis-addr <addr>       Redis address (or REDIS_ADDR)
  --table <name>            Registry table (default migrations_registry)
  --addr <addr>             Admin listen address (default :8089)
  --config <path>           Optional YAML config path
  --env-file <path>         Optional .env file (default .env)
  --json                    JSON logs and output
  --dry-run                 Plan only; don't execute
  --retry-unfinished        Let up retry claimed migrations that never succeeded
  --verbose                 Debug logs
  --dir <path>              Output directory for create (default ./internal/catalog)
  --package <name>          Package name for create (default catalog)

EXIT CODES:
  0 ok, 3 unknown migration, 4 migration or store failure, 5 usage or plan error

EXAMPLES:
  migrate up --backend mysql --dsn "$DSN"
  migrate up --backend sqlite --dsn ./app.db --dry-run
  migrate run fix_playlist_video_refs --backend redis --redis-addr localhost:6379
  migrate check fix_user_stats_field_names backfill_user_stats_totals --json
  migrate create add_course_slugs --dir ./internal/catalog
  migrate serve --backend postgres --dsn "$DSN" --addr :8089`)
}
