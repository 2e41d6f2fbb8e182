package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/erazemk/boxanizer/internal/api"
	"github.com/erazemk/boxanizer/internal/auth"
	"github.com/erazemk/boxanizer/internal/backup"
	"github.com/erazemk/boxanizer/internal/blob"
	"github.com/erazemk/boxanizer/internal/config"
	"github.com/erazemk/boxanizer/internal/db"
	"github.com/erazemk/boxanizer/internal/metrics"
	"github.com/erazemk/boxanizer/internal/seed"
	"github.com/erazemk/boxanizer/internal/store"
)

const usage = `Usage: boxanizer [command] [flags]

Commands:
  serve              run the HTTP API (default)
  import <file>      import boxes and items from a JSONC seed file
  backup             write a backup archive to the blob store
  restore [key]      replace all data with a backup (default: newest)
  backups            list stored backups

Every flag can also be set as BOXANIZER_<FLAG> (e.g. BOXANIZER_DB) or in the
YAML file given by --config.

Flags:
`

func main() {
	command, args := "serve", os.Args[1:]
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		command, args = args[0], args[1:]
	}
	if command == "help" {
		printUsage(config.NewFlagSet("boxanizer", config.Default(), new(string)))
		return
	}

	cfg, fs, err := config.Load("boxanizer "+command, args, os.LookupEnv)
	if errors.Is(err, pflag.ErrHelp) {
		printUsage(fs)
		return
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	closeLog, err := setupLogger(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	defer closeLog()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, command, cfg, fs.Args()); err != nil {
		slog.Error("command failed", "command", command, "error", err)
		closeLog()
		os.Exit(1)
	}
}

func printUsage(fs *pflag.FlagSet) {
	fmt.Fprint(os.Stdout, usage)
	fmt.Fprint(os.Stdout, fs.FlagUsages())
}

func run(ctx context.Context, command string, cfg *config.Config, args []string) error {
	switch command {
	case "serve", "import", "backup", "restore", "backups":
	default:
		return fmt.Errorf("unknown command %q", command)
	}

	database, err := openDatabase(ctx, cfg)
	if err != nil {
		return err
	}
	defer database.Close()

	switch command {
	case "serve":
		return serve(ctx, cfg, database)
	case "import":
		if len(args) != 1 {
			return errors.New("import needs exactly one seed file")
		}
		return importSeed(ctx, database, args[0])
	default:
		return runBackup(ctx, command, cfg, database, args)
	}
}

// openDatabase opens and migrates the configured database and creates the
// owner account on first run.
func openDatabase(ctx context.Context, cfg *config.Config) (*db.DB, error) {
	database, err := db.OpenDialect(ctx, cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(database); err != nil {
		database.Close()
		return nil, err
	}
	slog.Info("database ready", "driver", cfg.Database.Driver)

	if err := ensureOwner(ctx, database, cfg.Owner); err != nil {
		database.Close()
		return nil, err
	}
	return database, nil
}

func ensureOwner(ctx context.Context, database *db.DB, username string) error {
	existing, _, err := store.GetOwner(ctx, database)
	if err != nil {
		return fmt.Errorf("reading owner: %w", err)
	}
	if existing != "" {
		return nil
	}

	password, err := auth.GeneratePassword(16)
	if err != nil {
		return err
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		return err
	}
	if err := store.SetOwner(ctx, database, username, hash); err != nil {
		return fmt.Errorf("creating owner: %w", err)
	}

	fmt.Println("Owner account created:")
	fmt.Printf("  Username: %s\n", username)
	fmt.Printf("  Password: %s\n", password)
	fmt.Println()
	fmt.Println("Save this password, it cannot be recovered.")
	fmt.Println("It can be changed after logging in.")
	fmt.Println()
	return nil
}

func serve(ctx context.Context, cfg *config.Config, database *db.DB) error {
	jwtSecret, err := store.GetJWTSecret(ctx, database)
	if err != nil {
		return fmt.Errorf("loading JWT secret: %w", err)
	}

	var boxes store.BoxRepository = &store.Boxes{DB: database}
	if cfg.Redis.Addr != "" {
		rdb := store.NewRedis(cfg.Redis.Addr, cfg.Redis.User, cfg.Redis.Password)
		defer rdb.Close()

		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		if err := rdb.Ping(pingCtx).Err(); err != nil {
			slog.Warn("redis unreachable, box code cache will fall through", "addr", cfg.Redis.Addr, "error", err)
		}
		cancel()
		boxes = &store.CachedBoxes{BoxRepository: boxes, Redis: rdb}
		slog.Info("box code cache enabled", "addr", cfg.Redis.Addr)
	}

	router := api.NewRouter(api.Config{
		DB:        database,
		JWTSecret: jwtSecret,
		TokenTTL:  cfg.TokenTTL,
		Boxes:     boxes,
		Metrics:   metrics.New(),
	})
	go router.Sessions.RunJanitor(ctx, cfg.Sessions.IdleTimeout/2, cfg.Sessions.IdleTimeout)

	server := &http.Server{
		Addr:              cfg.Listen,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		<-ctx.Done()
		slog.Info("shutdown signal received")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server forced to shutdown", "error", err)
		}
	}()

	slog.Info("server started", "addr", cfg.Listen)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	router.Sessions.CloseAll()
	slog.Info("server stopped, closing database")
	return nil
}

func importSeed(ctx context.Context, database *db.DB, path string) error {
	f, err := seed.ReadFile(path)
	if err != nil {
		return err
	}
	report, err := seed.Import(ctx, database, &store.Boxes{DB: database}, f)
	if err != nil {
		return err
	}

	fmt.Printf("Imported %d boxes and %d items from %s\n", report.Boxes, report.Items, path)
	for _, s := range report.Skipped {
		fmt.Printf("  skipped %s: %s\n", s.Path, s.Reason)
	}
	return nil
}

func runBackup(ctx context.Context, command string, cfg *config.Config, database *db.DB, args []string) error {
	compression, err := backup.ParseCompression(cfg.Backup.Compression)
	if err != nil {
		return err
	}
	blobs, err := blob.Open(ctx, cfg.Blob)
	if err != nil {
		return err
	}

	m := &backup.Manager{
		DB:    database,
		Blobs: blobs,
		Options: backup.EncodeOptions{
			Compression: compression,
			Passphrase:  cfg.Backup.Passphrase,
		},
	}

	switch command {
	case "backup":
		info, err := m.Backup(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("Backup written: %s\n", info.Key)
		fmt.Printf("  %d boxes, %d items, %d placements, %d bytes\n", info.Boxes, info.Items, info.Placements, info.Size)
		fmt.Printf("  blake3: %s\n", info.Hash)

	case "restore":
		var key string
		if len(args) > 0 {
			key = args[0]
		}
		info, err := m.Restore(ctx, key)
		if err != nil {
			return err
		}
		fmt.Printf("Restored %s (taken %s)\n", info.Key, info.CreatedAt.Format(time.RFC3339))

	case "backups":
		infos, err := m.List(ctx)
		if err != nil {
			return err
		}
		if len(infos) == 0 {
			fmt.Println("No backups.")
		}
		for _, info := range infos {
			fmt.Printf("%s  %8d bytes  %d boxes  %d items\n", info.Key, info.Size, info.Boxes, info.Items)
		}
	}
	return nil
}
