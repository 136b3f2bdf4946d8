package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"tessera.social/internal/migrate"
	"tessera.social/internal/obs"
	"tessera.social/migrations"
)

func main() {
	log := obs.NewLogger("tessera-migrate", os.Getenv("ENV"), os.Getenv("LOG_LEVEL"), os.Stderr)
	var (
		dsn            = flag.String("dsn", os.Getenv("DATABASE_URL"), "PostgreSQL DSN")
		migrationsPath = flag.String("migrations", "", "directory of SQL migrations (defaults to the embedded set)")
		seedsPath      = flag.String("seeds", "", "directory of SQL seed files")
		timeout        = flag.Duration("timeout", 30*time.Second, "overall deadline")
	)
	flag.Parse()

	if *dsn == "" {
		log.Fatal().Msg("missing DSN: provide via -dsn or DATABASE_URL")
	}
	if flag.NArg() == 0 {
		log.Fatal().Msg("usage: migrate [up|down|seed|status]")
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	db, err := sql.Open("pgx", *dsn)
	if err != nil {
		log.Fatal().Err(err).Msg("open db")
	}
	defer db.Close()

	var migrationsFS fs.FS = migrations.SQL()
	if *migrationsPath != "" {
		migrationsFS = os.DirFS(*migrationsPath)
	}
	var seedsFS fs.FS
	if *seedsPath != "" {
		seedsFS = os.DirFS(*seedsPath)
	}
	mgr := migrate.NewManager(db, migrationsFS, seedsFS)

	cmd := flag.Arg(0)
	switch cmd {
	case "up":
		err = mgr.Up(ctx)
	case "down":
		err = mgr.Down(ctx)
	case "seed":
		err = mgr.Seed(ctx)
	case "status":
		var history []string
		history, err = mgr.Status(ctx)
		if err == nil {
			for _, item := range history {
				fmt.Println(item)
			}
		}
	default:
		log.Fatal().Str("command", cmd).Msg("unknown command")
	}
	if err != nil {
		log.Fatal().Err(err).Str("command", cmd).Msg("migrate failed")
	}
	log.Info().Str("command", cmd).Msg("done")
}
