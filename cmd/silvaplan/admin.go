package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/ctessum/geom"

	"github.com/silvaplan/silvaplan/internal/adapter/postgres"
	"github.com/silvaplan/silvaplan/internal/config"
	"github.com/silvaplan/silvaplan/internal/domain/stand"
	"github.com/silvaplan/silvaplan/internal/standindex"
)

// runMigrate dispatches migration subcommands (up, down, version).
func runMigrate(args []string) error {
	if len(args) == 0 || args[0] == "help" || args[0] == "--help" {
		printMigrateHelp()
		return nil
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	ctx := context.Background()

	switch args[0] {
	case "up":
		if err := postgres.RunMigrations(ctx, cfg.Postgres.DSN); err != nil {
			return err
		}
		fmt.Fprintln(os.Stderr, "migrations applied")
		return nil
	case "down":
		fs := flag.NewFlagSet("down", flag.ContinueOnError)
		steps := fs.Int("steps", 1, "number of migrations to roll back")
		if err := fs.Parse(args[1:]); err != nil {
			return err
		}
		if err := postgres.RollbackMigrations(ctx, cfg.Postgres.DSN, *steps); err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "rolled back %d migration(s)\n", *steps)
		return nil
	case "version":
		v, err := postgres.MigrationVersion(ctx, cfg.Postgres.DSN)
		if err != nil {
			return err
		}
		fmt.Println(v)
		return nil
	default:
		printMigrateHelp()
		return fmt.Errorf("unknown migrate command: %s", args[0])
	}
}

func printMigrateHelp() {
	fmt.Fprintf(os.Stderr, `Usage: silvaplan migrate <command> [options]

Commands:
  up               Apply all pending migrations
  down [--steps N] Roll back N migrations (default 1)
  version          Print the current migration version

Examples:
  silvaplan migrate up
  silvaplan migrate down --steps 2
  silvaplan migrate version
`)
}

// runSeedStands tiles a bounding box with a hex grid of the given size and
// inserts the cells. Seeding the same box twice fails on the (size, geometry)
// unique constraint, which keeps the grids immutable.
func runSeedStands(args []string) error {
	fs := flag.NewFlagSet("seed-stands", flag.ContinueOnError)
	sizeArg := fs.String("size", "", "stand size: SMALL, MEDIUM or LARGE (required)")
	minX := fs.Float64("minx", 0, "bounding box min X in the internal CRS (required)")
	minY := fs.Float64("miny", 0, "bounding box min Y in the internal CRS (required)")
	maxX := fs.Float64("maxx", 0, "bounding box max X in the internal CRS (required)")
	maxY := fs.Float64("maxy", 0, "bounding box max Y in the internal CRS (required)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	size, err := stand.ParseSize(*sizeArg)
	if err != nil {
		return fmt.Errorf("--size: %w", err)
	}
	if *maxX <= *minX || *maxY <= *minY {
		return fmt.Errorf("bounding box is empty")
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx := context.Background()
	pool, err := postgres.NewPool(ctx, cfg.Postgres)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer pool.Close()
	store := postgres.NewStore(pool)

	bounds := &geom.Bounds{
		Min: geom.Point{X: *minX, Y: *minY},
		Max: geom.Point{X: *maxX, Y: *maxY},
	}
	stands := standindex.Grid(bounds, size)
	if len(stands) == 0 {
		return fmt.Errorf("bounding box produced no cells")
	}

	const batch = 5000
	for i := 0; i < len(stands); i += batch {
		end := min(i+batch, len(stands))
		if err := store.CreateStands(ctx, stands[i:end]); err != nil {
			return fmt.Errorf("insert stands [%d:%d]: %w", i, end, err)
		}
	}

	fmt.Fprintf(os.Stderr, "seeded %d %s stands\n", len(stands), size)
	return nil
}
