// Command moviesearch loads the movie catalogue into the prefix index, runs a
// few lookups, bumps one title and shows how the ranking changes.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/Adithya-Monish-Kumar-K/prefix-search/internal/catalog"
	"github.com/Adithya-Monish-Kumar-K/prefix-search/internal/search"
	"github.com/Adithya-Monish-Kumar-K/prefix-search/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/prefix-search/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/prefix-search/pkg/postgres"
	pkgredis "github.com/Adithya-Monish-Kumar-K/prefix-search/pkg/redis"
)

// bumpTarget is the title promoted between the two rounds of lookups.
var bumpTarget = search.Record{ID: 5, Name: "Kill Bill 2"}

type options struct {
	configPath string
	store      string
	seed       bool
}

func main() {
	var opts options
	flag.StringVar(&opts.configPath, "config", "", "path to config file (defaults when empty)")
	flag.StringVar(&opts.store, "store", "redis", "index store: redis, or memory for an embedded server")
	flag.BoolVar(&opts.seed, "seed-postgres", false, "upsert the sample movies into the postgres catalogue first")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := run(ctx, opts, os.Stdout)
	stop()
	if err != nil {
		slog.Error("moviesearch failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, opts options, w io.Writer) error {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)

	var store *pkgredis.Client
	switch opts.store {
	case "redis":
		store, err = pkgredis.NewClient(cfg.Redis)
	case "memory":
		store, err = pkgredis.NewEmbedded(cfg.Redis)
	default:
		return fmt.Errorf("unknown store %q (want redis or memory)", opts.store)
	}
	if err != nil {
		return fmt.Errorf("connecting to %s store: %w", opts.store, err)
	}
	defer store.Close()

	var source catalog.Source = catalog.SampleMovies()
	if cfg.Postgres.Enabled() {
		db, err := postgres.New(cfg.Postgres)
		if err != nil {
			return fmt.Errorf("connecting to postgres: %w", err)
		}
		defer db.Close()
		pg := catalog.NewPostgresSource(db)
		if opts.seed {
			if err := pg.EnsureSchema(ctx); err != nil {
				return fmt.Errorf("preparing catalogue schema: %w", err)
			}
			if err := pg.Seed(ctx, catalog.SampleMovies()); err != nil {
				return fmt.Errorf("seeding catalogue: %w", err)
			}
		}
		source = pg
	}

	return demo(ctx, search.New(store, store, cfg.Search), source, w)
}

func demo(ctx context.Context, idx *search.Index, source catalog.Source, w io.Writer) error {
	records, err := source.Records(ctx)
	if err != nil {
		return fmt.Errorf("reading catalogue: %w", err)
	}
	if err := idx.ClearAndReload(ctx, records); err != nil {
		return err
	}
	fmt.Fprintf(w, "indexed %d movies\n\n", len(records))

	for _, q := range [][]string{{"kil"}, {"dar"}} {
		if err := lookup(ctx, idx, w, q); err != nil {
			return err
		}
	}

	if err := idx.BumpScore(ctx, bumpTarget.Name, bumpTarget.ID, idx.DefaultBump()); err != nil {
		return err
	}
	fmt.Fprintf(w, "bumped %q (id %d) by %g\n\n", bumpTarget.Name, bumpTarget.ID, idx.DefaultBump())

	return lookup(ctx, idx, w, []string{"ki", "bi"})
}

func lookup(ctx context.Context, idx *search.Index, w io.Writer, prefixes []string) error {
	results, err := idx.FindByPrefixes(ctx, prefixes)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "[%s] %d result(s)\n", strings.Join(prefixes, ", "), len(results))
	for i, r := range results {
		if r == nil {
			fmt.Fprintf(w, "  %d. (missing)\n", i+1)
			continue
		}
		fmt.Fprintf(w, "  %d. %s (%d) id=%d\n", i+1, r.Name, r.Year, r.ID)
	}
	fmt.Fprintln(w)
	return nil
}
