package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/uptrace/bun"

	"github.com/goliatone/go-query-cache/cache"
	"github.com/goliatone/go-query-cache/pkg/bunexec"
	"github.com/goliatone/go-query-cache/pkg/di"
	"github.com/goliatone/go-query-cache/pkg/metrics"
)

type demoUser struct {
	bun.BaseModel `bun:"table:demo_users"`

	ID    string `bun:"id,pk"`
	Name  string `bun:"name"`
	Email string `bun:"email"`
}

type demoOrder struct {
	bun.BaseModel `bun:"table:demo_orders"`

	ID     string `bun:"id,pk"`
	UserID string `bun:"user_id"`
	Total  int64  `bun:"total"`
}

// demoStep is one call of the scripted workload.
type demoStep struct {
	write bool
	query string
	args  []any
}

func demoCmd(v *viper.Viper) *cobra.Command {
	var users int

	cmd := &cobra.Command{
		Use:   "demo",
		Short: "Run a scripted workload through the cache against a real database",
		RunE: func(cmd *cobra.Command, _ []string) error {
			s := loadSettings(v)
			cfg, err := s.cacheConfig(cmd.ErrOrStderr())
			if err != nil {
				return err
			}

			db, err := openDB(v.GetString(keyDriver), v.GetString(keyDSN))
			if err != nil {
				return err
			}
			defer db.Close()

			ctx := cmd.Context()
			ids, err := seedDemo(ctx, db, users)
			if err != nil {
				return err
			}

			container, err := di.NewContainer(bunexec.New(db), cfg)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if err := runDemo(ctx, out, container.Executor(), demoScript(ids)); err != nil {
				return err
			}
			fmt.Fprintln(out)
			printStats(out, container.Executor().Stats())

			if addr := v.GetString(keyMetricsAddr); addr != "" {
				return serveMetrics(ctx, cfg.Logger.Info, addr, container.Collector())
			}
			return nil
		},
	}

	flags := cmd.Flags()
	flags.String(keyDriver, "sqlite", "database driver: sqlite, sqlite3, postgres or pgx")
	flags.String(keyDSN, ":memory:", "database connection string")
	flags.String(keyMetricsAddr, "", "serve Prometheus metrics on this address after the run")
	flags.IntVar(&users, "users", 3, "number of users to seed")
	_ = v.BindPFlags(flags)
	return cmd
}

func seedDemo(ctx context.Context, db *bun.DB, n int) ([]string, error) {
	if n < 1 {
		return nil, errors.New("--users must be at least 1")
	}
	for _, model := range []any{(*demoUser)(nil), (*demoOrder)(nil)} {
		if _, err := db.NewCreateTable().Model(model).IfNotExists().Exec(ctx); err != nil {
			return nil, fmt.Errorf("create table: %w", err)
		}
	}

	rows := make([]demoUser, n)
	ids := make([]string, n)
	for i := range rows {
		ids[i] = uuid.NewString()
		rows[i] = demoUser{
			ID:    ids[i],
			Name:  fmt.Sprintf("User %d", i+1),
			Email: fmt.Sprintf("user%d@example.com", i+1),
		}
	}
	if _, err := db.NewInsert().Model(&rows).Exec(ctx); err != nil {
		return nil, fmt.Errorf("seed users: %w", err)
	}
	return ids, nil
}

func demoScript(ids []string) []demoStep {
	const (
		byID   = "SELECT name, email FROM demo_users WHERE id = ?"
		totals = "SELECT u.name, count(o.id) FROM demo_users u LEFT JOIN demo_orders o ON o.user_id = u.id GROUP BY u.name ORDER BY u.name"
		count  = "SELECT count(*) FROM demo_users"
	)
	first := ids[0]
	return []demoStep{
		{query: byID, args: []any{first}},
		{query: byID, args: []any{first}},
		{query: totals},
		{query: count},
		{write: true, query: "INSERT INTO demo_orders (id, user_id, total) VALUES (?, ?, ?)", args: []any{uuid.NewString(), first, 1999}},
		{query: totals},
		{query: byID, args: []any{first}},
		{write: true, query: "UPDATE demo_users SET name = ? WHERE id = ?", args: []any{"Renamed", first}},
		{query: byID, args: []any{first}},
		{query: count},
	}
}

func runDemo(ctx context.Context, w io.Writer, exec *cache.CachedExecutor, steps []demoStep) error {
	for _, step := range steps {
		before := exec.Stats()
		if step.write {
			n, err := exec.Write(ctx, step.query, step.args...)
			if err != nil {
				return err
			}
			purged := exec.Stats().Invalidations - before.Invalidations
			fmt.Fprintf(w, "write   %d affected, %d purged  %s\n", n, purged, step.query)
			continue
		}

		start := time.Now()
		rows, err := exec.Read(ctx, step.query, step.args...)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "read    %-6s %d rows %8s  %s\n",
			readOutcome(before, exec.Stats()), rows.Len(), time.Since(start).Round(time.Microsecond), step.query)
	}
	return nil
}

func readOutcome(before, after cache.StatsSnapshot) string {
	switch {
	case after.Hits > before.Hits:
		return "hit"
	case after.Bypassed > before.Bypassed:
		return "bypass"
	case after.Misses > before.Misses:
		return "miss"
	default:
		return "direct"
	}
}

func serveMetrics(ctx context.Context, logf func(string, ...any), addr string, collector *metrics.Collector) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           metrics.Handler(metrics.NewRegistry(collector)),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logf("serving metrics", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
