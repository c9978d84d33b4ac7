package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/goliatone/go-query-cache/cache"
	"github.com/goliatone/go-query-cache/internal/sqltables"
	"github.com/goliatone/go-query-cache/pkg/di"
)

type replayReport struct {
	Reads  int                 `json:"reads"`
	Writes int                 `json:"writes"`
	Stats  cache.StatsSnapshot `json:"stats"`
}

func statsCmd(v *viper.Viper) *cobra.Command {
	var (
		repeat int
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:   "stats [statement-log]",
		Short: "Replay a statement log through the cache and report its counters",
		Long: "Replay one statement per line through a cache fronting a no-op database\n" +
			"and print the resulting statistics. Lines starting with -- are skipped.\n" +
			"Reads the log from standard input when no file is given.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s := loadSettings(v)
			cfg, err := s.cacheConfig(cmd.ErrOrStderr())
			if err != nil {
				return err
			}

			in := cmd.InOrStdin()
			if len(args) == 1 {
				f, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer f.Close()
				in = f
			}
			statements, err := readStatementLog(in)
			if err != nil {
				return err
			}

			container, err := di.NewContainer(noopDatabase(), cfg)
			if err != nil {
				return err
			}
			report, err := replay(cmd.Context(), container.Executor(), statements, repeat)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(report)
			}
			fmt.Fprintf(out, "replayed %d reads and %d writes\n\n", report.Reads, report.Writes)
			printStats(out, report.Stats)
			return nil
		},
	}

	cmd.Flags().IntVar(&repeat, "repeat", 1, "number of passes over the log")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}

func readStatementLog(r io.Reader) ([]string, error) {
	var statements []string
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "--") {
			continue
		}
		statements = append(statements, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read statement log: %w", err)
	}
	return statements, nil
}

func replay(ctx context.Context, exec *cache.CachedExecutor, statements []string, repeat int) (replayReport, error) {
	var report replayReport
	for pass := 0; pass < repeat; pass++ {
		for _, sql := range statements {
			if isRead(sql) {
				report.Reads++
				if _, err := exec.Read(ctx, sql); err != nil {
					return report, err
				}
				continue
			}
			report.Writes++
			if _, err := exec.Write(ctx, sql); err != nil {
				return report, err
			}
		}
	}
	report.Stats = exec.Stats()
	return report, nil
}

// isRead reports whether sql only queries. Anything the classifier cannot
// place is replayed as a write so it flushes the cache.
func isRead(sql string) bool {
	a := sqltables.Classify(sql)
	if a.AllWrites || len(a.Writes) > 0 {
		return false
	}
	for _, k := range a.Kinds {
		if k != sqltables.StatementSelect {
			return false
		}
	}
	return true
}

func noopDatabase() cache.RawExecutor {
	return cache.ExecutorFuncs{
		QueryFunc: func(context.Context, string, ...any) (cache.RowSet, error) {
			return cache.RowSet{Columns: []string{"n"}, Rows: [][]any{{int64(1)}}}, nil
		},
		ExecFunc: func(context.Context, string, ...any) (int64, error) {
			return 1, nil
		},
	}
}

func printStats(w io.Writer, s cache.StatsSnapshot) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "requests\t%d\n", s.TotalRequests)
	fmt.Fprintf(tw, "hits\t%d\n", s.Hits)
	fmt.Fprintf(tw, "misses\t%d\n", s.Misses)
	fmt.Fprintf(tw, "hit rate\t%.2f\n", s.HitRate)
	fmt.Fprintf(tw, "evictions\t%d\n", s.Evictions)
	fmt.Fprintf(tw, "invalidations\t%d\n", s.Invalidations)
	fmt.Fprintf(tw, "unclassified\t%d\n", s.Unclassified)
	fmt.Fprintf(tw, "bypassed\t%d\n", s.Bypassed)
	fmt.Fprintf(tw, "entries\t%d\n", s.Entries)
	tw.Flush()
}
