package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/goliatone/go-query-cache/cache"
	"github.com/goliatone/go-query-cache/internal/sqltables"
)

type classification struct {
	Statement   string   `json:"statement"`
	Kinds       []string `json:"kinds"`
	DependsOn   []string `json:"dependsOn"`
	Invalidates []string `json:"invalidates"`
	Reason      string   `json:"reason,omitempty"`
}

func classifyCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "classify [statement...]",
		Short: "Show the tables a statement depends on and invalidates",
		Long: "Classify each argument as one statement batch. With no arguments the\n" +
			"whole standard input is classified as a single batch.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				data, err := io.ReadAll(cmd.InOrStdin())
				if err != nil {
					return fmt.Errorf("read stdin: %w", err)
				}
				args = []string{string(data)}
			}

			results := make([]classification, 0, len(args))
			for _, sql := range args {
				if strings.TrimSpace(sql) == "" {
					continue
				}
				results = append(results, classifyStatement(sql))
			}

			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(results)
			}
			printClassifications(cmd.OutOrStdout(), results)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}

func classifyStatement(sql string) classification {
	a := sqltables.Classify(sql)
	kinds := make([]string, len(a.Kinds))
	for i, k := range a.Kinds {
		kinds[i] = k.String()
	}
	return classification{
		Statement:   cache.NormalizeQuery(sql),
		Kinds:       kinds,
		DependsOn:   tableNames(a.ReadSet()),
		Invalidates: tableNames(a.WriteSet()),
		Reason:      a.Reason,
	}
}

func tableNames(t sqltables.Tables) []string {
	if t.All {
		return []string{sqltables.Wildcard}
	}
	if t.Names == nil {
		return []string{}
	}
	return t.Names
}

func printClassifications(w io.Writer, results []classification) {
	for i, r := range results {
		if i > 0 {
			fmt.Fprintln(w)
		}
		fmt.Fprintf(w, "statement:   %s\n", r.Statement)
		fmt.Fprintf(w, "kinds:       %s\n", listOrDash(r.Kinds))
		fmt.Fprintf(w, "depends on:  %s\n", listOrDash(r.DependsOn))
		fmt.Fprintf(w, "invalidates: %s\n", listOrDash(r.Invalidates))
		if r.Reason != "" {
			fmt.Fprintf(w, "reason:      %s\n", r.Reason)
		}
	}
}

func listOrDash(items []string) string {
	if len(items) == 0 {
		return "-"
	}
	return strings.Join(items, ", ")
}
