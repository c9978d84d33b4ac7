// Command querycache inspects and exercises the query cache: it classifies
// statements, runs a demo against a real database and estimates hit ratios
// for statement logs.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const envPrefix = "QUERYCACHE"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	root := newRootCmd(viper.New(), stdin, stdout, stderr)
	root.SetArgs(args)
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	return 0
}

func newRootCmd(v *viper.Viper, stdin io.Reader, stdout, stderr io.Writer) *cobra.Command {
	var configFile string

	root := &cobra.Command{
		Use:           "querycache",
		Short:         "Query result cache with table-level invalidation",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if configFile == "" {
				return nil
			}
			v.SetConfigFile(configFile)
			if err := v.ReadInConfig(); err != nil {
				return fmt.Errorf("read config %s: %w", configFile, err)
			}
			return nil
		},
	}
	root.SetIn(stdin)
	root.SetOut(stdout)
	root.SetErr(stderr)

	flags := root.PersistentFlags()
	flags.StringVar(&configFile, "config", "", "YAML config file")
	flags.Int(keyMaxEntries, defaultSettings.MaxEntries, "maximum number of cached row sets")
	flags.Duration(keyDefaultTTL, defaultSettings.DefaultTTL, "lifetime of a cached row set")
	flags.Bool(keyEnabled, defaultSettings.Enabled, "enable caching")
	flags.Bool(keyCoalesce, defaultSettings.Coalesce, "share one raw query between concurrent misses")
	flags.String(keyLogLevel, defaultSettings.LogLevel, "log level: debug, info, warn or error")

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	_ = v.BindPFlags(flags)

	root.AddCommand(
		classifyCmd(),
		demoCmd(v),
		statsCmd(v),
	)
	return root
}
