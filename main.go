package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/briangreenhill/pollcache/cache"
	"github.com/briangreenhill/pollcache/internal/auth"
	"github.com/briangreenhill/pollcache/internal/config"
	"github.com/briangreenhill/pollcache/internal/fetch"
	"github.com/briangreenhill/pollcache/internal/logging"
)

const version = "0.1.0"

func main() {
	if err := newRootCmd(os.Stdout).Execute(); err != nil {
		os.Exit(1)
	}
}

// app is the state shared by every subcommand once the root pre-run has
// loaded configuration.
type app struct {
	cfg    *config.Config
	log    zerolog.Logger
	closer io.Closer
	store  *cache.Store
}

func newRootCmd(out io.Writer) *cobra.Command {
	a := &app{}
	var cacheDir string

	root := &cobra.Command{
		Use:           "pollcache",
		Short:         "Inspect and maintain the upstream response cache",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "version" {
				return nil
			}
			return a.setup(cacheDir)
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a.closer != nil {
				_ = a.closer.Close()
			}
		},
	}
	root.SetOut(out)
	root.PersistentFlags().StringVar(&cacheDir, "cache-dir", "", "Cache directory (overrides CACHE_DIR)")

	root.AddCommand(
		a.statsCmd(),
		a.clearCmd(),
		a.existsCmd(),
		a.getCmd(),
		a.tokenCmd(),
		&cobra.Command{
			Use:   "version",
			Short: "Print the version",
			Run: func(cmd *cobra.Command, args []string) {
				fmt.Fprintf(cmd.OutOrStdout(), "pollcache v%s\n", version)
			},
		},
	)
	return root
}

func (a *app) setup(cacheDir string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if cacheDir != "" {
		cfg.Cache.Dir = cacheDir
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	log, closer, err := logging.New(cfg.Log)
	if err != nil {
		return err
	}
	opts, err := cfg.CacheOptions(log, nil)
	if err != nil {
		_ = closer.Close()
		return err
	}
	store, err := cache.NewStore(opts)
	if err != nil {
		_ = closer.Close()
		return err
	}
	a.cfg, a.log, a.closer, a.store = cfg, log, closer, store
	return nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (a *app) statsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show file counts and sizes per source",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			stats, err := a.store.Stats(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), stats)
		},
	}
}

func (a *app) clearCmd() *cobra.Command {
	var source, endpoint, date string
	var all bool
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete cache files matching the given filters",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if source == "" && endpoint == "" && date == "" && !all {
				return errors.New("refusing to clear the whole cache without --all")
			}
			n := a.store.Clear(cmd.Context(), source, endpoint, date)
			fmt.Fprintf(cmd.OutOrStdout(), "removed %d files\n", n)
			return nil
		},
	}
	cmd.Flags().StringVar(&source, "source", "", "Only this source")
	cmd.Flags().StringVar(&endpoint, "endpoint", "", "Only this endpoint")
	cmd.Flags().StringVar(&date, "date", "", "Only this date key (YYYY-MM-DD or YYYY-MM)")
	cmd.Flags().BoolVar(&all, "all", false, "Allow clearing everything")
	return cmd
}

func (a *app) existsCmd() *cobra.Command {
	var ignoreTTL bool
	cmd := &cobra.Command{
		Use:   "exists [source] [endpoint] [date]",
		Short: "Report whether a usable cache file exists",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cache.ValidateKey(args[0], args[1], args[2]); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), a.store.ExistsForDate(args[0], args[1], args[2], ignoreTTL))
			return nil
		},
	}
	cmd.Flags().BoolVar(&ignoreTTL, "ignore-ttl", false, "Accept stale files")
	return cmd
}

func (a *app) getCmd() *cobra.Command {
	var (
		ignoreTTL bool
		hhmm      string
		doFetch   bool
	)
	cmd := &cobra.Command{
		Use:   "get [source] [endpoint] [date]",
		Short: "Print a cached payload, optionally fetching it",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			source, endpoint, date := args[0], args[1], args[2]
			ctx := cmd.Context()

			var data json.RawMessage
			if doFetch {
				registry, err := fetch.NewRegistry(a.cfg, nil)
				if err != nil {
					return err
				}
				fetchFn, err := registry.Fetcher(source, endpoint, date)
				if err != nil {
					return fmt.Errorf("%w (configured: %v)", err, registry.List())
				}
				if data, err = a.store.GetOrFetch(ctx, source, endpoint, date, fetchFn); err != nil {
					return err
				}
			} else {
				if err := cache.ValidateKey(source, endpoint, date); err != nil {
					return err
				}
				var opts []cache.ReadOption
				if ignoreTTL {
					opts = append(opts, cache.IgnoreTTL())
				}
				if hhmm != "" {
					opts = append(opts, cache.AtTime(hhmm))
				}
				var ok bool
				if data, ok = a.store.GetCachedData(ctx, source, endpoint, date, opts...); !ok {
					return fmt.Errorf("no usable cache entry for %s/%s/%s", source, endpoint, date)
				}
			}
			_, err := fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return err
		},
	}
	cmd.Flags().BoolVar(&ignoreTTL, "ignore-ttl", false, "Accept stale files")
	cmd.Flags().StringVar(&hhmm, "time", "", "Read the file written at HH-MM")
	cmd.Flags().BoolVar(&doFetch, "fetch", false, "Fetch from the configured source when not cached")
	return cmd
}

func (a *app) tokenCmd() *cobra.Command {
	var (
		subject string
		ttl     time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue an admin API token signed with ADMIN_SECRET",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			tok, err := auth.AdminToken{Secret: []byte(a.cfg.AdminSecret)}.Issue(subject, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "admin", "Token subject")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "Token lifetime")
	return cmd
}
