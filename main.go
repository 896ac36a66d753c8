package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"scribdl/bundle"
	"scribdl/config"
	"scribdl/downloader"
	"scribdl/session"
	"scribdl/ui"
)

// usageError separates bad invocations (exit 2) from runtime failures
// (exit 1).
type usageError struct {
	err error
}

func (e *usageError) Error() string { return e.err.Error() }

func (e *usageError) Unwrap() error { return e.err }

func main() {
	err := newRootCmd().Execute()
	if err == nil {
		return
	}
	if errors.Is(err, context.Canceled) {
		fmt.Fprintln(os.Stderr, "scribdl: interrupted")
		os.Exit(130)
	}
	fmt.Fprintln(os.Stderr, "scribdl:", err)
	var uerr *usageError
	if errors.As(err, &uerr) {
		os.Exit(2)
	}
	os.Exit(1)
}

func newRootCmd() *cobra.Command {
	v := viper.New()
	config.SetDefaults(v)

	var cfgFile string

	root := &cobra.Command{
		Use:   "scribdl <series-url>",
		Short: "Download a ScribbleHub series into plain-text bundles",
		Long: `scribdl mirrors one ScribbleHub series: it resolves the series page,
fetches the whole chapter listing in a single request, then downloads each
chapter in order, strips the page down to readable text, and writes the
result as numbered bundle files (0001-0015.txt, 0016-0030.txt, ...).

Interrupting a run with Ctrl-C is safe: chapters already downloaded are
flushed into a final short bundle before the tool exits.`,
		Args: func(cmd *cobra.Command, args []string) error {
			if err := cobra.ExactArgs(1)(cmd, args); err != nil {
				return &usageError{err}
			}
			return nil
		},
		Version:       config.VersionString(),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig(v, cfgFile)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDownload(cmd, v, args[0])
		},
	}

	flags := root.Flags()
	flags.StringP("output", "o", "output", "directory for bundle files")
	flags.IntP("group-size", "g", 15, "chapters per bundle file")
	flags.Int("retries", 3, "attempts per chapter before giving up")
	flags.Float64("backoff", 3.0, "base backoff in seconds, doubled per retry")
	flags.Float64("delay", 5.0, "seconds to wait between chapters")
	flags.Float64("timeout", 60.0, "per-request timeout in seconds")
	flags.BoolP("verbose", "v", false, "debug logging")
	flags.StringVar(&cfgFile, "config", "", "config file (default ./scribdl.yaml)")

	for key, flag := range map[string]string{
		config.KeyOutput:    "output",
		config.KeyGroupSize: "group-size",
		config.KeyRetries:   "retries",
		config.KeyBackoff:   "backoff",
		config.KeyDelay:     "delay",
		config.KeyTimeout:   "timeout",
		config.KeyVerbose:   "verbose",
	} {
		if err := v.BindPFlag(key, flags.Lookup(flag)); err != nil {
			panic(err)
		}
	}

	root.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return &usageError{err}
	})

	return root
}

// initConfig layers an optional config file and SCRIBDL_* environment
// variables under the flags. A missing discovered file is fine; a missing
// or broken --config file is not.
func initConfig(v *viper.Viper, cfgFile string) error {
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("scribdl")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config", "scribdl"))
		}
	}
	v.SetEnvPrefix(config.EnvPrefix)
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		if cfgFile != "" {
			return &usageError{err}
		}
		return err
	}
	return nil
}

func runDownload(cmd *cobra.Command, v *viper.Viper, seriesURL string) error {
	settings := config.Load(v, seriesURL)
	if err := settings.Validate(); err != nil {
		return &usageError{err}
	}

	level := slog.LevelInfo
	if settings.Verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	if err := bundle.EnsureDir(settings.OutputDir); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	console := ui.NewConsole(cmd.OutOrStdout())
	sess := session.New(settings.RequestTimeout(), settings.RetryPolicy(), logger)
	manager := downloader.NewManager(settings, sess, console, logger)

	res, err := manager.Run(ctx)
	if res != nil {
		console.Summary(res.Chapters, res.Bundles, res.Elapsed, settings.OutputDir)
	}
	return err
}
