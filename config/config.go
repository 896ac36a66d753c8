package config

import (
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/spf13/viper"

	"scribdl/models"
)

// Viper keys shared by flags, environment variables and the optional config
// file. Flags are bound to these keys in main, so the precedence is the
// usual one: flag > env > file > default.
const (
	KeyOutput    = "output"
	KeyGroupSize = "group_size"
	KeyRetries   = "retries"
	KeyBackoff   = "backoff"
	KeyDelay     = "delay"
	KeyTimeout   = "timeout"
	KeyVerbose   = "verbose"
)

// EnvPrefix makes SCRIBDL_GROUP_SIZE and friends work as overrides.
const EnvPrefix = "SCRIBDL"

// SetDefaults seeds viper with the baseline values so that env vars and
// config files see the same defaults the flags advertise.
func SetDefaults(v *viper.Viper) {
	v.SetDefault(KeyOutput, "output")
	v.SetDefault(KeyGroupSize, 15)
	v.SetDefault(KeyRetries, 3)
	v.SetDefault(KeyBackoff, 3.0)
	v.SetDefault(KeyDelay, 5.0)
	v.SetDefault(KeyTimeout, 60.0)
	v.SetDefault(KeyVerbose, false)
}

// Settings is the validated, immutable configuration the pipeline runs
// with. Durations are carried as seconds the way the flags express them;
// the typed accessors below convert.
type Settings struct {
	SeriesURL    string  // Positional argument, the series landing page
	OutputDir    string  // Where bundles are written
	GroupSize    int     // Chapters per bundle file
	MaxAttempts  int     // Attempts per request, counting the first
	BackoffBase  float64 // Seconds, doubled after each failed attempt
	ChapterDelay float64 // Seconds to idle after each chapter
	Timeout      float64 // Seconds before a single request is abandoned
	Verbose      bool    // Debug logging
}

// Load materializes Settings from the resolved viper state. The series URL
// arrives as the positional CLI argument rather than through viper.
func Load(v *viper.Viper, seriesURL string) Settings {
	return Settings{
		SeriesURL:    seriesURL,
		OutputDir:    v.GetString(KeyOutput),
		GroupSize:    v.GetInt(KeyGroupSize),
		MaxAttempts:  v.GetInt(KeyRetries),
		BackoffBase:  v.GetFloat64(KeyBackoff),
		ChapterDelay: v.GetFloat64(KeyDelay),
		Timeout:      v.GetFloat64(KeyTimeout),
		Verbose:      v.GetBool(KeyVerbose),
	}
}

// Validate checks every field against its documented bound and returns the
// first violation with a message an operator can act on.
func (s Settings) Validate() error {
	u, err := url.Parse(s.SeriesURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("series URL must be an absolute http(s) URL, got %q", s.SeriesURL)
	}
	if s.GroupSize < 1 {
		return fmt.Errorf("--group-size must be at least 1, got %d", s.GroupSize)
	}
	if s.MaxAttempts < 1 {
		return fmt.Errorf("--retries must be at least 1, got %d", s.MaxAttempts)
	}
	if s.BackoffBase < 0 {
		return fmt.Errorf("--backoff must not be negative, got %g", s.BackoffBase)
	}
	if s.ChapterDelay < 0 {
		return fmt.Errorf("--delay must not be negative, got %g", s.ChapterDelay)
	}
	if s.Timeout <= 0 {
		return fmt.Errorf("--timeout must be positive, got %g", s.Timeout)
	}
	// The directory is created later if missing; an existing regular file
	// at that path is the one thing we refuse to work with.
	if info, statErr := os.Stat(s.OutputDir); statErr == nil && !info.IsDir() {
		return fmt.Errorf("output path %q exists and is not a directory", s.OutputDir)
	}
	return nil
}

// RetryPolicy is the shared retry view handed to every component that
// issues requests.
func (s Settings) RetryPolicy() models.RetryPolicy {
	return models.RetryPolicy{MaxAttempts: s.MaxAttempts, BackoffBase: s.BackoffBase}
}

// RequestTimeout converts the timeout seconds into a duration.
func (s Settings) RequestTimeout() time.Duration {
	return time.Duration(s.Timeout * float64(time.Second))
}

// DelayDuration converts the politeness delay seconds into a duration.
func (s Settings) DelayDuration() time.Duration {
	return time.Duration(s.ChapterDelay * float64(time.Second))
}
