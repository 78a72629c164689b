package cli

import (
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"package-mirror/internal/adapters"
	"package-mirror/internal/app"
)

var newAppService = app.NewService

// feedOptions are the persistent flags shared by every command that opens
// a feed.
type feedOptions struct {
	Upstream   string
	Local      string
	BasePath   string
	StagingDir string
	Workers    int
	Timeout    time.Duration
	Retries    int
	RetryDelay time.Duration
	APIKey     string
}

func (o *feedOptions) register(cmd *cobra.Command) {
	flags := cmd.PersistentFlags()
	flags.StringVar(&o.Upstream, "upstream", "", "Upstream feed: v3 service index URL or directory")
	flags.StringVar(&o.Local, "local", "", "Local feed directory")
	flags.StringVar(&o.BasePath, "base-path", "", "Base path for relative feed locations (defaults to the working directory)")
	flags.StringVar(&o.StagingDir, "staging-dir", "", "Parent directory for download staging (defaults to the system temp dir)")
	flags.IntVar(&o.Workers, "workers", 1, "Parallel downloads during update")
	flags.DurationVar(&o.Timeout, "timeout", 60*time.Second, "HTTP request timeout")
	flags.IntVar(&o.Retries, "retries", 3, "HTTP retries for transient failures (-1 disables)")
	flags.DurationVar(&o.RetryDelay, "retry-delay", 200*time.Millisecond, "Initial HTTP retry delay")
	flags.StringVar(&o.APIKey, "api-key", "", "API key sent to the upstream feed")

	_ = viper.BindPFlag("upstream", flags.Lookup("upstream"))
	_ = viper.BindPFlag("local", flags.Lookup("local"))
	_ = viper.BindPFlag("base_path", flags.Lookup("base-path"))
	_ = viper.BindPFlag("staging_dir", flags.Lookup("staging-dir"))
	_ = viper.BindPFlag("workers", flags.Lookup("workers"))
	_ = viper.BindPFlag("http.timeout", flags.Lookup("timeout"))
	_ = viper.BindPFlag("http.retries", flags.Lookup("retries"))
	_ = viper.BindPFlag("http.retry_delay", flags.Lookup("retry-delay"))
	_ = viper.BindPFlag("api_key", flags.Lookup("api-key"))
}

func (o *feedOptions) settings(cmd *cobra.Command) app.Settings {
	return app.Settings{
		Upstream:   resolveString(cmd, o.Upstream, "upstream", "upstream"),
		Local:      resolveString(cmd, o.Local, "local", "local"),
		BasePath:   resolveString(cmd, o.BasePath, "base_path", "base-path"),
		StagingDir: resolveString(cmd, o.StagingDir, "staging_dir", "staging-dir"),
		Workers:    resolveInt(cmd, o.Workers, "workers", "workers"),
		HTTP: adapters.HTTPConfig{
			Timeout:    resolveDuration(cmd, o.Timeout, "http.timeout", "timeout"),
			Retries:    retriesSetting(resolveInt(cmd, o.Retries, "http.retries", "retries")),
			RetryDelay: resolveDuration(cmd, o.RetryDelay, "http.retry_delay", "retry-delay"),
			APIKey:     resolveString(cmd, o.APIKey, "api_key", "api-key"),
			UserAgent:  "package-mirror/" + version,
		},
	}
}

// retriesSetting maps the user-facing "0 retries" onto the client's
// disabled value; the client treats zero as "use the default".
func retriesSetting(value int) int {
	if value <= 0 {
		return -1
	}
	return value
}
