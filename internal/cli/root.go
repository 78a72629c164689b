package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/natefinch/lumberjack.v2"
)

// version is set at build time via ldflags.
var version = "dev"

const envPrefix = "PACKAGE_MIRROR"

type RootConfig struct {
	ConfigFile string
	LogLevel   string
	LogFormat  string
	LogFile    string
}

func Execute() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	root := newRootCommand()
	err := root.ExecuteContext(ctx)
	cancel()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %s\n", errorMessage(err))
		os.Exit(exitCodeForError(err))
	}
}

func newRootCommand() *cobra.Command {
	cfg := RootConfig{}
	feed := feedOptions{}
	cmd := &cobra.Command{
		Use:           "package-mirror",
		Short:         "Mirror packages and their dependencies into a local feed",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := initConfig(cfg.ConfigFile); err != nil {
				return err
			}
			logger, err := setupLogging(
				viper.GetString("log_level"),
				viper.GetString("log_format"),
				viper.GetString("log_file"),
				cmd.ErrOrStderr(),
			)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			cmd.SetContext(logger.WithContext(ctx))
			return nil
		},
	}
	cmd.PersistentFlags().StringVar(&cfg.ConfigFile, "config", "", "Config file path")
	cmd.PersistentFlags().StringVar(&cfg.LogLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().StringVar(&cfg.LogFormat, "log-format", "console", "Log format (console or json)")
	cmd.PersistentFlags().StringVar(&cfg.LogFile, "log-file", "", "Also write JSON logs to this rotating file")
	_ = viper.BindPFlag("log_level", cmd.PersistentFlags().Lookup("log-level"))
	_ = viper.BindPFlag("log_format", cmd.PersistentFlags().Lookup("log-format"))
	_ = viper.BindPFlag("log_file", cmd.PersistentFlags().Lookup("log-file"))
	feed.register(cmd)

	cmd.AddCommand(newAddCommand(&feed))
	cmd.AddCommand(newUpdateCommand(&feed))
	cmd.AddCommand(newDeleteCommand(&feed))
	cmd.AddCommand(newListCommand(&feed))
	cmd.AddCommand(newImportCommand(&feed))
	cmd.AddCommand(newVerifyCommand(&feed))
	cmd.AddCommand(newRunCommand(&feed))
	return cmd
}

func initConfig(configFile string) error {
	viper.SetEnvPrefix(envPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if configFile != "" {
		viper.SetConfigFile(configFile)
		if err := viper.ReadInConfig(); err != nil {
			return errbuilder.New().
				WithCode(errbuilder.CodeInvalidArgument).
				WithMsg("failed to read config file").
				WithCause(err)
		}
		return nil
	}

	viper.SetConfigName("package-mirror")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("$HOME/.config/package-mirror")
	if err := viper.ReadInConfig(); err != nil {
		return nil
	}
	return nil
}

func setupLogging(level string, format string, file string, stderr io.Writer) (zerolog.Logger, error) {
	var console io.Writer = zerolog.ConsoleWriter{Out: stderr}
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", "console":
	case "json":
		console = stderr
	default:
		return zerolog.Logger{}, errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg(fmt.Sprintf("unsupported log format %q", format))
	}
	writer := console
	if path := strings.TrimSpace(file); path != "" {
		writer = zerolog.MultiLevelWriter(console, &lumberjack.Logger{
			Filename:   path,
			MaxSize:    10,
			MaxBackups: 3,
			MaxAge:     28,
		})
	}

	switch level {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
	log.Logger = zerolog.New(writer).With().Timestamp().Logger()
	zerolog.DefaultContextLogger = &log.Logger
	return log.Logger, nil
}

func exitCodeForError(err error) int {
	var failures *itemFailuresError
	if errors.As(err, &failures) {
		return 5
	}
	if errors.Is(err, context.Canceled) {
		return 130
	}
	switch errbuilder.CodeOf(err) {
	case errbuilder.CodeInvalidArgument:
		return 2
	case errbuilder.CodeFailedPrecondition:
		return 3
	case errbuilder.CodeNotFound:
		return 4
	default:
		return 1
	}
}

func errorMessage(err error) string {
	var builder *errbuilder.ErrBuilder
	if errors.As(err, &builder) && strings.TrimSpace(builder.Msg) != "" {
		return builder.Msg
	}
	return err.Error()
}
