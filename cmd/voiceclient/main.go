package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"

	"github.com/alecthomas/kingpin/v2"
	log "github.com/echocat/slf4g"
	"github.com/echocat/slf4g/native"
	"github.com/echocat/slf4g/native/consumer"
	"github.com/echocat/slf4g/native/facade/value"
	"github.com/echocat/slf4g/native/formatter"
	"github.com/joho/godotenv"

	"github.com/zhouzirui/z-tavern/voiceclient/internal/app"
	"github.com/zhouzirui/z-tavern/voiceclient/internal/config"
	"github.com/zhouzirui/z-tavern/voiceclient/internal/console"
	"github.com/zhouzirui/z-tavern/voiceclient/internal/service/notify"
)

func main() {
	consumer.Default = consumer.NewWriter(os.Stderr)

	lv := value.NewProvider(native.DefaultProvider)
	lv.Consumer.Formatter.Codec = value.MappingFormatterCodec{
		"text": formatter.NewText(func(v *formatter.Text) {
			multiLine := true
			v.AllowMultiLineMessage = &multiLine
		}),
		"json": formatter.NewJson(),
	}

	var configPath, logLevel, logFormat, envFile string

	cmd := kingpin.New("voiceclient", "Talk to a voice assistant from the terminal.").
		Action(func(*kingpin.ParseContext) error {
			if err := godotenv.Load(envFile); err != nil && envFile != ".env" {
				return fmt.Errorf("failed to load %s: %w", envFile, err)
			}

			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if err := configureLogging(lv.Level, lv.Consumer.Formatter, cfg.Log, logLevel, logFormat); err != nil {
				return err
			}
			return run(cfg)
		})

	cmd.Flag("config", "YAML configuration file; its values win over the environment.").
		Short('c').
		Envar("VOICECLIENT_CONFIG").
		StringVar(&configPath)
	cmd.Flag("env-file", "Dotenv file loaded before the configuration.").
		Default(".env").
		StringVar(&envFile)
	cmd.Flag("log.level", "Overrides LOG_LEVEL.").
		StringVar(&logLevel)
	cmd.Flag("log.format", "Overrides LOG_FORMAT (text or json).").
		StringVar(&logFormat)

	kingpin.MustParse(cmd.Parse(os.Args[1:]))
}

type setter interface {
	Set(string) error
}

func configureLogging(levelValue, formatValue setter, cfg config.LogConfig, level, format string) error {
	if level == "" {
		level = cfg.Level
	}
	if format == "" {
		format = cfg.Format
	}
	if err := levelValue.Set(level); err != nil {
		return fmt.Errorf("invalid log level %q: %w", level, err)
	}
	if err := formatValue.Set(format); err != nil {
		return fmt.Errorf("invalid log format %q: %w", format, err)
	}
	return nil
}

func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var term atomic.Pointer[console.Console]
	notice := func(message string) {
		if c := term.Load(); c != nil {
			c.Notice(message)
			return
		}
		_, _ = fmt.Fprintln(os.Stderr, message)
	}
	snackbar := notify.NewSnackbar(notify.DefaultTTL, notice)
	defer snackbar.Close()

	opts, err := app.FromConfig(cfg, snackbar, func(authURL string) {
		notice("Open this URL in a browser to sign in: " + authURL)
	})
	if err != nil {
		return err
	}

	client, err := app.New(opts)
	if err != nil {
		return err
	}
	defer func() {
		if err := client.Close(); err != nil {
			log.WithError(err).Warn("failed to close client")
		}
	}()

	c := console.New(client, os.Stdout)
	term.Store(c)

	log.With("assistant", cfg.Assistant.BaseURL).
		With("oauth", cfg.Identity.UseOAuth()).
		Debug("voice client ready")

	return c.Run(ctx)
}
