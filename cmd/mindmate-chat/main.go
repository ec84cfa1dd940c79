package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/vovakirdan/mindmate-chat/internal/app"
	"github.com/vovakirdan/mindmate-chat/internal/config"
	"github.com/vovakirdan/mindmate-chat/internal/log"
)

type rootOptions struct {
	configPath string
	logLevel   string
	token      string
	nickname   string
	apiURL     string
	brokerURL  string
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "mindmate-chat:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:           "mindmate-chat",
		Short:         "Topic-based anonymous group chat client",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&opts.configPath, "config", "", "config file path")
	flags.StringVar(&opts.logLevel, "log-level", "", "log level (trace, debug, info, warn, error, off)")
	flags.StringVar(&opts.token, "token", "", "bearer token")
	flags.StringVar(&opts.nickname, "nickname", "", "display nickname")
	flags.StringVar(&opts.apiURL, "api", "", "REST API base URL")
	flags.StringVar(&opts.brokerURL, "broker", "", "broker WebSocket URL")

	cmd.AddCommand(
		newTopicsCmd(),
		newHistoryCmd(opts),
		newChatCmd(opts),
		newReportCmd(opts),
	)
	return cmd
}

// load resolves configuration and builds the logger and application.
func (o *rootOptions) load() (*config.Config, *zerolog.Logger, *app.App, error) {
	bootLogger := log.New("warn")
	cfg, path, err := config.Load(bootLogger, o.configPath)
	if err != nil {
		return nil, nil, nil, err
	}
	cfg.UpdateFrom(config.Config{
		LogLevel:   o.logLevel,
		Token:      o.token,
		Nickname:   o.nickname,
		APIBaseURL: o.apiURL,
		BrokerURL:  o.brokerURL,
	})

	logger := log.New(cfg.LogLevel)
	logger.Debug().Str("config", path).Str("api", cfg.APIBaseURL).Str("broker", cfg.BrokerURL).Msg("configuration loaded")

	application, err := app.New(&cfg, logger)
	if err != nil {
		return nil, nil, nil, err
	}
	return &cfg, logger, application, nil
}
