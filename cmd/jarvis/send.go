package main

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/MrWong99/jarvis/internal/config"
	"github.com/MrWong99/jarvis/internal/tools"
	telegramtool "github.com/MrWong99/jarvis/internal/tools/telegram"
	"github.com/MrWong99/jarvis/pkg/provider/s2s"
	"github.com/MrWong99/jarvis/pkg/telegram"
)

func newSendCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "send <text>",
		Short: "Send a Telegram message through the assistant's tool",
		Long: `Send delivers one message to the configured Telegram chat using the
same tool the model calls, which makes it a quick way to check the bot
token and chat ID.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(flags.configPath)
			if err != nil {
				return err
			}
			lv := new(slog.LevelVar)
			log := newLogger(lv, cfg.Server.LogLevel)

			opts := []telegram.Option{telegram.WithRateLimit(cfg.Telegram.RateLimit, cfg.Telegram.Burst)}
			if cfg.Telegram.BaseURL != "" {
				opts = append(opts, telegram.WithBaseURL(cfg.Telegram.BaseURL))
			}
			client, err := telegram.New(cfg.Telegram.BotToken, cfg.Telegram.ChatID, opts...)
			if err != nil {
				return err
			}

			d := tools.New([]tools.Tool{telegramtool.Tool(client)}, tools.WithLogger(log))
			res := d.Dispatch(cmd.Context(), []s2s.ToolCall{{
				ID:   "cli",
				Name: telegramtool.Name,
				Args: map[string]any{"message": strings.Join(args, " ")},
			}})
			if len(res) != 1 {
				return errors.New("send: no result from tool")
			}
			if !res[0].Result.Success {
				return fmt.Errorf("send: %s", res[0].Result.Error)
			}
			fmt.Fprintln(cmd.OutOrStdout(), res[0].Result.Status)
			return nil
		},
	}
}
