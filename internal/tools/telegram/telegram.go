// Package telegram exposes Telegram delivery to the remote model as the
// send_telegram_message tool.
package telegram

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/MrWong99/jarvis/internal/tools"
	"github.com/MrWong99/jarvis/pkg/provider/s2s"
	"github.com/MrWong99/jarvis/pkg/telegram"
)

// Name is the function name the model calls.
const Name = "send_telegram_message"

const (
	// StatusSent is reported to the model after a successful delivery.
	StatusSent = "Message sent to Telegram."

	// BotRecipientError explains a chat ID that belongs to another bot.
	BotRecipientError = "The configured chat ID belongs to a bot. Telegram bots cannot message other bots; use your personal numeric chat ID instead."

	errMissingMessage = "The message argument is required and must be non-empty text."
)

// Sender delivers a text message. *telegram.Client satisfies it.
type Sender interface {
	SendMessage(ctx context.Context, text string) error
}

// Tool returns the send_telegram_message tool backed by sender.
func Tool(sender Sender) tools.Tool {
	return tools.Tool{
		Definition: s2s.ToolDefinition{
			Name:        Name,
			Description: "Sends a message to the user on Telegram. Use this tool when the user asks to send information, a note or a message to Telegram.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"message": map[string]any{
						"type":        "string",
						"description": "The text of the message to send.",
					},
				},
				"required": []string{"message"},
			},
		},
		Handler: func(ctx context.Context, args map[string]any) (tools.Result, error) {
			return send(ctx, sender, args)
		},
		Timeout: 15 * time.Second,
	}
}

func send(ctx context.Context, sender Sender, args map[string]any) (tools.Result, error) {
	msg, _ := args["message"].(string)
	if strings.TrimSpace(msg) == "" {
		return tools.Failed(errMissingMessage), nil
	}

	if err := sender.SendMessage(ctx, msg); err != nil {
		if errors.Is(err, telegram.ErrBotRecipient) {
			return tools.Failed(BotRecipientError), nil
		}
		return tools.Result{}, err
	}
	return tools.Result{Success: true, Status: StatusSent}, nil
}
