package telegram

import (
	"context"
	"errors"
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"resume-billing/internal/config"
	"resume-billing/internal/domain/model"
)

// Sender is the slice of tgbotapi.BotAPI the notifier needs.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// AdminNotifier posts lifecycle events to the operators' Telegram chats.
type AdminNotifier struct {
	bot     Sender
	chatIDs []int64
	log     *zerolog.Logger
}

func NewAdminNotifier(cfg config.TelegramConfig, logger *zerolog.Logger) (*AdminNotifier, error) {
	if cfg.Token == "" {
		return nil, errors.New("telegram token is empty")
	}
	bot, err := tgbotapi.NewBotAPI(cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("telegram: %w", err)
	}
	return NewAdminNotifierWithSender(bot, cfg.AdminChatIDs, logger), nil
}

func NewAdminNotifierWithSender(bot Sender, chatIDs []int64, logger *zerolog.Logger) *AdminNotifier {
	l := logger.With().Str("component", "TelegramAdminNotifier").Logger()
	return &AdminNotifier{bot: bot, chatIDs: chatIDs, log: &l}
}

// NotifyAdmins sends to every admin chat and reports the failures joined.
func (n *AdminNotifier) NotifyAdmins(ctx context.Context, e model.AdminEvent) error {
	text := formatAdminEvent(e)
	var errs []error
	for _, id := range n.chatIDs {
		if err := ctx.Err(); err != nil {
			return err
		}
		msg := tgbotapi.NewMessage(id, text)
		msg.DisableWebPagePreview = true
		if _, err := n.bot.Send(msg); err != nil {
			n.log.Warn().Err(err).Int64("chat_id", id).Str("event", e.Type).Msg("admin message not delivered")
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func formatAdminEvent(e model.AdminEvent) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s\n", e.Type, e.Message)
	fmt.Fprintf(&b, "user: %s\n", e.UserID)
	if e.PlanID != "" {
		fmt.Fprintf(&b, "plan: %s\n", e.PlanID)
	}
	if e.SubscriptionID != "" {
		fmt.Fprintf(&b, "subscription: %s\n", e.SubscriptionID)
	}
	if e.Amount != "" {
		fmt.Fprintf(&b, "amount: %s %s\n", e.Amount, e.Currency)
	}
	return strings.TrimRight(b.String(), "\n")
}
