package serve

import (
	"errors"
	"fmt"
	"log/slog"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	tdev "github.com/tdevlabs/tdev"
)

// Notifier sends outbound-only Telegram messages when runs finish.
type Notifier struct {
	bot    *tgbotapi.BotAPI
	chatID int64
}

// NewNotifier connects to the Telegram bot API with the given token.
func NewNotifier(token string, chatID int64) (*Notifier, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram bot init: %w", err)
	}
	bot.Debug = false
	return &Notifier{bot: bot, chatID: chatID}, nil
}

// RunCompleted announces a successful run.
func (n *Notifier) RunCompleted(r *tdev.Run) {
	m := r.Metrics()
	n.send(fmt.Sprintf("✅ Run %s completed: %s (%d stages, $%.4f)",
		r.ID, r.Context.Request.ProjectName, m.StagesCompleted, m.Usage.CostUSD))
}

// RunFailed announces a failed run.
func (n *Notifier) RunFailed(r *tdev.Run, err error) {
	n.send(failureMessage(r, err))
}

// failureMessage names the failing stage when the error carries one.
// The run's own current stage is already cleared by the time failure
// callbacks fire.
func failureMessage(r *tdev.Run, err error) string {
	msg := ""
	if err != nil {
		msg = err.Error()
	}

	var stageErr *tdev.StageError
	if errors.As(err, &stageErr) && stageErr.Stage != "" {
		return fmt.Sprintf("❌ Run %s failed at %s: %s", r.ID, stageErr.Stage, msg)
	}
	return fmt.Sprintf("❌ Run %s failed: %s", r.ID, msg)
}

func (n *Notifier) send(text string) {
	if _, err := n.bot.Send(tgbotapi.NewMessage(n.chatID, text)); err != nil {
		slog.Warn("telegram notification failed", "error", err)
	}
}
