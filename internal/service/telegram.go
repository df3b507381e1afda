package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	tgbot "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"pairbot/internal/models"
	"pairbot/pkg/utils"
)

// ChatSender - отправка текстовых сообщений оператору
type ChatSender interface {
	Send(text string) error
}

// CommandHandler отвечает на команду чата (/status, /pairs)
type CommandHandler func(ctx context.Context, command string) string

// Telegram - уведомления в чат оператора и ответы на команды
type Telegram struct {
	bot    *tgbot.BotAPI
	chatID int64
	log    *utils.Logger
}

// NewTelegram подключается к Bot API
func NewTelegram(token string, chatID int64, log *utils.Logger) (*Telegram, error) {
	if token == "" || chatID == 0 {
		return nil, errors.New("telegram token and chat id are required")
	}
	b, err := tgbot.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram: %w", err)
	}
	if log == nil {
		log = utils.L()
	}
	return &Telegram{bot: b, chatID: chatID, log: log.WithComponent("telegram")}, nil
}

// Send отправляет сообщение в чат
func (t *Telegram) Send(text string) error {
	if t == nil || t.bot == nil {
		return nil
	}
	_, err := t.bot.Send(tgbot.NewMessage(t.chatID, text))
	return err
}

// Start запускает long-polling и отвечает на команды из чата оператора
func (t *Telegram) Start(ctx context.Context, handle CommandHandler) {
	if t == nil || t.bot == nil || handle == nil {
		return
	}

	u := tgbot.NewUpdate(0)
	u.Timeout = 30
	u.AllowedUpdates = []string{"message"}

	updates := t.bot.GetUpdatesChan(u)
	go func() {
		defer t.bot.StopReceivingUpdates()
		for {
			select {
			case <-ctx.Done():
				return
			case upd, ok := <-updates:
				if !ok {
					return
				}
				msg := upd.Message
				if msg == nil || msg.Chat == nil || msg.Chat.ID != t.chatID || !msg.IsCommand() {
					continue
				}
				if reply := handle(ctx, msg.Command()); reply != "" {
					if err := t.Send(reply); err != nil {
						t.log.Warn("telegram reply failed", utils.Err(err))
					}
				}
			}
		}
	}()
}

// FormatEvent - текст сообщения о событии пары
func FormatEvent(n *models.Notification) string {
	var b strings.Builder

	switch n.Severity {
	case models.SeverityError:
		b.WriteString("❗️ ")
	case models.SeverityWarn:
		b.WriteString("⚠️ ")
	default:
		b.WriteString("ℹ️ ")
	}
	b.WriteString(strings.ToUpper(n.Type))
	if n.Symbol != "" {
		fmt.Fprintf(&b, " %s", n.Symbol)
	}
	b.WriteString("\n")
	b.WriteString(n.Message)

	if p := n.Pair; p != nil {
		fmt.Fprintf(&b, "\npair %s %s %s lot %.2fx2", shortID(p.ID), p.Side, p.Category, p.LotEach)
		if p.EntryPrice > 0 {
			fmt.Fprintf(&b, " entry %.5g", p.EntryPrice)
		}
		if p.InternalSL > 0 {
			fmt.Fprintf(&b, " sl %.5g", p.InternalSL)
		}
		if p.TP > 0 {
			fmt.Fprintf(&b, " tp %.5g", p.TP)
		}
	}
	return b.String()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
