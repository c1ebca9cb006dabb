package dispatch

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	logx "herald/pkg/logx"
)

const telegramTextLimit = 4096

type teleAPI interface {
	Send(to tele.Recipient, what interface{}, opts ...interface{}) (*tele.Message, error)
}

// Telegram sends text messages to a chat id, optionally into a forum thread.
type Telegram struct {
	bot teleAPI
	log logx.Logger
}

func NewTelegram(token string, log logx.Logger) (*Telegram, error) {
	if strings.TrimSpace(token) == "" {
		return nil, fmt.Errorf("telegram: %w", ErrNoTransport)
	}
	b, err := tele.NewBot(tele.Settings{Token: token, Poller: &tele.LongPoller{Timeout: 10 * time.Second}})
	if err != nil {
		return nil, fmt.Errorf("telegram bot: %w", err)
	}
	return &Telegram{bot: b, log: log}, nil
}

func (t *Telegram) Send(ctx context.Context, m Message) (string, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(m.Channel), 10, 64)
	if err != nil {
		return m.Channel, fmt.Errorf("telegram chat id %q: %w", m.Channel, err)
	}
	target := m.Channel
	if m.ThreadID != 0 {
		target += "#" + strconv.Itoa(m.ThreadID)
	}
	if len(m.Blocks) > 0 {
		t.log.Debug("telegram ignores blocks", logx.String("chat", m.Channel), logx.Int("blocks", len(m.Blocks)))
	}
	if strings.TrimSpace(m.Text) == "" {
		return target, fmt.Errorf("telegram needs text")
	}

	chat := &tele.Chat{ID: id}
	for _, chunk := range splitText(m.Text, telegramTextLimit) {
		if err := ctx.Err(); err != nil {
			return target, err
		}
		opt := &tele.SendOptions{ThreadID: m.ThreadID, DisableWebPagePreview: true}
		if _, err := t.bot.Send(chat, chunk, opt); err != nil {
			return target, fmt.Errorf("telegram send: %w", err)
		}
	}
	return target, nil
}

// splitText cuts s into chunks of at most limit runes, preferring a newline
// in the second half of each window.
func splitText(s string, limit int) []string {
	rs := []rune(s)
	if len(rs) <= limit {
		return []string{s}
	}
	var out []string
	for start := 0; start < len(rs); {
		end := min(start+limit, len(rs))
		if end < len(rs) {
			for i := end - 1; i > start+limit/2; i-- {
				if rs[i] == '\n' {
					end = i + 1
					break
				}
			}
		}
		out = append(out, string(rs[start:end]))
		start = end
	}
	return out
}
