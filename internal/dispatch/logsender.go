package dispatch

import (
	"context"

	logx "herald/pkg/logx"
)

// LogSender writes messages to the log instead of delivering them. It backs
// the log transport and dry runs.
type LogSender struct {
	log logx.Logger
}

func NewLogSender(log logx.Logger) *LogSender {
	return &LogSender{log: log}
}

func (l *LogSender) Send(_ context.Context, m Message) (string, error) {
	l.log.Info("would send message",
		logx.String("workspace", m.Workspace),
		logx.String("channel", m.Channel),
		logx.String("display_name", m.DisplayName),
		logx.String("text", m.Text),
		logx.Int("blocks", len(m.Blocks)),
	)
	return "log:" + m.Channel, nil
}
