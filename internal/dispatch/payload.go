package dispatch

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Transport selects the delivery adapter for a message.
type Transport string

const (
	TransportSlack    Transport = "slack"
	TransportTelegram Transport = "telegram"
	TransportLog      Transport = "log"
)

// ParseTransport accepts the app tag of a payload. Empty means fallback.
func ParseTransport(s string, fallback Transport) (Transport, error) {
	switch t := Transport(strings.ToLower(strings.TrimSpace(s))); t {
	case "":
		return fallback, nil
	case TransportSlack, TransportTelegram, TransportLog:
		return t, nil
	default:
		return "", fmt.Errorf("unknown app %q (want slack, telegram or log)", s)
	}
}

// Document asks for a Google Doc generated from a template before sending.
// Its URL is exposed to the message as {doc_url}.
type Document struct {
	TemplateID string `json:"template_id" yaml:"template_id"`
	FolderID   string `json:"folder_id,omitempty" yaml:"folder_id"`
	Name       string `json:"name,omitempty" yaml:"name"`
}

// Payload is everything a message carries besides its trigger.
type Payload struct {
	App          string            `json:"app,omitempty" yaml:"app"`
	Workspace    string            `json:"workspace,omitempty" yaml:"workspace"`
	Channel      string            `json:"channel" yaml:"channel"`
	Text         string            `json:"text,omitempty" yaml:"text"`
	Blocks       []any             `json:"blocks,omitempty" yaml:"blocks"`
	DisplayName  string            `json:"display_name,omitempty" yaml:"display_name"`
	Icon         string            `json:"icon,omitempty" yaml:"icon"`
	ThreadID     int               `json:"thread_id,omitempty" yaml:"thread_id"`
	Replacements map[string]string `json:"replacements,omitempty" yaml:"replacements"`
	Document     *Document         `json:"document,omitempty" yaml:"document"`
}

// Validate checks the payload against the transport it resolves to.
func (p Payload) Validate(fallback Transport) error {
	tr, err := ParseTransport(p.App, fallback)
	if err != nil {
		return err
	}
	if strings.TrimSpace(p.Channel) == "" {
		return errors.New("channel required")
	}
	if strings.TrimSpace(p.Text) == "" && len(p.Blocks) == 0 {
		return errors.New("text or blocks required")
	}
	if p.Document != nil && strings.TrimSpace(p.Document.TemplateID) == "" {
		return errors.New("document.template_id required")
	}
	if tr == TransportTelegram {
		if _, err := strconv.ParseInt(strings.TrimSpace(p.Channel), 10, 64); err != nil {
			return fmt.Errorf("telegram channel must be a numeric chat id, got %q", p.Channel)
		}
	}
	return nil
}
