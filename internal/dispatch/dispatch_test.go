package dispatch

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"herald/internal/eventbus"
	"herald/internal/gdocs"
	"herald/internal/storage"
	logx "herald/pkg/logx"
)

type recordSender struct {
	mu   sync.Mutex
	sent []Message
	err  error
}

func (r *recordSender) Send(_ context.Context, m Message) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, m)
	return "fake:" + m.Channel, r.err
}

type recordAudit struct {
	mu      sync.Mutex
	entries []storage.AuditEntry
}

func (r *recordAudit) AppendAudit(_ context.Context, e storage.AuditEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, e)
	return nil
}

type fakeDocs struct {
	got gdocs.Request
}

func (f *fakeDocs) Generate(_ context.Context, req gdocs.Request) (gdocs.Result, error) {
	f.got = req
	return gdocs.Result{ID: "d1", URL: gdocs.URL("d1")}, nil
}

var fixedNow = time.Date(2025, 8, 1, 9, 0, 0, 0, time.UTC)

func newTestService(opts ...Option) *Service {
	opts = append([]Option{WithClock(func() time.Time { return fixedNow })}, opts...)
	return New(Config{Location: time.UTC}, logx.Nop(), opts...)
}

func TestDispatchRendersPlaceholders(t *testing.T) {
	t.Parallel()
	slack := &recordSender{}
	audit := &recordAudit{}
	svc := newTestService(WithSender(TransportSlack, slack), WithAudit(audit))

	req := Request{JobID: "message_1_standup", MessageID: "standup", Payload: Payload{
		Channel:      "#team",
		Text:         "Standup {date} with {who}",
		Blocks:       []any{map[string]any{"type": "section", "text": map[string]any{"type": "mrkdwn", "text": "{month} {year}"}}},
		Replacements: map[string]string{"{who}": "everyone"},
	}}
	if err := svc.Dispatch(context.Background(), req); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if len(slack.sent) != 1 {
		t.Fatalf("sent %d messages", len(slack.sent))
	}
	m := slack.sent[0]
	if m.Text != "Standup 1st August 2025 with everyone" {
		t.Fatalf("text = %q", m.Text)
	}
	inner := m.Blocks[0].(map[string]any)["text"].(map[string]any)["text"]
	if inner != "August 2025" {
		t.Fatalf("block text = %v", inner)
	}
	if req.Payload.Text != "Standup {date} with {who}" {
		t.Fatal("payload was mutated")
	}
	if len(audit.entries) != 1 || !audit.entries[0].OK || audit.entries[0].Transport != "slack" || audit.entries[0].Target != "fake:#team" {
		t.Fatalf("audit = %+v", audit.entries)
	}
}

func TestDispatchUsesEventStart(t *testing.T) {
	t.Parallel()
	tg := &recordSender{}
	svc := newTestService(WithSender(TransportTelegram, tg))
	event := time.Date(2025, 8, 3, 14, 0, 0, 0, time.UTC)
	err := svc.Dispatch(context.Background(), Request{MessageID: "m", EventStart: event, Payload: Payload{App: "telegram", Channel: "-100123", Text: "{date} at {time}"}})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if got := tg.sent[0].Text; got != "3rd August 2025 at 02:00 PM" {
		t.Fatalf("text = %q", got)
	}
}

func TestDispatchFailureIsAuditedAndPublished(t *testing.T) {
	t.Parallel()
	boom := errors.New("channel_not_found")
	audit := &recordAudit{}
	bus := eventbus.New()
	events, unsub := bus.Subscribe(4)
	defer unsub()
	svc := newTestService(WithSender(TransportSlack, &recordSender{err: boom}), WithAudit(audit), WithBus(bus))

	err := svc.Dispatch(context.Background(), Request{MessageID: "m", Payload: Payload{Channel: "#x", Text: "hi"}})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want wrapped boom", err)
	}
	if len(audit.entries) != 1 || audit.entries[0].OK || audit.entries[0].Error == "" {
		t.Fatalf("audit = %+v", audit.entries)
	}
	select {
	case e := <-events:
		if e.Type != eventbus.DispatchFailed {
			t.Fatalf("event type = %s", e.Type)
		}
	case <-time.After(time.Second):
		t.Fatal("no bus event")
	}
}

func TestDispatchGeneratesDocument(t *testing.T) {
	t.Parallel()
	slack := &recordSender{}
	docs := &fakeDocs{}
	svc := newTestService(WithSender(TransportSlack, slack), WithDocuments(docs))

	err := svc.Dispatch(context.Background(), Request{MessageID: "notes", Payload: Payload{
		Channel:  "#team",
		Text:     "Notes: {doc_url}",
		Document: &Document{TemplateID: "tmpl", FolderID: "f", Name: "Minutes {date_storage}"},
	}})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if docs.got.Name != "Minutes 2025 08 01" || docs.got.TemplateID != "tmpl" || docs.got.Replacements["{date}"] != "1st August 2025" {
		t.Fatalf("doc request = %+v", docs.got)
	}
	if slack.sent[0].Text != "Notes: https://docs.google.com/document/d/d1" {
		t.Fatalf("text = %q", slack.sent[0].Text)
	}
}

func TestDryRunNeverCallsTransport(t *testing.T) {
	t.Parallel()
	slack := &recordSender{}
	audit := &recordAudit{}
	svc := New(Config{DryRun: true}, logx.Nop(), WithSender(TransportSlack, slack), WithAudit(audit))
	err := svc.Dispatch(context.Background(), Request{MessageID: "m", Payload: Payload{Channel: "#x", Text: "hi", Document: &Document{TemplateID: "t"}}})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if len(slack.sent) != 0 {
		t.Fatal("dry run reached the slack sender")
	}
	if audit.entries[0].Transport != "log" {
		t.Fatalf("audit transport = %q", audit.entries[0].Transport)
	}
}

func TestMissingTransport(t *testing.T) {
	t.Parallel()
	svc := newTestService()
	err := svc.Dispatch(context.Background(), Request{MessageID: "m", Payload: Payload{App: "telegram", Channel: "1", Text: "x"}})
	if !errors.Is(err, ErrNoTransport) {
		t.Fatalf("err = %v, want ErrNoTransport", err)
	}
}

func TestPayloadValidate(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		p       Payload
		wantErr string
	}{
		{name: "ok slack", p: Payload{Channel: "#a", Text: "x"}},
		{name: "ok blocks only", p: Payload{Channel: "#a", Blocks: []any{map[string]any{"type": "divider"}}}},
		{name: "ok telegram", p: Payload{App: "Telegram", Channel: "-1001", Text: "x"}},
		{name: "unknown app", p: Payload{App: "discord", Channel: "#a", Text: "x"}, wantErr: "unknown app"},
		{name: "no channel", p: Payload{Text: "x"}, wantErr: "channel required"},
		{name: "no content", p: Payload{Channel: "#a"}, wantErr: "text or blocks"},
		{name: "telegram name", p: Payload{App: "telegram", Channel: "#a", Text: "x"}, wantErr: "numeric chat id"},
		{name: "document no template", p: Payload{Channel: "#a", Text: "x", Document: &Document{}}, wantErr: "template_id"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.p.Validate(TransportSlack)
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("Validate err = %v, want %q", err, tt.wantErr)
			}
		})
	}
}

func TestSplitText(t *testing.T) {
	t.Parallel()
	if got := splitText("short", 10); len(got) != 1 {
		t.Fatalf("chunks = %v", got)
	}
	s := strings.Repeat("a", 7) + "\n" + strings.Repeat("b", 7)
	got := splitText(s, 10)
	if len(got) != 2 || got[0] != strings.Repeat("a", 7)+"\n" || got[1] != strings.Repeat("b", 7) {
		t.Fatalf("chunks = %q", got)
	}
	if strings.Join(splitText(strings.Repeat("x", 25), 10), "") != strings.Repeat("x", 25) {
		t.Fatal("split lost text")
	}
}
