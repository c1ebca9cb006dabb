// Package dispatch delivers rendered messages over Slack, Telegram or the
// log. It fills placeholders, optionally generates a Google Doc first,
// rate-limits sends across transports and records an audit row per attempt.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"herald/internal/eventbus"
	"herald/internal/gdocs"
	"herald/internal/storage"
	"herald/internal/template"
	logx "herald/pkg/logx"
)

var ErrNoTransport = errors.New("transport not configured")

// Request is one delivery.
type Request struct {
	JobID     string
	MessageID string
	Payload   Payload
	// EventStart is set for calendar-anchored messages. Date placeholders
	// then describe the event rather than the send time.
	EventStart time.Time
}

type Dispatcher interface {
	Dispatch(ctx context.Context, req Request) error
}

// Message is a fully rendered message handed to a Sender.
type Message struct {
	Workspace   string
	Channel     string
	Text        string
	Blocks      []any
	DisplayName string
	Icon        string
	ThreadID    int
}

// Sender delivers over one transport and returns a target description
// for logs and audit.
type Sender interface {
	Send(ctx context.Context, m Message) (string, error)
}

type Documents interface {
	Generate(ctx context.Context, req gdocs.Request) (gdocs.Result, error)
}

type Auditor interface {
	AppendAudit(ctx context.Context, e storage.AuditEntry) error
}

type Config struct {
	DryRun     bool
	RatePerSec float64
	Burst      int
	DefaultApp Transport
	Location   *time.Location
}

type Option func(*Service)

func WithSender(t Transport, s Sender) Option { return func(d *Service) { d.senders[t] = s } }
func WithDocuments(docs Documents) Option     { return func(d *Service) { d.docs = docs } }
func WithAudit(a Auditor) Option              { return func(d *Service) { d.audit = a } }
func WithBus(b eventbus.Bus) Option           { return func(d *Service) { d.bus = b } }
func WithClock(now func() time.Time) Option   { return func(d *Service) { d.now = now } }

type Service struct {
	cfg     Config
	log     logx.Logger
	senders map[Transport]Sender
	dry     Sender
	docs    Documents
	audit   Auditor
	bus     eventbus.Bus
	limiter *rate.Limiter
	now     func() time.Time
}

func New(cfg Config, log logx.Logger, opts ...Option) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.DefaultApp == "" {
		cfg.DefaultApp = TransportSlack
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	log = log.With(logx.String("comp", "dispatch"))
	limit := rate.Inf
	if cfg.RatePerSec > 0 {
		limit = rate.Limit(cfg.RatePerSec)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	s := &Service{
		cfg:     cfg,
		log:     log,
		senders: map[Transport]Sender{},
		limiter: rate.NewLimiter(limit, burst),
		now:     time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	s.dry = NewLogSender(log)
	if _, ok := s.senders[TransportLog]; !ok {
		s.senders[TransportLog] = s.dry
	}
	return s
}

// DryRun reports whether every send is redirected to the log.
func (s *Service) DryRun() bool { return s.cfg.DryRun }

// Replacements computes the placeholder table for a request.
func (s *Service) Replacements(req Request) map[string]string {
	base := req.EventStart
	if base.IsZero() {
		base = s.now()
	}
	return template.Merge(template.Defaults(base.In(s.cfg.Location)), req.Payload.Replacements)
}

func (s *Service) Dispatch(ctx context.Context, req Request) error {
	p := req.Payload
	tr, err := ParseTransport(p.App, s.cfg.DefaultApp)
	if err != nil {
		return err
	}
	sender := s.senders[tr]
	if s.cfg.DryRun {
		sender = s.dry
	}
	if sender == nil {
		return fmt.Errorf("%s: %w", tr, ErrNoTransport)
	}
	log := s.log.With(logx.String("message_id", req.MessageID), logx.String("job_id", req.JobID), logx.String("transport", string(tr)), logx.String("channel", p.Channel))

	repl := s.Replacements(req)
	if p.Document != nil {
		url, err := s.generateDoc(ctx, *p.Document, repl)
		if err != nil {
			s.finish(ctx, req, tr, "", time.Now(), err)
			log.Error("document generation failed", logx.Any("err", err))
			return err
		}
		repl["{doc_url}"] = url
	}
	r := template.NewReplacer(repl)
	msg := Message{
		Workspace:   p.Workspace,
		Channel:     p.Channel,
		Text:        r.String(p.Text),
		DisplayName: p.DisplayName,
		Icon:        p.Icon,
		ThreadID:    p.ThreadID,
	}
	if len(p.Blocks) > 0 {
		msg.Blocks, _ = r.Apply(p.Blocks).([]any)
	}

	if err := s.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	start := time.Now()
	target, err := sender.Send(ctx, msg)
	s.finish(ctx, req, tr, target, start, err)
	if err != nil {
		log.Error("dispatch failed", logx.String("target", target), logx.Any("err", err))
		return fmt.Errorf("dispatch %s via %s: %w", req.MessageID, tr, err)
	}
	log.Info("message sent", logx.String("target", target), logx.Duration("took", time.Since(start)), logx.Bool("dry_run", s.cfg.DryRun))
	return nil
}

func (s *Service) generateDoc(ctx context.Context, doc Document, repl map[string]string) (string, error) {
	name := doc.Name
	if strings.TrimSpace(name) == "" {
		name = "{date_storage}"
	}
	name = template.NewReplacer(repl).String(name)
	if s.cfg.DryRun {
		s.log.Info("dry run: document not generated", logx.String("template_id", doc.TemplateID), logx.String("name", name))
		return gdocs.URL("dry-run"), nil
	}
	if s.docs == nil {
		return "", fmt.Errorf("google docs: %w", ErrNoTransport)
	}
	res, err := s.docs.Generate(ctx, gdocs.Request{TemplateID: doc.TemplateID, FolderID: doc.FolderID, Name: name, Replacements: repl})
	if err != nil {
		return "", err
	}
	return res.URL, nil
}

func (s *Service) finish(ctx context.Context, req Request, tr Transport, target string, start time.Time, err error) {
	took := time.Since(start)
	if s.audit != nil {
		e := storage.AuditEntry{
			At:        start,
			JobID:     req.JobID,
			MessageID: req.MessageID,
			Transport: string(tr),
			Target:    target,
			OK:        err == nil,
			TookMS:    took.Milliseconds(),
		}
		if s.cfg.DryRun {
			e.Transport = string(TransportLog)
		}
		if err != nil {
			e.Error = err.Error()
		}
		// The audit row must land even if the dispatch context expired.
		actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		if aerr := s.audit.AppendAudit(actx, e); aerr != nil {
			s.log.Warn("audit append failed", logx.String("message_id", req.MessageID), logx.Any("err", aerr))
		}
		cancel()
	}
	if s.bus != nil {
		typ := eventbus.DispatchSent
		if err != nil {
			typ = eventbus.DispatchFailed
		}
		s.bus.Publish(eventbus.Event{Type: typ, Data: Outcome{MessageID: req.MessageID, Transport: tr, Took: took, Err: err}})
	}
}

// Outcome is published on the bus after each attempt.
type Outcome struct {
	MessageID string
	Transport Transport
	Took      time.Duration
	Err       error
}
