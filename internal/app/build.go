package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"google.golang.org/api/option"

	"herald/internal/calendar"
	"herald/internal/config"
	"herald/internal/dispatch"
	"herald/internal/eventbus"
	"herald/internal/gdocs"
	"herald/internal/googleauth"
	"herald/internal/observability/debugsrv"
	"herald/internal/storage"
	logx "herald/pkg/logx"
)

// ErrCalendarDisabled is returned by the calendar finder when no Google
// credentials are configured.
var ErrCalendarDisabled = errors.New("google calendar not configured")

func LogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func debugConfig(cfg *config.Config) debugsrv.Config {
	return debugsrv.Config{
		Enabled:       cfg.Debug.Enabled,
		Addr:          cfg.Debug.Addr,
		Token:         cfg.Debug.Token,
		AllowInsecure: cfg.Debug.AllowInsecure,
	}
}

func OpenStore(cfg *config.Config, dur config.Durations, log logx.Logger) (storage.Store, error) {
	return storage.Open(storage.Config{Path: cfg.Scheduler.DBPath, BusyTimeout: dur.BusyTimeout}, log)
}

func googleAuth(cfg *config.Config) googleauth.Config {
	return googleauth.Config{CredentialsFile: cfg.Google.CredentialsFile, TokenFile: cfg.Google.TokenFile}
}

// GoogleOptions returns client options for the Google APIs, or nil when no
// credentials file is configured.
func GoogleOptions(ctx context.Context, cfg *config.Config) ([]option.ClientOption, error) {
	if strings.TrimSpace(cfg.Google.CredentialsFile) == "" {
		return nil, nil
	}
	return googleauth.ClientOptions(ctx, googleAuth(cfg))
}

// NewFinder builds the calendar collaborator. Without credentials every
// lookup fails with ErrCalendarDisabled, which the resolver treats as
// not ready.
func NewFinder(ctx context.Context, cfg *config.Config, gopts []option.ClientOption, log logx.Logger) (calendar.Finder, error) {
	if gopts == nil {
		return calendar.FinderFunc(func(context.Context, string, string, int) (*calendar.Event, error) {
			return nil, ErrCalendarDisabled
		}), nil
	}
	loc, err := time.LoadLocation(cfg.Scheduler.Timezone)
	if err != nil {
		return nil, err
	}
	g, err := calendar.NewGoogle(ctx, loc, log, gopts...)
	if err != nil {
		return nil, err
	}
	return g, nil
}

// NewDispatcher builds the delivery service with every configured
// transport. dryRun overrides dispatch.dry_run when true.
func NewDispatcher(ctx context.Context, cfg *config.Config, gopts []option.ClientOption, store storage.Store, bus eventbus.Bus, log logx.Logger, dryRun bool) (*dispatch.Service, error) {
	loc, err := time.LoadLocation(cfg.Scheduler.Timezone)
	if err != nil {
		return nil, err
	}
	def, err := dispatch.ParseTransport(cfg.Dispatch.DefaultApp, dispatch.TransportSlack)
	if err != nil {
		return nil, fmt.Errorf("dispatch.default_app: %w", err)
	}

	var opts []dispatch.Option
	if strings.TrimSpace(cfg.Slack.Token) != "" || len(cfg.Slack.Workspaces) > 0 {
		opts = append(opts, dispatch.WithSender(dispatch.TransportSlack, dispatch.NewSlack(dispatch.SlackConfig{
			Token:      cfg.Slack.Token,
			Workspaces: cfg.Slack.Workspaces,
		}, log.With(logx.String("comp", "slack")))))
	}
	// A telegram bot is only built for real sends: NewBot calls getMe.
	if strings.TrimSpace(cfg.Telegram.Token) != "" && !(dryRun || cfg.Dispatch.DryRun) {
		tg, err := dispatch.NewTelegram(cfg.Telegram.Token, log.With(logx.String("comp", "telegram")))
		if err != nil {
			return nil, err
		}
		opts = append(opts, dispatch.WithSender(dispatch.TransportTelegram, tg))
	}
	if gopts != nil {
		docs, err := gdocs.New(ctx, log, gopts...)
		if err != nil {
			return nil, err
		}
		opts = append(opts, dispatch.WithDocuments(docs))
	}
	if store != nil {
		opts = append(opts, dispatch.WithAudit(store))
	}
	if bus != nil {
		opts = append(opts, dispatch.WithBus(bus))
	}
	return dispatch.New(dispatch.Config{
		DryRun:     dryRun || cfg.Dispatch.DryRun,
		RatePerSec: cfg.Dispatch.RatePerSec,
		Burst:      cfg.Dispatch.Burst,
		DefaultApp: def,
		Location:   loc,
	}, log, opts...), nil
}
