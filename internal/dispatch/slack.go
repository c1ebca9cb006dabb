package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/slack-go/slack"

	"herald/internal/template"
	logx "herald/pkg/logx"
)

const memberCacheTTL = 10 * time.Minute

// SlackConfig holds bot tokens. Workspaces maps a workspace name (as used
// by the payload's workspace key, case-insensitive) to its token; Token is
// used when the payload names none.
type SlackConfig struct {
	Token      string
	Workspaces map[string]string
	APIURL     string // tests only
}

// Slack delivers via chat.postMessage and rewrites @mentions against the
// target channel's members.
type Slack struct {
	cfg SlackConfig
	log logx.Logger

	mu      sync.Mutex
	clients map[string]*slack.Client
	members map[string]memberEntry
}

type memberEntry struct {
	channelID string
	names     map[string]string
	at        time.Time
}

func NewSlack(cfg SlackConfig, log logx.Logger) *Slack {
	ws := make(map[string]string, len(cfg.Workspaces))
	for k, v := range cfg.Workspaces {
		ws[strings.ToLower(k)] = v
	}
	cfg.Workspaces = ws
	return &Slack{cfg: cfg, log: log, clients: map[string]*slack.Client{}, members: map[string]memberEntry{}}
}

func (s *Slack) client(workspace string) (*slack.Client, error) {
	key := strings.ToLower(strings.TrimSpace(workspace))
	token := s.cfg.Token
	if key != "" {
		t, ok := s.cfg.Workspaces[key]
		if !ok {
			return nil, fmt.Errorf("no slack token for workspace %q", workspace)
		}
		token = t
	}
	if token == "" {
		return nil, fmt.Errorf("slack: %w", ErrNoTransport)
	}
	if !strings.HasPrefix(token, "xoxb-") {
		return nil, fmt.Errorf("slack token for workspace %q is not a bot token (xoxb-)", workspace)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if c := s.clients[key]; c != nil {
		return c, nil
	}
	var opts []slack.Option
	if s.cfg.APIURL != "" {
		opts = append(opts, slack.OptionAPIURL(s.cfg.APIURL))
	}
	c := slack.New(token, opts...)
	s.clients[key] = c
	return c, nil
}

func (s *Slack) Send(ctx context.Context, m Message) (string, error) {
	api, err := s.client(m.Workspace)
	if err != nil {
		return m.Channel, err
	}

	target := m.Channel
	members, channelID, err := s.channelMembers(ctx, api, m.Workspace, m.Channel)
	if err != nil {
		// Mentions stay untagged; the post itself may still succeed.
		s.log.Warn("slack member lookup failed", logx.String("channel", m.Channel), logx.Any("err", err))
	}
	if channelID != "" {
		target = channelID
	}

	opts := []slack.MsgOption{slack.MsgOptionText(template.TagUsers(m.Text, members), false)}
	if len(m.Blocks) > 0 {
		blocks, err := toBlocks(template.TagRecursive(m.Blocks, members))
		if err != nil {
			return target, err
		}
		opts = append(opts, slack.MsgOptionBlocks(blocks.BlockSet...))
	}
	if m.DisplayName != "" {
		opts = append(opts, slack.MsgOptionUsername(m.DisplayName))
		if icon := strings.TrimSpace(m.Icon); icon != "" {
			if strings.HasPrefix(icon, "http") {
				opts = append(opts, slack.MsgOptionIconURL(icon))
			} else {
				opts = append(opts, slack.MsgOptionIconEmoji(emoji(icon)))
			}
		}
	}

	ch, ts, err := api.PostMessageContext(ctx, target, opts...)
	if err != nil {
		return target, fmt.Errorf("slack post: %w", err)
	}
	return ch + "/" + ts, nil
}

func emoji(icon string) string {
	if strings.HasPrefix(icon, ":") && strings.HasSuffix(icon, ":") && len(icon) > 1 {
		return icon
	}
	return ":" + strings.Trim(icon, ":") + ":"
}

func toBlocks(v any) (slack.Blocks, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return slack.Blocks{}, fmt.Errorf("encode blocks: %w", err)
	}
	var b slack.Blocks
	if err := json.Unmarshal(raw, &b); err != nil {
		return slack.Blocks{}, fmt.Errorf("decode blocks: %w", err)
	}
	return b, nil
}

// channelMembers maps display name (or username) and username to user id
// for members of channel. Results are cached per workspace and channel.
func (s *Slack) channelMembers(ctx context.Context, api *slack.Client, workspace, channel string) (map[string]string, string, error) {
	key := strings.ToLower(workspace) + "|" + channel
	s.mu.Lock()
	if e, ok := s.members[key]; ok && time.Since(e.at) < memberCacheTTL {
		s.mu.Unlock()
		return e.names, e.channelID, nil
	}
	s.mu.Unlock()

	channelID, err := s.channelID(ctx, api, channel)
	if err != nil {
		return nil, "", err
	}

	inChannel := map[string]bool{}
	cursor := ""
	for {
		ids, next, err := api.GetUsersInConversationContext(ctx, &slack.GetUsersInConversationParameters{ChannelID: channelID, Cursor: cursor, Limit: 200})
		if err != nil {
			return nil, channelID, fmt.Errorf("conversation members: %w", err)
		}
		for _, id := range ids {
			inChannel[id] = true
		}
		if next == "" {
			break
		}
		cursor = next
	}

	users, err := api.GetUsersContext(ctx)
	if err != nil {
		return nil, channelID, fmt.Errorf("users list: %w", err)
	}
	names := map[string]string{}
	for _, u := range users {
		if !inChannel[u.ID] {
			continue
		}
		display := u.Profile.DisplayName
		if display == "" {
			display = u.Name
		}
		names[display] = u.ID
		names[u.Name] = u.ID
	}

	s.mu.Lock()
	s.members[key] = memberEntry{channelID: channelID, names: names, at: time.Now()}
	s.mu.Unlock()
	return names, channelID, nil
}

// channelID resolves "#name" or "name" to a conversation id. Values that
// already look like ids are returned unchanged.
func (s *Slack) channelID(ctx context.Context, api *slack.Client, channel string) (string, error) {
	name := strings.TrimPrefix(strings.TrimSpace(channel), "#")
	if looksLikeChannelID(name) {
		return name, nil
	}
	for _, typ := range []string{"public_channel", "private_channel"} {
		cursor := ""
		for {
			chans, next, err := api.GetConversationsContext(ctx, &slack.GetConversationsParameters{Types: []string{typ}, Cursor: cursor, Limit: 200, ExcludeArchived: true})
			if err != nil {
				return "", fmt.Errorf("conversations list: %w", err)
			}
			for _, c := range chans {
				if c.Name == name {
					return c.ID, nil
				}
			}
			if next == "" {
				break
			}
			cursor = next
		}
	}
	return "", fmt.Errorf("channel %q not found or bot is not a member", channel)
}

func looksLikeChannelID(s string) bool {
	if len(s) < 9 || (s[0] != 'C' && s[0] != 'G' && s[0] != 'D') {
		return false
	}
	for _, r := range s {
		if (r < 'A' || r > 'Z') && (r < '0' || r > '9') {
			return false
		}
	}
	return true
}
