package discord

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/cenkalti/backoff/v4"
	"github.com/goodtune/dutytrack/internal/config"
	"github.com/goodtune/dutytrack/internal/presence"
	"github.com/goodtune/dutytrack/internal/storage"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"
)

const (
	defaultMemberCacheSize = 512
	leaderboardSize        = 10
)

// ErrChannelUnavailable is returned when the tracked channel can not be
// inspected, for example before the gateway has delivered the guild.
var ErrChannelUnavailable = errors.New("discord: tracked channel unavailable")

// Client connects the tracker to a Discord guild. It is the membership
// source, the reporter and the notifier for the scheduler.
type Client struct {
	session   *discordgo.Session
	cfg       config.DiscordConfig
	tracker   *presence.Tracker
	bots      *lru.Cache[string, bool] // user id -> is bot
	reminders []string
	now       func() time.Time
	logger    zerolog.Logger
}

// New creates a client. The gateway connection is opened by Open.
func New(cfg config.DiscordConfig, tracker *presence.Tracker, reminders []string, logger zerolog.Logger) (*Client, error) {
	if cfg.Token == "" {
		return nil, errors.New("discord token is required")
	}
	if cfg.GuildID == "" || cfg.VoiceChannelID == "" {
		return nil, errors.New("discord guild_id and voice_channel_id are required")
	}

	session, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("create discord session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentGuilds |
		discordgo.IntentGuildMembers |
		discordgo.IntentGuildVoiceStates |
		discordgo.IntentGuildMessages |
		discordgo.IntentMessageContent
	session.StateEnabled = true
	session.State.TrackVoice = true
	session.State.TrackMembers = true

	c, err := newClient(session, cfg, tracker, reminders, logger)
	if err != nil {
		return nil, err
	}

	session.AddHandler(c.onReady)
	session.AddHandler(c.onVoiceStateUpdate)
	session.AddHandler(c.onMessageCreate)

	return c, nil
}

func newClient(session *discordgo.Session, cfg config.DiscordConfig, tracker *presence.Tracker, reminders []string, logger zerolog.Logger) (*Client, error) {
	size := cfg.MemberCacheSize
	if size <= 0 {
		size = defaultMemberCacheSize
	}
	bots, err := lru.New[string, bool](size)
	if err != nil {
		return nil, fmt.Errorf("create member cache: %w", err)
	}
	if cfg.CommandPrefix == "" {
		cfg.CommandPrefix = "!"
	}

	return &Client{
		session:   session,
		cfg:       cfg,
		tracker:   tracker,
		bots:      bots,
		reminders: reminders,
		now:       time.Now,
		logger:    logger.With().Str("component", "discord").Logger(),
	}, nil
}

// Open connects to the gateway.
func (c *Client) Open() error {
	if err := c.session.Open(); err != nil {
		return fmt.Errorf("open discord gateway: %w", err)
	}
	return nil
}

// WaitForGuild blocks until the gateway has delivered the tracked guild, so
// that the first membership query reflects the channel.
func (c *Client) WaitForGuild(ctx context.Context, maxWait time.Duration) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 250 * time.Millisecond
	policy.MaxElapsedTime = maxWait

	return backoff.Retry(func() error {
		if _, err := c.session.State.Guild(c.cfg.GuildID); err != nil {
			return fmt.Errorf("%w: %v", ErrChannelUnavailable, err)
		}
		return nil
	}, backoff.WithContext(policy, ctx))
}

// Run keeps the gateway connection open until ctx is cancelled. Open must
// have been called first.
func (c *Client) Run(ctx context.Context) error {
	<-ctx.Done()
	return c.Close()
}

// Close disconnects from the gateway.
func (c *Client) Close() error {
	c.logger.Info().Msg("Closing discord gateway")
	if err := c.session.Close(); err != nil {
		return fmt.Errorf("close discord gateway: %w", err)
	}
	return nil
}

// PresentMembers lists the non-bot members currently in the tracked channel.
func (c *Client) PresentMembers(ctx context.Context) ([]presence.MemberID, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	guild, err := c.session.State.Guild(c.cfg.GuildID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrChannelUnavailable, err)
	}
	// An unknown channel would otherwise read as an empty one.
	channel, err := c.session.State.Channel(c.cfg.VoiceChannelID)
	if err != nil {
		return nil, fmt.Errorf("%w: channel %s: %v", ErrChannelUnavailable, c.cfg.VoiceChannelID, err)
	}
	if channel.GuildID != "" && channel.GuildID != c.cfg.GuildID {
		return nil, fmt.Errorf("%w: channel %s belongs to guild %s", ErrChannelUnavailable, channel.ID, channel.GuildID)
	}

	c.session.State.RLock()
	states := make([]*discordgo.VoiceState, len(guild.VoiceStates))
	copy(states, guild.VoiceStates)
	c.session.State.RUnlock()

	return presentIn(states, c.cfg.VoiceChannelID, c.isBot), nil
}

// Report posts a closed period to the report channel.
func (c *Client) Report(ctx context.Context, report storage.PeriodReport) error {
	return c.send(ctx, FormatReport(report))
}

// Notify posts a reminder to the report channel.
func (c *Client) Notify(ctx context.Context, reminder presence.Reminder) error {
	return c.send(ctx, ExpandReminder(reminder.Message, c.cfg.MentionUserID))
}

func (c *Client) send(ctx context.Context, content string) error {
	if c.cfg.ReportChannelID == "" {
		return errors.New("discord report_channel_id is not configured")
	}
	if _, err := c.session.ChannelMessageSend(c.cfg.ReportChannelID, content, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	return nil
}

func (c *Client) onReady(_ *discordgo.Session, r *discordgo.Ready) {
	c.logger.Info().
		Str("user", r.User.Username).
		Int("guilds", len(r.Guilds)).
		Msg("Connected to discord gateway")
}

func (c *Client) onVoiceStateUpdate(_ *discordgo.Session, v *discordgo.VoiceStateUpdate) {
	c.applyVoiceUpdate(v, c.now())
}

// applyVoiceUpdate feeds one voice state change to the tracker
func (c *Client) applyVoiceUpdate(v *discordgo.VoiceStateUpdate, now time.Time) {
	if v.VoiceState == nil || v.GuildID != c.cfg.GuildID {
		return
	}
	if c.isBot(v.VoiceState) {
		return
	}

	member := presence.MemberID(v.UserID)
	logger := c.logger.With().Str("member_id", v.UserID).Logger()

	switch classify(v.BeforeUpdate, v.VoiceState, c.cfg.VoiceChannelID) {
	case transitionJoin:
		if c.tracker.OnJoin(member, now) {
			logger.Info().Msg("Member joined tracked channel")
		}
	case transitionLeave:
		if seconds, ok := c.tracker.OnLeave(member, now); ok {
			logger.Info().Str("duration", FormatDuration(seconds)).Msg("Member left tracked channel")
		}
	}
}

func (c *Client) onMessageCreate(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.Bot {
		return
	}
	reply, ok := c.handleCommand(m.Content)
	if !ok {
		return
	}
	if _, err := s.ChannelMessageSend(m.ChannelID, reply); err != nil {
		c.logger.Error().Err(err).Str("channel_id", m.ChannelID).Msg("Failed to reply to command")
	}
}

// handleCommand returns the reply to a chat command, if content is one
func (c *Client) handleCommand(content string) (string, bool) {
	name, ok := strings.CutPrefix(strings.TrimSpace(content), c.cfg.CommandPrefix)
	if !ok {
		return "", false
	}
	fields := strings.Fields(name)
	if len(fields) == 0 {
		return "", false
	}

	switch strings.ToLower(fields[0]) {
	case "leaderboard", "top":
		return FormatLeaderboard(c.tracker.Leaderboard(leaderboardSize)), true
	case "help":
		return helpText(c.cfg.CommandPrefix, append([]string(nil), c.reminders...)), true
	}
	return "", false
}

// isBot reports whether the voice state belongs to a bot. Lookups are cached.
func (c *Client) isBot(vs *discordgo.VoiceState) bool {
	if vs.Member != nil && vs.Member.User != nil {
		c.bots.Add(vs.UserID, vs.Member.User.Bot)
		return vs.Member.User.Bot
	}
	if bot, ok := c.bots.Get(vs.UserID); ok {
		return bot
	}
	if c.session == nil {
		return false
	}

	member, err := c.session.State.Member(vs.GuildID, vs.UserID)
	if err != nil {
		member, err = c.session.GuildMember(vs.GuildID, vs.UserID)
	}
	if err != nil || member == nil || member.User == nil {
		// Unknown members are tracked; the next lookup retries.
		c.logger.Debug().Err(err).Str("member_id", vs.UserID).Msg("Member lookup failed")
		return false
	}
	c.bots.Add(vs.UserID, member.User.Bot)
	return member.User.Bot
}

type transition int

const (
	transitionNone transition = iota
	transitionJoin
	transitionLeave
)

// classify maps a voice state change to a join or leave of channelID
func classify(before, after *discordgo.VoiceState, channelID string) transition {
	var from, to string
	if before != nil {
		from = before.ChannelID
	}
	if after != nil {
		to = after.ChannelID
	}

	switch {
	case from == to:
		// mute, deafen, stream changes
		return transitionNone
	case to == channelID:
		return transitionJoin
	case from == channelID:
		return transitionLeave
	}
	return transitionNone
}

// presentIn returns the distinct non-bot users in channelID
func presentIn(states []*discordgo.VoiceState, channelID string, isBot func(*discordgo.VoiceState) bool) []presence.MemberID {
	seen := make(map[string]struct{}, len(states))
	members := make([]presence.MemberID, 0, len(states))
	for _, vs := range states {
		if vs == nil || vs.ChannelID != channelID || vs.UserID == "" {
			continue
		}
		if _, dup := seen[vs.UserID]; dup {
			continue
		}
		seen[vs.UserID] = struct{}{}
		if isBot(vs) {
			continue
		}
		members = append(members, presence.MemberID(vs.UserID))
	}
	return members
}
