package voice

import (
	"context"
	"errors"
	"fmt"

	"github.com/bwmarrin/discordgo"
	"github.com/nomercy/ranked-backend/internal/models"
	"go.uber.org/zap"
)

// channelAPI the slice of the Discord session used here.
type channelAPI interface {
	GuildChannelCreateComplex(guildID string, data discordgo.GuildChannelCreateData, options ...discordgo.RequestOption) (*discordgo.Channel, error)
	ChannelDelete(channelID string, options ...discordgo.RequestOption) (*discordgo.Channel, error)
}

// DiscordProvisioner creates a category with one voice channel per team.
type DiscordProvisioner struct {
	api            channelAPI
	guildID        string
	categoryPrefix string
	logger         *zap.Logger
}

func NewDiscordProvisioner(token, guildID, categoryPrefix string, logger *zap.Logger) (*DiscordProvisioner, error) {
	if token == "" || guildID == "" {
		return nil, errors.New("discord token and guild id are required")
	}
	s, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("failed to create discord session: %w", err)
	}
	return newProvisioner(s, guildID, categoryPrefix, logger), nil
}

func newProvisioner(api channelAPI, guildID, categoryPrefix string, logger *zap.Logger) *DiscordProvisioner {
	if categoryPrefix == "" {
		categoryPrefix = "Ranked Match"
	}
	return &DiscordProvisioner{
		api:            api,
		guildID:        guildID,
		categoryPrefix: categoryPrefix,
		logger:         logger.Named("voice"),
	}
}

// ProvisionChannels creates the category and both team channels. On failure
// anything already created is deleted.
func (p *DiscordProvisioner) ProvisionChannels(ctx context.Context, matchID string, team1, team2 []string, mode string) (*models.VoiceChannels, error) {
	opt := discordgo.WithContext(ctx)

	cat, err := p.api.GuildChannelCreateComplex(p.guildID, discordgo.GuildChannelCreateData{
		Name: fmt.Sprintf("%s %s %s", p.categoryPrefix, mode, shortID(matchID)),
		Type: discordgo.ChannelTypeGuildCategory,
	}, opt)
	if err != nil {
		return nil, fmt.Errorf("failed to create category: %w", err)
	}
	created := []string{cat.ID}

	channels := &models.VoiceChannels{CategoryID: cat.ID}
	for i, team := range [][]string{team1, team2} {
		ch, err := p.api.GuildChannelCreateComplex(p.guildID, discordgo.GuildChannelCreateData{
			Name:      fmt.Sprintf("Team %d", i+1),
			Type:      discordgo.ChannelTypeGuildVoice,
			ParentID:  cat.ID,
			UserLimit: len(team),
		}, opt)
		if err != nil {
			p.rollback(created)
			return nil, fmt.Errorf("failed to create team %d channel: %w", i+1, err)
		}
		created = append(created, ch.ID)
		if i == 0 {
			channels.Team1ChannelID = ch.ID
		} else {
			channels.Team2ChannelID = ch.ID
		}
	}

	p.logger.Info("Provisioned voice channels",
		zap.String("matchId", matchID),
		zap.String("categoryId", cat.ID))
	return channels, nil
}

// ReleaseChannels deletes the team channels and their category.
func (p *DiscordProvisioner) ReleaseChannels(ctx context.Context, channels *models.VoiceChannels) error {
	if channels == nil {
		return nil
	}
	var errs []error
	for _, id := range []string{channels.Team1ChannelID, channels.Team2ChannelID, channels.CategoryID} {
		if id == "" {
			continue
		}
		if _, err := p.api.ChannelDelete(id, discordgo.WithContext(ctx)); err != nil {
			errs = append(errs, fmt.Errorf("failed to delete channel %s: %w", id, err))
		}
	}
	return errors.Join(errs...)
}

// rollback runs detached from the caller's context, which may be what failed.
func (p *DiscordProvisioner) rollback(ids []string) {
	for i := len(ids) - 1; i >= 0; i-- {
		if _, err := p.api.ChannelDelete(ids[i]); err != nil {
			p.logger.Warn("Failed to roll back voice channel", zap.String("channelId", ids[i]), zap.Error(err))
		}
	}
}

func shortID(s string) string {
	if len(s) <= 6 {
		return s
	}
	return s[len(s)-6:]
}
