package discord

import (
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"
)

// messageSender is the subset of *discordgo.Session used by [Responder].
type messageSender interface {
	ChannelMessageSend(channelID, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// Responder posts assistant replies to a Discord text channel.
type Responder struct {
	sender    messageSender
	channelID string
}

// NewResponder returns a Responder writing to channelID.
func NewResponder(session *discordgo.Session, channelID string) *Responder {
	return &Responder{sender: session, channelID: channelID}
}

// Respond sends text as a channel message. Empty text is ignored.
func (r *Responder) Respond(ctx context.Context, text string) error {
	if text == "" {
		return nil
	}
	if _, err := r.sender.ChannelMessageSend(r.channelID, text, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("discord: send reply: %w", err)
	}
	return nil
}
