// Package discord provides an [audio.Source] that listens to a Discord voice
// channel via the bwmarrin/discordgo library, plus a text-channel responder for
// spoken replies.
//
// Discord delivers one Opus stream per speaker (keyed by SSRC). The turn
// pipeline is single-speaker, so the source locks onto the first SSRC it hears
// and ignores everyone else until that speaker has been quiet for the idle
// window. Decoded 48 kHz stereo audio is downmixed and resampled to the
// pipeline's 16 kHz mono format before it is framed and queued.
package discord

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/MrWong99/lumo/pkg/audio"
	"github.com/bwmarrin/discordgo"
)

// Compile-time interface assertion.
var _ audio.Source = (*Source)(nil)

const defaultIdleReset = time.Second

// Option configures a [Source].
type Option func(*Source)

// WithIdleReset sets how long the locked speaker must be silent before
// another SSRC may take over. Defaults to one second.
func WithIdleReset(d time.Duration) Option {
	return func(s *Source) { s.idleReset = d }
}

// Source joins a voice channel and streams the active speaker's audio.
type Source struct {
	session   *discordgo.Session
	guildID   string
	channelID string
	idleReset time.Duration
	now       func() time.Time
}

// New creates a Source for the given session, guild and voice channel. The
// session must already be open.
func New(session *discordgo.Session, guildID, channelID string, opts ...Option) *Source {
	s := &Source{
		session:   session,
		guildID:   guildID,
		channelID: channelID,
		idleReset: defaultIdleReset,
		now:       time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Stream implements [audio.Source]. It joins the channel self-muted (the bot
// only listens) and leaves when ctx is cancelled.
func (s *Source) Stream(ctx context.Context, q *audio.Queue) error {
	vc, err := s.session.ChannelVoiceJoin(s.guildID, s.channelID, true, false)
	if err != nil {
		return fmt.Errorf("discord: join voice channel %q: %w", s.channelID, err)
	}
	defer func() {
		if err := vc.Disconnect(); err != nil {
			slog.Warn("discord: leave voice channel", "err", err)
		}
	}()

	slog.Info("discord: listening", "guild", s.guildID, "channel", s.channelID)
	s.recv(ctx, vc.OpusRecv, q)
	return nil
}

// recv decodes packets from the locked speaker and pushes framed audio to q
// until ctx is done or packets is closed.
func (s *Source) recv(ctx context.Context, packets <-chan *discordgo.Packet, q *audio.Queue) {
	decoders := make(map[uint32]*opusDecoder)
	var (
		framer   audio.Framer
		locked   uint32
		haveLock bool
		lastSeen time.Time
	)

	for {
		select {
		case <-ctx.Done():
			return
		case pkt, ok := <-packets:
			if !ok {
				return
			}
			if pkt == nil {
				continue
			}

			now := s.now()
			if haveLock && pkt.SSRC != locked && now.Sub(lastSeen) > s.idleReset {
				slog.Debug("discord: speaker idle, releasing lock", "ssrc", locked)
				haveLock = false
			}
			if !haveLock {
				locked, haveLock = pkt.SSRC, true
				framer.Reset()
				slog.Debug("discord: locked onto speaker", "ssrc", locked)
			}
			if pkt.SSRC != locked {
				continue
			}
			lastSeen = now

			dec, exists := decoders[pkt.SSRC]
			if !exists {
				var err error
				dec, err = newOpusDecoder()
				if err != nil {
					slog.Error("discord: failed to create opus decoder", "ssrc", pkt.SSRC, "err", err)
					continue
				}
				decoders[pkt.SSRC] = dec
			}

			pcm, err := dec.decode(pkt.Opus)
			if err != nil {
				slog.Warn("discord: opus decode error", "ssrc", pkt.SSRC, "err", err)
				continue
			}

			mono := audio.ResampleMono(audio.StereoToMono(pcm), opusSampleRate, audio.SampleRate)
			for _, f := range framer.Write(audio.Int16ToFloat32(mono)) {
				q.Push(f)
			}
		}
	}
}
