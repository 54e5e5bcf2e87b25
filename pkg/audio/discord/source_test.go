package discord

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/lumo/pkg/audio"
	"github.com/bwmarrin/discordgo"
)

// silenceOpus is the 3-byte Opus silence frame Discord sends between bursts.
var silenceOpus = []byte{0xF8, 0xFF, 0xFE}

// fakeClock is a manually advanced time source.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// runRecv feeds pkts through recv and returns the queue once they are consumed.
func runRecv(t *testing.T, s *Source, pkts []*discordgo.Packet, between func()) *audio.Queue {
	t.Helper()
	q := audio.NewQueue(64)
	ch := make(chan *discordgo.Packet)
	done := make(chan struct{})
	go func() {
		s.recv(context.Background(), ch, q)
		close(done)
	}()
	for _, p := range pkts {
		ch <- p
		if between != nil {
			between()
		}
	}
	close(ch)
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("recv did not return after packets channel closed")
	}
	return q
}

func TestSource_RecvFramesLockedSpeaker(t *testing.T) {
	t.Parallel()

	clk := &fakeClock{t: time.Unix(0, 0)}
	s := &Source{idleReset: time.Second, now: clk.Now}

	// Each 20 ms packet yields 320 mono samples at 16 kHz; 4 packets fill one frame.
	var pkts []*discordgo.Packet
	for range 4 {
		pkts = append(pkts, &discordgo.Packet{SSRC: 100, Opus: silenceOpus})
		pkts = append(pkts, &discordgo.Packet{SSRC: 200, Opus: silenceOpus})
	}

	q := runRecv(t, s, pkts, func() { clk.Advance(10 * time.Millisecond) })
	if q.Len() != 1 {
		t.Fatalf("want 1 frame from the locked speaker only, got %d", q.Len())
	}
	f, _, _ := q.Poll(context.Background(), time.Millisecond)
	if len(f.Samples) != audio.FrameSamples {
		t.Fatalf("want %d samples, got %d", audio.FrameSamples, len(f.Samples))
	}
}

func TestSource_RecvReleasesIdleSpeaker(t *testing.T) {
	t.Parallel()

	clk := &fakeClock{t: time.Unix(0, 0)}
	s := &Source{idleReset: time.Second, now: clk.Now}

	pkts := []*discordgo.Packet{{SSRC: 100, Opus: silenceOpus}}
	for range 4 {
		pkts = append(pkts, &discordgo.Packet{SSRC: 200, Opus: silenceOpus})
	}

	i := 0
	q := runRecv(t, s, pkts, func() {
		if i == 0 {
			clk.Advance(2 * time.Second)
		}
		i++
	})
	if q.Len() != 1 {
		t.Fatalf("want the second speaker to take over and fill 1 frame, got %d", q.Len())
	}
}

func TestSource_RecvIgnoresNilPackets(t *testing.T) {
	t.Parallel()

	clk := &fakeClock{t: time.Unix(0, 0)}
	s := &Source{idleReset: time.Second, now: clk.Now}
	q := runRecv(t, s, []*discordgo.Packet{nil, nil}, nil)
	if q.Len() != 0 {
		t.Fatalf("want no frames, got %d", q.Len())
	}
}

func TestWithIdleReset(t *testing.T) {
	t.Parallel()
	s := New(&discordgo.Session{}, "g", "c", WithIdleReset(3*time.Second))
	if s.idleReset != 3*time.Second {
		t.Fatalf("want 3s, got %v", s.idleReset)
	}
}

type fakeSender struct {
	channel, content string
}

func (f *fakeSender) ChannelMessageSend(channelID, content string, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	f.channel, f.content = channelID, content
	return &discordgo.Message{}, nil
}

func TestResponder_Respond(t *testing.T) {
	t.Parallel()

	fs := &fakeSender{}
	r := &Responder{sender: fs, channelID: "text-1"}
	if err := r.Respond(context.Background(), "hello"); err != nil {
		t.Fatalf("Respond: %v", err)
	}
	if fs.channel != "text-1" || fs.content != "hello" {
		t.Fatalf("want text-1/hello, got %s/%s", fs.channel, fs.content)
	}

	fs.content = ""
	_ = r.Respond(context.Background(), "")
	if fs.content != "" {
		t.Fatal("want empty reply to be skipped")
	}
}
