package cmd

import (
	"context"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/nextlevelbuilder/famledger/internal/bus"
)

type recordingDispatcher struct {
	mu    sync.Mutex
	texts map[string][]string
}

func (r *recordingDispatcher) Dispatch(_ context.Context, msg bus.InboundMessage) bus.OutboundMessage {
	r.mu.Lock()
	if r.texts == nil {
		r.texts = make(map[string][]string)
	}
	r.texts[msg.SenderID] = append(r.texts[msg.SenderID], msg.Text)
	r.mu.Unlock()
	if msg.Text == "silent" {
		return bus.OutboundMessage{}
	}
	return bus.OutboundMessage{Text: "ok " + msg.Text}
}

func (r *recordingDispatcher) snapshot() map[string][]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string][]string, len(r.texts))
	for k, v := range r.texts {
		out[k] = append([]string(nil), v...)
	}
	return out
}

func runConsumer(t *testing.T, msgBus *bus.MessageBus, d *recordingDispatcher, shards int) (stop func()) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		consumeInbound(ctx, msgBus, d, shards)
		close(done)
	}()
	return func() {
		cancel()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("consumer did not stop")
		}
	}
}

func collectOutbound(t *testing.T, msgBus *bus.MessageBus, n int) []bus.OutboundMessage {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	var out []bus.OutboundMessage
	for len(out) < n {
		msg, ok := msgBus.SubscribeOutbound(ctx)
		if !ok {
			t.Fatalf("expected %d outbound messages, got: %d", n, len(out))
		}
		out = append(out, msg)
	}
	return out
}

// TestConsumeInbound_PreservesPerSenderOrder verifies messages from one sender
// are dispatched in arrival order even with several shards.
func TestConsumeInbound_PreservesPerSenderOrder(t *testing.T) {
	msgBus := bus.New()
	d := &recordingDispatcher{}
	stop := runConsumer(t, msgBus, d, 4)
	defer stop()

	senders := []string{"alice", "bob", "carol"}
	const perSender = 20
	for i := 0; i < perSender; i++ {
		for _, s := range senders {
			msgBus.PublishInbound(bus.InboundMessage{
				ID: s + "-" + strconv.Itoa(i), Channel: "telegram", SenderID: s, ChatID: s, Text: strconv.Itoa(i),
			})
		}
	}
	collectOutbound(t, msgBus, perSender*len(senders))

	got := d.snapshot()
	for _, s := range senders {
		if len(got[s]) != perSender {
			t.Fatalf("expected %d messages for %s, got: %d", perSender, s, len(got[s]))
		}
		for i, text := range got[s] {
			if text != strconv.Itoa(i) {
				t.Fatalf("expected %s message %d to be %q, got: %q", s, i, strconv.Itoa(i), text)
			}
		}
	}
}

// TestConsumeInbound_DropsDuplicates verifies a redelivered message id is
// dispatched once and that replies inherit channel and chat.
func TestConsumeInbound_DropsDuplicates(t *testing.T) {
	msgBus := bus.New()
	d := &recordingDispatcher{}
	stop := runConsumer(t, msgBus, d, 2)
	defer stop()

	msg := bus.InboundMessage{ID: "42", Channel: "telegram", SenderID: "alice", ChatID: "c1", Text: "coffee 3"}
	msgBus.PublishInbound(msg)
	msgBus.PublishInbound(msg)
	msgBus.PublishInbound(bus.InboundMessage{ID: "43", Channel: "telegram", SenderID: "alice", ChatID: "c1", Text: "next"})

	out := collectOutbound(t, msgBus, 2)
	if out[0].Channel != "telegram" || out[0].ChatID != "c1" {
		t.Fatalf("expected reply addressed to telegram/c1, got: %s/%s", out[0].Channel, out[0].ChatID)
	}
	if texts := d.snapshot()["alice"]; len(texts) != 2 || texts[1] != "next" {
		t.Fatalf("expected duplicate to be dropped, got: %v", texts)
	}
}

// TestConsumeInbound_SkipsEmptyReplies verifies nothing is published when the
// dispatcher has nothing to say.
func TestConsumeInbound_SkipsEmptyReplies(t *testing.T) {
	msgBus := bus.New()
	d := &recordingDispatcher{}
	stop := runConsumer(t, msgBus, d, 1)
	defer stop()

	msgBus.PublishInbound(bus.InboundMessage{ID: "1", Channel: "webhook", SenderID: "a", ChatID: "a", Text: "silent"})
	msgBus.PublishInbound(bus.InboundMessage{ID: "2", Channel: "webhook", SenderID: "a", ChatID: "a", Text: "loud"})

	out := collectOutbound(t, msgBus, 1)
	if out[0].Text != "ok loud" {
		t.Fatalf("expected only the non-empty reply, got: %q", out[0].Text)
	}
}

func TestShardFor_Stable(t *testing.T) {
	msg := bus.InboundMessage{Channel: "telegram", SenderID: "12345"}
	first := shardFor(msg, 8)
	for i := 0; i < 10; i++ {
		if got := shardFor(msg, 8); got != first {
			t.Fatalf("expected stable shard %d, got: %d", first, got)
		}
	}
	if got := shardFor(msg, 1); got != 0 {
		t.Fatalf("expected shard 0 with a single shard, got: %d", got)
	}
}
