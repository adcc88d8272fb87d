package cmd

import (
	"context"
	"hash/fnv"
	"log/slog"
	"sync"
	"time"

	"github.com/nextlevelbuilder/famledger/internal/bus"
	"github.com/nextlevelbuilder/famledger/internal/channels/webhook"
)

const (
	shardQueueSize = 64
	dedupeTTL      = 10 * time.Minute
	dedupeMaxKeys  = 10000
)

// consumeInbound drains the bus into shards keyed by channel and sender, so
// one sender's messages are dispatched in order while different senders run
// concurrently. Replies are published back to the bus. Blocks until ctx is done
// and every shard has finished its queue.
func consumeInbound(ctx context.Context, msgBus *bus.MessageBus, d webhook.Dispatcher, shards int) {
	if shards < 1 {
		shards = 1
	}
	dedupe := bus.NewDedupeCache(dedupeTTL, dedupeMaxKeys)

	queues := make([]chan bus.InboundMessage, shards)
	var wg sync.WaitGroup
	for i := range queues {
		queues[i] = make(chan bus.InboundMessage, shardQueueSize)
		wg.Add(1)
		go func(in <-chan bus.InboundMessage) {
			defer wg.Done()
			for msg := range in {
				dispatchOne(ctx, msgBus, d, msg)
			}
		}(queues[i])
	}

	for {
		msg, ok := msgBus.ConsumeInbound(ctx)
		if !ok {
			break
		}
		if dedupe.Seen(bus.DedupeKey(msg)) {
			slog.Debug("duplicate inbound message dropped", "channel", msg.Channel, "id", msg.ID)
			continue
		}
		select {
		case queues[shardFor(msg, shards)] <- msg:
		case <-ctx.Done():
		}
	}

	for _, q := range queues {
		close(q)
	}
	wg.Wait()
}

func dispatchOne(ctx context.Context, msgBus *bus.MessageBus, d webhook.Dispatcher, msg bus.InboundMessage) {
	out := d.Dispatch(ctx, msg)
	if out.Text == "" && out.Attachment == nil && out.ButtonCount() == 0 {
		return
	}
	if out.Channel == "" {
		out.Channel = msg.Channel
	}
	if out.ChatID == "" {
		out.ChatID = msg.ChatID
	}
	msgBus.PublishOutbound(out)
}

func shardFor(msg bus.InboundMessage, shards int) int {
	h := fnv.New32a()
	h.Write([]byte(msg.Channel))
	h.Write([]byte{0})
	h.Write([]byte(msg.SenderID))
	return int(h.Sum32() % uint32(shards))
}
