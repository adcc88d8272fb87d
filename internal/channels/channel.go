// Package channels connects external platforms (Telegram, HTTP webhook) to the
// dispatcher via the message bus.
package channels

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"

	"github.com/nextlevelbuilder/famledger/internal/bus"
)

// MetaUsername is the inbound metadata key carrying the platform username,
// matched against allowlist entries alongside the numeric sender id.
const MetaUsername = "username"

var (
	ErrSenderNotAllowed = errors.New("sender not in allowlist")
	ErrRateLimited      = errors.New("sender rate limited")
)

// Channel is one platform adapter. Start must not block after setup.
type Channel interface {
	Name() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Send(ctx context.Context, msg bus.OutboundMessage) error
	IsRunning() bool
}

// BaseChannel carries what every adapter shares: its name, the bus, the
// sender allowlist and the rate limiter. Adapters embed it.
type BaseChannel struct {
	name    string
	bus     *bus.MessageBus
	running atomic.Bool
	allowed map[string]struct{} // ids and usernames without "@"
	limiter *SenderLimiter
}

// NewBaseChannel creates a BaseChannel. An empty allowList admits everyone and
// a nil limiter disables rate limiting.
func NewBaseChannel(name string, msgBus *bus.MessageBus, allowList []string, limiter *SenderLimiter) *BaseChannel {
	c := &BaseChannel{name: name, bus: msgBus, limiter: limiter}
	if len(allowList) > 0 {
		c.allowed = make(map[string]struct{}, len(allowList))
		for _, a := range allowList {
			if a = strings.TrimPrefix(strings.TrimSpace(a), "@"); a != "" {
				c.allowed[strings.ToLower(a)] = struct{}{}
			}
		}
	}
	return c
}

func (c *BaseChannel) Name() string { return c.name }

func (c *BaseChannel) IsRunning() bool { return c.running.Load() }

func (c *BaseChannel) SetRunning(running bool) { c.running.Store(running) }

func (c *BaseChannel) Bus() *bus.MessageBus { return c.bus }

// IsAllowed matches the sender id or the username (case-insensitive) against
// the allowlist.
func (c *BaseChannel) IsAllowed(senderID, username string) bool {
	if c.allowed == nil {
		return true
	}
	if _, ok := c.allowed[strings.ToLower(senderID)]; ok {
		return true
	}
	if username == "" {
		return false
	}
	_, ok := c.allowed[strings.ToLower(strings.TrimPrefix(username, "@"))]
	return ok
}

// Admit returns nil when msg may enter the pipeline, or ErrSenderNotAllowed /
// ErrRateLimited.
func (c *BaseChannel) Admit(msg bus.InboundMessage) error {
	if !c.IsAllowed(msg.SenderID, msg.Metadata[MetaUsername]) {
		return ErrSenderNotAllowed
	}
	if c.limiter != nil && !c.limiter.Allow(c.name+":"+msg.SenderID) {
		return ErrRateLimited
	}
	return nil
}

// HandleMessage stamps the channel name, admits msg and publishes it.
func (c *BaseChannel) HandleMessage(msg bus.InboundMessage) error {
	msg.Channel = c.name
	if err := c.Admit(msg); err != nil {
		return err
	}
	c.bus.PublishInbound(msg)
	return nil
}
