// Package telegram is the Telegram Bot API channel, using long polling.
package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/mymmrac/telego"

	"github.com/nextlevelbuilder/famledger/internal/bus"
	"github.com/nextlevelbuilder/famledger/internal/channels"
	"github.com/nextlevelbuilder/famledger/internal/config"
)

const (
	ChannelName = "telegram"

	defaultMediaMaxBytes = 20 << 20
	pollTimeoutSeconds   = 30
	menuSyncAttempts     = 3
)

// Channel receives updates by long polling and sends replies with inline
// keyboards and document attachments.
type Channel struct {
	*channels.BaseChannel
	bot        *telego.Bot
	config     config.TelegramConfig
	httpClient *http.Client

	cancel context.CancelFunc
	done   chan struct{} // closed when the poll loop exits
}

// New creates the channel. limiter may be nil.
func New(cfg config.TelegramConfig, msgBus *bus.MessageBus, limiter *channels.SenderLimiter) (*Channel, error) {
	bot, err := telego.NewBot(cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}
	if cfg.MediaMaxBytes <= 0 {
		cfg.MediaMaxBytes = defaultMediaMaxBytes
	}
	return &Channel{
		BaseChannel: channels.NewBaseChannel(ChannelName, msgBus, cfg.AllowFrom, limiter),
		bot:         bot,
		config:      cfg,
		httpClient:  &http.Client{Timeout: 60 * time.Second},
	}, nil
}

func (c *Channel) Start(ctx context.Context) error {
	pollCtx, cancel := context.WithCancel(ctx)
	updates, err := c.bot.UpdatesViaLongPolling(pollCtx, &telego.GetUpdatesParams{
		Timeout:        pollTimeoutSeconds,
		AllowedUpdates: []string{"message", "callback_query"},
	})
	if err != nil {
		cancel()
		return fmt.Errorf("start long polling: %w", err)
	}

	c.cancel = cancel
	c.done = make(chan struct{})
	c.SetRunning(true)
	slog.Info("telegram bot connected", "username", c.bot.Username())

	go c.syncMenu(pollCtx)
	go c.poll(pollCtx, updates)
	return nil
}

func (c *Channel) poll(ctx context.Context, updates <-chan telego.Update) {
	defer close(c.done)
	for {
		select {
		case <-ctx.Done():
			return
		case u, ok := <-updates:
			if !ok {
				slog.Info("telegram updates channel closed")
				return
			}
			c.handleUpdate(ctx, u)
		}
	}
}

func (c *Channel) handleUpdate(ctx context.Context, u telego.Update) {
	switch {
	case u.Message != nil:
		c.handleMessage(ctx, u.Message)
	case u.CallbackQuery != nil:
		c.handleCallbackQuery(ctx, u.CallbackQuery)
	default:
		slog.Debug("telegram update skipped", "update_id", u.UpdateID)
	}
}

// syncMenu publishes the slash-command menu, backing off between attempts.
func (c *Channel) syncMenu(ctx context.Context) {
	for attempt := 1; attempt <= menuSyncAttempts; attempt++ {
		err := c.SyncMenuCommands(ctx, DefaultMenuCommands())
		if err == nil {
			return
		}
		slog.Warn("telegram menu sync failed", "attempt", attempt, "error", err)
		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Duration(attempt*5) * time.Second):
		}
	}
}

// Stop ends polling and waits for the loop to exit, bounded by ctx, so the
// getUpdates lock is released before another instance starts.
func (c *Channel) Stop(ctx context.Context) error {
	c.SetRunning(false)
	if c.cancel == nil {
		return nil
	}
	c.cancel()
	select {
	case <-c.done:
		slog.Info("telegram bot stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("telegram poll loop still running: %w", ctx.Err())
	}
}

func parseChatID(s string) (int64, error) {
	return strconv.ParseInt(s, 10, 64)
}
