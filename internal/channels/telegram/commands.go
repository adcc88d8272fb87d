package telegram

import (
	"context"
	"log/slog"
	"strings"

	"github.com/mymmrac/telego"

	"github.com/nextlevelbuilder/famledger/internal/commands"
)

// SyncMenuCommands replaces the bot menu with cmds.
func (c *Channel) SyncMenuCommands(ctx context.Context, cmds []telego.BotCommand) error {
	if err := c.bot.DeleteMyCommands(ctx, nil); err != nil {
		slog.Debug("deleteMyCommands failed (may not exist)", "error", err)
	}
	if len(cmds) == 0 {
		return nil
	}
	if len(cmds) > 100 {
		cmds = cmds[:100]
	}
	return c.bot.SetMyCommands(ctx, &telego.SetMyCommandsParams{Commands: cmds})
}

// DefaultMenuCommands returns the bot menu built from the slash command set.
func DefaultMenuCommands() []telego.BotCommand {
	out := make([]telego.BotCommand, 0, len(commands.Descriptions))
	for _, d := range commands.Descriptions {
		out = append(out, telego.BotCommand{
			Command:     strings.TrimPrefix(string(d.Name), "/"),
			Description: d.Description,
		})
	}
	return out
}
