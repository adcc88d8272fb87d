// Package sessions builds the keys that identify one sender's conversation.
//
// Keys follow the format:
//
//	{channel}:direct:{senderId}
//
// Examples:
//
//	telegram:direct:386246614
//	webhook:direct:user-42
package sessions

import "fmt"

const peerDirect = "direct"

// BuildConversationKey builds the conversation-state key for a sender on a channel.
func BuildConversationKey(channel, senderID string) string {
	return fmt.Sprintf("%s:%s:%s", channel, peerDirect, senderID)
}
