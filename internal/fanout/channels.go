// ABOUTME: Bus channel naming for the chat, user, and global namespaces
// ABOUTME: Maps topics and user IDs to bus channels and back

package fanout

import (
	"strconv"
	"strings"

	"github.com/2389/coven-chat/internal/topic"
)

// GlobalChannel carries events for every live connection.
const GlobalChannel = "global:events"

const (
	chatPrefix = "chat:"
	userPrefix = "user:"
)

// Patterns are the bus subscriptions every listener holds.
var Patterns = []string{chatPrefix + "*", userPrefix + "*", GlobalChannel}

// ChatChannel returns the bus channel for a topic.
func ChatChannel(t topic.Topic) string {
	return chatPrefix + string(t)
}

// UserChannel returns the bus channel for one user.
func UserChannel(userID int64) string {
	return userPrefix + strconv.FormatInt(userID, 10)
}

type namespace int

const (
	nsUnknown namespace = iota
	nsChat
	nsUser
	nsGlobal
)

// route classifies a channel and returns its topic or user ID.
func route(channel string) (ns namespace, t topic.Topic, userID int64) {
	switch {
	case channel == GlobalChannel:
		return nsGlobal, "", 0
	case strings.HasPrefix(channel, chatPrefix):
		rest := strings.TrimPrefix(channel, chatPrefix)
		if rest == "" {
			return nsUnknown, "", 0
		}
		return nsChat, topic.Topic(rest), 0
	case strings.HasPrefix(channel, userPrefix):
		id, err := strconv.ParseInt(strings.TrimPrefix(channel, userPrefix), 10, 64)
		if err != nil {
			return nsUnknown, "", 0
		}
		return nsUser, "", id
	}
	return nsUnknown, "", 0
}
