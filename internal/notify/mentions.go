// ABOUTME: Mention parsing for message content
// ABOUTME: Extracts @username tokens and the @channel and @here sweeps

package notify

import (
	"regexp"
	"slices"
)

var mentionPattern = regexp.MustCompile(`@(\w+)`)

// Mentions is what a message's text asks to notify.
type Mentions struct {
	Usernames []string // sorted, without duplicates
	Channel   bool     // @channel: every member
	Here      bool     // @here: members online anywhere
}

// ParseMentions scans content for mentions. The words "channel" and "here"
// are sweeps, never usernames.
func ParseMentions(content string) Mentions {
	var m Mentions
	for _, match := range mentionPattern.FindAllStringSubmatch(content, -1) {
		switch name := match[1]; name {
		case "channel":
			m.Channel = true
		case "here":
			m.Here = true
		default:
			m.Usernames = append(m.Usernames, name)
		}
	}
	slices.Sort(m.Usernames)
	m.Usernames = slices.Compact(m.Usernames)
	return m
}
