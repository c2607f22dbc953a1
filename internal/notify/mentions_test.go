// ABOUTME: Tests for mention parsing
// ABOUTME: Covers usernames, duplicates and the channel and here sweeps

package notify

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseMentions(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    Mentions
	}{
		{
			name:    "address-like text",
			content: "just text, email me at a@b",
			want:    Mentions{Usernames: []string{"b"}},
		},
		{
			name:    "plain text",
			content: "no mentions here",
			want:    Mentions{},
		},
		{
			name:    "duplicates collapse",
			content: "@bob and @alice and @bob again",
			want:    Mentions{Usernames: []string{"alice", "bob"}},
		},
		{
			name:    "sweeps are not usernames",
			content: "@channel @here please read, @carol",
			want:    Mentions{Usernames: []string{"carol"}, Channel: true, Here: true},
		},
		{
			name:    "punctuation ends a name",
			content: "thanks @dave!",
			want:    Mentions{Usernames: []string{"dave"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseMentions(tt.content))
		})
	}
}
