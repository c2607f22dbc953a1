// ABOUTME: Tests for topic derivation and parsing
// ABOUTME: Covers canonical DM ordering, self-DMs, and malformed input

package topic

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChannel(t *testing.T) {
	assert.Equal(t, Topic("channel_5"), Channel(5))
	assert.True(t, Channel(5).IsChannel())

	id, ok := Channel(42).ChannelID()
	require.True(t, ok)
	assert.Equal(t, int64(42), id)
}

func TestDM_CanonicalOrder(t *testing.T) {
	assert.Equal(t, DM(3, 7), DM(7, 3))
	assert.Equal(t, Topic("dm_3_7"), DM(7, 3))

	a, b, ok := DM(9, 2).Participants()
	require.True(t, ok)
	assert.Equal(t, int64(2), a)
	assert.Equal(t, int64(9), b)
}

func TestDM_Self(t *testing.T) {
	tp := DM(4, 4)
	assert.Equal(t, Topic("dm_4_4"), tp)

	a, b, ok := tp.Participants()
	require.True(t, ok)
	assert.Equal(t, a, b)
}

func TestParse(t *testing.T) {
	tests := []struct {
		in      string
		want    Topic
		wantErr bool
	}{
		{in: "channel_1", want: "channel_1"},
		{in: "dm_1_2", want: "dm_1_2"},
		{in: "dm_9_2", want: "dm_2_9"},
		{in: "dm_5_5", want: "dm_5_5"},
		{in: "channel_", wantErr: true},
		{in: "channel_x", wantErr: true},
		{in: "dm_1", wantErr: true},
		{in: "dm_1_x", wantErr: true},
		{in: "group_1", wantErr: true},
		{in: "", wantErr: true},
		{in: "channel_-3", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := Parse(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrInvalid))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestKind(t *testing.T) {
	assert.Equal(t, KindChannel, Channel(1).Kind())
	assert.Equal(t, KindDM, DM(1, 2).Kind())
	assert.Equal(t, Kind(""), Topic("bogus").Kind())

	_, ok := DM(1, 2).ChannelID()
	assert.False(t, ok)
	_, _, ok = Channel(1).Participants()
	assert.False(t, ok)
}
