package model

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodePayloadPerOp(t *testing.T) {
	cases := []struct {
		name    string
		op      MutationOp
		payload string
		wantErr bool
	}{
		{"hold ok", OpHold, `{"holder_id":"agent-1","ttl_seconds":300}`, false},
		{"hold missing holder", OpHold, `{"ttl_seconds":300}`, true},
		{"release ok", OpRelease, `{"holder_id":"agent-1"}`, false},
		{"release missing holder", OpRelease, `{}`, true},
		{"book ok", OpBook, `{"holder_id":"agent-1","booking_id":"BKG-1"}`, false},
		{"book missing booking", OpBook, `{"holder_id":"agent-1"}`, true},
		{"quantity ok", OpUpdateQuantity, `{"delta":-2}`, false},
		{"quantity zero delta", OpUpdateQuantity, `{"delta":0}`, true},
		{"malformed json", OpHold, `{`, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			m := OfflineMutation{Op: tc.op}
			err := m.DecodePayload(json.RawMessage(tc.payload))
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestDecodePayloadUnknownOp(t *testing.T) {
	m := OfflineMutation{Op: MutationOp("upgrade")}
	err := m.DecodePayload(json.RawMessage(`{}`))
	assert.True(t, errors.Is(err, ErrUnknownOp))
}

func TestEncodePayloadRoundTrip(t *testing.T) {
	m := OfflineMutation{Op: OpHold, Hold: &HoldPayload{HolderID: "agent-1", TTLSeconds: 60}}
	raw, err := m.EncodePayload()
	require.NoError(t, err)

	decoded := OfflineMutation{Op: OpHold}
	require.NoError(t, decoded.DecodePayload(raw))
	assert.Equal(t, m.Hold, decoded.Hold)
}

func TestParseStrategy(t *testing.T) {
	for _, s := range []string{"last_write_wins", "first_write_wins", "manual"} {
		got, err := ParseStrategy(s)
		require.NoError(t, err)
		assert.Equal(t, Strategy(s), got)
	}
	_, err := ParseStrategy("newest_wins")
	assert.Error(t, err)
}
