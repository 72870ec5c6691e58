package peer

import (
	"testing"
	"time"

	"github.com/orchestra-mcp/collab/src/codec"
	"github.com/orchestra-mcp/collab/src/transfer"
	"github.com/orchestra-mcp/collab/src/types"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newDecoder() *Client {
	return &Client{logger: zerolog.Nop(), reasm: transfer.NewReassembler(time.Minute)}
}

func inbound(t *testing.T, c codec.Codec, env types.Envelope) types.Inbound {
	t.Helper()
	data, err := c.Marshal(env)
	require.NoError(t, err)
	frame, err := c.Unmarshal(data)
	require.NoError(t, err)
	return types.Inbound{Type: frame.Type, Raw: frame.Raw, Codec: c}
}

func TestDecodeRelayMessages(t *testing.T) {
	for _, c := range []codec.Codec{codec.JSON, codec.Msgpack} {
		t.Run(c.Name(), func(t *testing.T) {
			d := newDecoder()

			ev, ok, err := d.decode(inbound(t, c, types.Envelope{Type: types.TypePeers, Data: []string{}}))
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, EventPeers, ev.Kind)
			assert.Empty(t, ev.Peers)

			ev, _, err = d.decode(inbound(t, c, types.Envelope{Type: types.TypePeerJoined, Data: types.PeerJoined{ID: "B", Username: "bob"}}))
			require.NoError(t, err)
			assert.Equal(t, types.PeerJoined{ID: "B", Username: "bob"}, ev.Peer)

			ev, _, err = d.decode(inbound(t, c, types.Envelope{Type: types.TypePeerLeft, Data: types.PeerLeft{ID: "B"}}))
			require.NoError(t, err)
			assert.Equal(t, EventPeerLeft, ev.Kind)
			assert.Equal(t, "B", ev.Peer.ID)

			ev, _, err = d.decode(inbound(t, c, types.Envelope{Type: types.TypeChat, Data: types.ChatMessage{From: "alice", Msg: "hi", TS: 7}}))
			require.NoError(t, err)
			assert.Equal(t, types.ChatMessage{From: "alice", Msg: "hi", TS: 7}, ev.Chat)

			ev, _, err = d.decode(inbound(t, c, types.Envelope{Type: types.TypeClear}))
			require.NoError(t, err)
			assert.Equal(t, EventClear, ev.Kind)

			_, ok, err = d.decode(inbound(t, c, types.Envelope{Type: "shout", Data: "x"}))
			assert.Error(t, err)
			assert.False(t, ok)
		})
	}
}

func TestDecodeFeedsReassembler(t *testing.T) {
	d := newDecoder()
	js := codec.JSON

	ev, ok, err := d.decode(inbound(t, js, types.Envelope{Type: types.TypeFileStart, Data: types.FileMeta{
		ID: "f1", Name: "a.txt", Type: "text/plain", Size: 5, From: "alice",
	}}))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, transfer.EventStarted, ev.Transfer.Kind)

	_, ok, err = d.decode(inbound(t, js, types.Envelope{Type: types.TypeFileChunk, Data: types.FileChunk{ID: "nope", Chunk: []byte("x")}}))
	require.NoError(t, err)
	assert.False(t, ok, "chunks for unknown transfers are skipped")

	ev, ok, err = d.decode(inbound(t, js, types.Envelope{Type: types.TypeFileChunk, Data: types.FileChunk{ID: "f1", Chunk: []byte("hello")}}))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, transfer.EventCompleted, ev.Transfer.Kind)
	assert.Equal(t, []byte("hello"), ev.Transfer.File.Data)
	assert.Equal(t, "alice", ev.Transfer.From)
}

func TestEventKindString(t *testing.T) {
	assert.Equal(t, "peer-joined", EventPeerJoined.String())
	assert.Equal(t, "transfer", EventTransfer.String())
	assert.Equal(t, "unknown", EventKind(99).String())
}
