package transfer

import (
	"bytes"
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/orchestra-mcp/collab/src/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	sent []types.Envelope
	fail error
}

func (r *recorder) Send(env types.Envelope) error {
	if r.fail != nil {
		return r.fail
	}
	r.sent = append(r.sent, env)
	return nil
}

func TestSenderSplitsIntoChunks(t *testing.T) {
	data := randomBytes(t, 150000)
	rec := &recorder{}
	now := time.UnixMilli(1700000000000)
	s := NewSender(rec, SenderOptions{Now: func() time.Time { return now }})

	meta, err := s.Send(context.Background(), "my photo!.jpg", "", bytes.NewReader(data))
	require.NoError(t, err)

	assert.Equal(t, int64(150000), meta.Size)
	assert.Equal(t, "image/jpeg", meta.Type)
	assert.Regexp(t, regexp.MustCompile(`^1700000000000-myphoto\.jpg-[0-9a-f]{8}$`), meta.ID)
	assert.Len(t, meta.SHA256, 64)

	require.Len(t, rec.sent, 4)
	assert.Equal(t, types.TypeFileStart, rec.sent[0].Type)
	assert.Equal(t, meta, rec.sent[0].Data)

	var sizes []int
	for i, env := range rec.sent[1:] {
		require.Equal(t, types.TypeFileChunk, env.Type)
		chunk := env.Data.(types.FileChunk)
		assert.Equal(t, meta.ID, chunk.ID)
		require.NotNil(t, chunk.Seq)
		assert.Equal(t, uint64(i), *chunk.Seq)
		sizes = append(sizes, len(chunk.Chunk))
	}
	assert.Equal(t, []int{65536, 65536, 18928}, sizes)
}

func TestSenderFeedsReassembler(t *testing.T) {
	data := randomBytes(t, 100003)
	rec := &recorder{}
	_, err := NewSender(rec, SenderOptions{ChunkSize: 7000}).Send(context.Background(), "a.bin", "application/x-test", bytes.NewReader(data))
	require.NoError(t, err)

	r := NewReassembler(0)
	var last Event
	for _, env := range rec.sent {
		switch v := env.Data.(type) {
		case types.FileMeta:
			last = r.Start(v)
		case types.FileChunk:
			ev, ok := r.Chunk(v)
			require.True(t, ok)
			last = ev
		}
	}
	require.Equal(t, EventCompleted, last.Kind)
	assert.Equal(t, data, last.File.Data)
	assert.Equal(t, "application/x-test", last.File.Type)
}

func TestSenderPlainOmitsSeqAndDigest(t *testing.T) {
	rec := &recorder{}
	meta, err := NewSender(rec, SenderOptions{Plain: true, ChunkSize: 2}).Send(context.Background(), "n.txt", "", bytes.NewReader([]byte("abcde")))
	require.NoError(t, err)

	assert.Empty(t, meta.SHA256)
	require.Len(t, rec.sent, 4)
	for _, env := range rec.sent[1:] {
		assert.Nil(t, env.Data.(types.FileChunk).Seq)
	}
}

func TestSenderEmptyFile(t *testing.T) {
	rec := &recorder{}
	meta, err := NewSender(rec, SenderOptions{}).Send(context.Background(), "empty", "", bytes.NewReader(nil))
	require.NoError(t, err)
	assert.Zero(t, meta.Size)
	assert.Equal(t, "application/octet-stream", meta.Type)
	require.Len(t, rec.sent, 1, "only file:start is sent")
}

func TestSenderStopsOnCancel(t *testing.T) {
	rec := &recorder{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewSender(rec, SenderOptions{}).Send(ctx, "a", "", bytes.NewReader([]byte("abc")))
	assert.ErrorIs(t, err, context.Canceled)
	require.Len(t, rec.sent, 1)
}

func TestSenderTransportError(t *testing.T) {
	boom := errors.New("boom")
	_, err := NewSender(&recorder{fail: boom}, SenderOptions{}).Send(context.Background(), "a", "", bytes.NewReader([]byte("abc")))
	assert.ErrorIs(t, err, boom)
}

func TestTransferIDsDiffer(t *testing.T) {
	now := time.Now()
	assert.NotEqual(t, TransferID(now, "a.txt"), TransferID(now, "a.txt"))
}

func TestSanitizeName(t *testing.T) {
	assert.Equal(t, "report2024final.pdf", SanitizeName("report 2024 (final).pdf"))
	assert.Equal(t, "", SanitizeName("ü/\\"))
}
