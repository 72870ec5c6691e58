package transfer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"mime"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/orchestra-mcp/collab/src/types"
)

// DefaultChunkSize is the maximum payload of one file:chunk message.
const DefaultChunkSize = 64 * 1024

// Transport sends one envelope to the relay.
type Transport interface {
	Send(env types.Envelope) error
}

// SenderOptions configures a Sender.
type SenderOptions struct {
	ChunkSize int
	// Plain omits chunk sequence numbers and the sha256 digest.
	Plain bool
	Now   func() time.Time
}

// Sender splits a file into one file:start and a run of file:chunk messages.
type Sender struct {
	transport Transport
	chunkSize int
	plain     bool
	now       func() time.Time
}

// NewSender creates a sender writing to transport.
func NewSender(transport Transport, opts SenderOptions) *Sender {
	size := opts.ChunkSize
	if size <= 0 {
		size = DefaultChunkSize
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Sender{transport: transport, chunkSize: size, plain: opts.Plain, now: now}
}

// Send announces and streams r. An empty contentType is derived from the
// file extension.
func (s *Sender) Send(ctx context.Context, name, contentType string, r io.ReadSeeker) (types.FileMeta, error) {
	size, err := r.Seek(0, io.SeekEnd)
	if err != nil {
		return types.FileMeta{}, fmt.Errorf("measure %s: %w", name, err)
	}
	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return types.FileMeta{}, fmt.Errorf("rewind %s: %w", name, err)
	}

	meta := types.FileMeta{
		ID:   TransferID(s.now(), name),
		Name: name,
		Type: contentType,
		Size: size,
	}
	if meta.Type == "" {
		meta.Type = ContentType(name)
	}

	if !s.plain {
		sum := sha256.New()
		if _, err := io.Copy(sum, r); err != nil {
			return meta, fmt.Errorf("hash %s: %w", name, err)
		}
		if _, err := r.Seek(0, io.SeekStart); err != nil {
			return meta, fmt.Errorf("rewind %s: %w", name, err)
		}
		meta.SHA256 = hex.EncodeToString(sum.Sum(nil))
	}

	if err := s.transport.Send(types.Envelope{Type: types.TypeFileStart, Data: meta}); err != nil {
		return meta, newError("file:start", meta.ID, err)
	}

	var seq uint64
	for {
		if err := ctx.Err(); err != nil {
			return meta, newError("file:chunk", meta.ID, err)
		}
		buf := make([]byte, s.chunkSize)
		n, err := io.ReadFull(r, buf)
		if n > 0 {
			chunk := types.FileChunk{ID: meta.ID, Chunk: buf[:n]}
			if !s.plain {
				current := seq
				chunk.Seq = &current
			}
			if sendErr := s.transport.Send(types.Envelope{Type: types.TypeFileChunk, Data: chunk}); sendErr != nil {
				return meta, newError("file:chunk", meta.ID, sendErr)
			}
			seq++
		}
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return meta, nil
		}
		if err != nil {
			return meta, newError("read", meta.ID, err)
		}
	}
}

// TransferID builds "<unix-ms>-<sanitized name>-<random>". The random suffix
// keeps repeated sends of one file within a millisecond distinct.
func TransferID(now time.Time, name string) string {
	return fmt.Sprintf("%d-%s-%s", now.UnixMilli(), SanitizeName(name), uuid.NewString()[:8])
}

// SanitizeName keeps only ASCII letters, digits and dots.
func SanitizeName(name string) string {
	var b strings.Builder
	for _, r := range name {
		if r == '.' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// ContentType detects a MIME type from the file extension.
func ContentType(name string) string {
	if t := mime.TypeByExtension(filepath.Ext(name)); t != "" {
		return t
	}
	return "application/octet-stream"
}
