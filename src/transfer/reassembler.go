package transfer

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"hash"
	"sync"
	"time"

	"github.com/orchestra-mcp/collab/src/types"
)

// EventKind classifies what a reassembler step produced.
type EventKind int

const (
	EventStarted EventKind = iota
	EventProgress
	EventCompleted
	EventFailed
)

func (k EventKind) String() string {
	switch k {
	case EventStarted:
		return "started"
	case EventProgress:
		return "progress"
	case EventCompleted:
		return "completed"
	case EventFailed:
		return "failed"
	}
	return "unknown"
}

// File is a fully reassembled transfer.
type File struct {
	ID   string
	Name string
	Type string
	From string
	Data []byte
}

// Event reports the state of one transfer after a step.
type Event struct {
	Kind     EventKind
	ID       string
	Name     string
	From     string
	Size     int64
	Received int64
	Progress int
	File     *File
	Err      error
}

type inbound struct {
	meta     types.FileMeta
	chunks   [][]byte
	received int64
	nextSeq  uint64
	lastSeen time.Time
	digest   hash.Hash
}

// Reassembler turns file:start / file:chunk streams back into files. Chunks
// are appended in arrival order; a transfer completes once the received byte
// count reaches the declared size.
type Reassembler struct {
	mu        sync.Mutex
	transfers map[string]*inbound
	idle      time.Duration
	now       func() time.Time
}

// NewReassembler creates a reassembler. Transfers that see no chunk for idle
// are dropped by Expire; idle <= 0 disables expiry.
func NewReassembler(idle time.Duration) *Reassembler {
	return &Reassembler{
		transfers: make(map[string]*inbound),
		idle:      idle,
		now:       time.Now,
	}
}

// ValidateMeta rejects metadata no transfer can be built from.
func ValidateMeta(meta types.FileMeta) error {
	if meta.ID == "" || meta.Size < 0 {
		return newError("file:start", meta.ID, ErrInvalidMetadata)
	}
	return nil
}

// Progress returns floor(received*100/size) clamped to [0, 100].
func Progress(received, size int64) int {
	if size <= 0 {
		return 100
	}
	if received <= 0 {
		return 0
	}
	p := received * 100 / size
	if p > 100 {
		return 100
	}
	return int(p)
}

// Start begins a transfer. A second start with the same id replaces the
// first. A declared size of zero completes immediately with an empty file.
func (r *Reassembler) Start(meta types.FileMeta) Event {
	base := Event{ID: meta.ID, Name: meta.Name, From: meta.From, Size: meta.Size}
	if err := ValidateMeta(meta); err != nil {
		base.Kind = EventFailed
		base.Err = err
		return base
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if meta.Size == 0 {
		delete(r.transfers, meta.ID)
		base.Kind = EventCompleted
		base.Progress = 100
		base.File = &File{ID: meta.ID, Name: meta.Name, Type: meta.Type, From: meta.From, Data: []byte{}}
		return base
	}

	t := &inbound{meta: meta, lastSeen: r.now()}
	if meta.SHA256 != "" {
		t.digest = sha256.New()
	}
	r.transfers[meta.ID] = t
	base.Kind = EventStarted
	return base
}

// Chunk appends one chunk. It reports false when the transfer id is unknown,
// in which case the chunk is dropped.
func (r *Reassembler) Chunk(c types.FileChunk) (Event, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.transfers[c.ID]
	if !ok {
		return Event{}, false
	}
	ev := Event{ID: c.ID, Name: t.meta.Name, From: t.meta.From, Size: t.meta.Size}

	if c.Seq != nil {
		if *c.Seq != t.nextSeq {
			delete(r.transfers, c.ID)
			ev.Kind = EventFailed
			ev.Received = t.received
			ev.Progress = Progress(t.received, t.meta.Size)
			ev.Err = newError("file:chunk", c.ID, ErrOutOfOrder)
			return ev, true
		}
		t.nextSeq++
	}

	t.chunks = append(t.chunks, c.Chunk)
	t.received += int64(len(c.Chunk))
	t.lastSeen = r.now()
	if t.digest != nil {
		t.digest.Write(c.Chunk)
	}

	ev.Received = t.received
	ev.Progress = Progress(t.received, t.meta.Size)
	if t.received < t.meta.Size {
		ev.Kind = EventProgress
		return ev, true
	}

	delete(r.transfers, c.ID)
	if t.digest != nil && hex.EncodeToString(t.digest.Sum(nil)) != t.meta.SHA256 {
		ev.Kind = EventFailed
		ev.Err = newError("file:chunk", c.ID, ErrChecksumMismatch)
		return ev, true
	}
	ev.Kind = EventCompleted
	ev.File = &File{
		ID:   t.meta.ID,
		Name: t.meta.Name,
		Type: t.meta.Type,
		From: t.meta.From,
		Data: bytes.Join(t.chunks, nil),
	}
	return ev, true
}

// Expire drops transfers idle for longer than the configured timeout.
func (r *Reassembler) Expire(now time.Time) []Event {
	if r.idle <= 0 {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	var events []Event
	for id, t := range r.transfers {
		if now.Sub(t.lastSeen) < r.idle {
			continue
		}
		delete(r.transfers, id)
		events = append(events, Event{
			Kind:     EventFailed,
			ID:       id,
			Name:     t.meta.Name,
			From:     t.meta.From,
			Size:     t.meta.Size,
			Received: t.received,
			Progress: Progress(t.received, t.meta.Size),
			Err:      newError("expire", id, ErrTransferExpired),
		})
	}
	return events
}

// Pending returns the number of transfers still receiving.
func (r *Reassembler) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.transfers)
}
