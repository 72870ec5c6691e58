package cli

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/orchestra-mcp/collab/providers"
	"github.com/orchestra-mcp/collab/src/peer"
	"github.com/orchestra-mcp/collab/src/transfer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWebsocketURL(t *testing.T) {
	cases := map[string]string{
		"http://localhost:3000":       "ws://localhost:3000/ws",
		"https://relay.example.com/": "wss://relay.example.com/ws",
		"ws://10.0.0.2:3000/base":    "ws://10.0.0.2:3000/base/ws",
	}
	for in, want := range cases {
		got, err := websocketURL(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got)
	}

	_, err := websocketURL("ftp://relay")
	assert.Error(t, err)
}

func TestUniqueFilename(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "photo.jpg")
	assert.Equal(t, path, uniqueFilename(path))

	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
	assert.Equal(t, filepath.Join(dir, "photo (1).jpg"), uniqueFilename(path))

	require.NoError(t, os.WriteFile(filepath.Join(dir, "photo (1).jpg"), []byte("x"), 0o644))
	assert.Equal(t, filepath.Join(dir, "photo (2).jpg"), uniqueFilename(path))
}

func TestSaveFileKeepsExisting(t *testing.T) {
	dir := t.TempDir()
	f := &transfer.File{ID: "t1", Name: "../notes.txt", Data: []byte("hello")}

	first, err := saveFile(dir, f)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "notes.txt"), first)

	second, err := saveFile(dir, f)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "notes (1).txt"), second)

	data, err := os.ReadFile(second)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))
}

func TestSaveFileStaysInsideDir(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "out")
	require.NoError(t, os.Mkdir(dir, 0o755))

	for _, name := range []string{"..", ".", "/", "a/..", "../../etc/passwd", "..\\..\\x.txt", ""} {
		path, err := saveFile(dir, &transfer.File{ID: "1700000000000-x.bin-0a1b2c3d", Name: name, Data: []byte("x")})
		require.NoError(t, err, name)
		assert.Equal(t, dir, filepath.Dir(path), "name %q", name)
	}

	entries, err := os.ReadDir(root)
	require.NoError(t, err)
	require.Len(t, entries, 1, "nothing written next to the output directory")

	path, err := saveFile(dir, &transfer.File{ID: "..", Name: "..", Data: []byte("x")})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "download"), path)
}

func TestPrintTransfer(t *testing.T) {
	dir := t.TempDir()
	var out bytes.Buffer

	saved, err := printEvent(&out, dir, peer.Event{Kind: peer.EventTransfer, Transfer: transfer.Event{
		Kind: transfer.EventStarted, Name: "a.bin", Size: 2048, From: "alice",
	}})
	require.NoError(t, err)
	assert.False(t, saved)
	assert.Contains(t, out.String(), "2.0 KiB")

	saved, err = printEvent(&out, dir, peer.Event{Kind: peer.EventTransfer, Transfer: transfer.Event{
		Kind: transfer.EventCompleted, Name: "a.bin", File: &transfer.File{ID: "x", Name: "a.bin", Data: []byte{1, 2}},
	}})
	require.NoError(t, err)
	assert.True(t, saved)
	assert.FileExists(t, filepath.Join(dir, "a.bin"))

	cause := errors.New("checksum mismatch")
	_, err = printEvent(&out, dir, peer.Event{Kind: peer.EventTransfer, Transfer: transfer.Event{
		Kind: transfer.EventFailed, Name: "b.bin", Err: cause,
	}})
	assert.ErrorIs(t, err, cause)
}

func TestFormatSize(t *testing.T) {
	assert.Equal(t, "512 B", FormatSize(512))
	assert.Equal(t, "1.0 KiB", FormatSize(1024))
	assert.Equal(t, "146.5 KiB", FormatSize(150000))
	assert.Equal(t, "3.0 MiB", FormatSize(3<<20))
}

func TestRenderRooms(t *testing.T) {
	out := renderRooms([]providers.RoomSummary{
		{Room: "alpha", Members: []string{"c1", "c2"}},
		{Room: "beta", Members: []string{"c3"}},
	})
	for _, want := range []string{"Room", "alpha", "beta", "c1", "c3"} {
		assert.Contains(t, out, want)
	}
}

func TestRootCommandRegistersSubcommands(t *testing.T) {
	root := NewRootCommand()
	for _, name := range []string{"serve", "useradd", "send", "receive", "chat", "rooms"} {
		cmd, _, err := root.Find([]string{name})
		require.NoError(t, err, name)
		assert.Equal(t, name, cmd.Name())
	}
}
