package video

import (
	"bytes"
	"context"
	"log/slog"
	"math/rand"
	"net"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/arqut/arqut-desk/internal/pkg/models"
	"github.com/arqut/arqut-desk/internal/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

type frameCollector struct {
	mu     sync.Mutex
	frames []Frame
}

func (c *frameCollector) sink(f Frame) {
	c.mu.Lock()
	c.frames = append(c.frames, f)
	c.mu.Unlock()
}

func (c *frameCollector) all() []Frame {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Frame(nil), c.frames...)
}

func chunksOf(sender string, frameID int64, data []byte, size int) []*models.VideoChunk {
	parts := Chunk(data, size)
	out := make([]*models.VideoChunk, len(parts))
	for i, p := range parts {
		out[i] = &models.VideoChunk{
			SenderID:    sender,
			TargetID:    "100001",
			FrameID:     frameID,
			ChunkIndex:  i,
			TotalChunks: len(parts),
			Data:        p,
		}
	}
	return out
}

func TestChunk(t *testing.T) {
	tests := []struct {
		name   string
		size   int
		length int
		want   []int
	}{
		{"empty", 4, 0, nil},
		{"smaller than chunk", 4, 3, []int{3}},
		{"exact multiple", 4, 8, []int{4, 4}},
		{"remainder", 4, 9, []int{4, 4, 1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := bytes.Repeat([]byte{7}, tt.length)
			chunks := Chunk(data, tt.size)

			var sizes []int
			for _, c := range chunks {
				sizes = append(sizes, len(c))
			}
			assert.Equal(t, tt.want, sizes)
			assert.Equal(t, data, bytes.Join(chunks, nil))
		})
	}
}

func TestReassembler_AnyOrderWithDuplicate(t *testing.T) {
	original := []byte("0123456789abcdefghij")
	orders := [][]int{
		{0, 1, 2},
		{2, 1, 0},
		{1, 0, 2},
		{2, 2, 0, 1},
		{0, 1, 1, 2},
	}

	for _, order := range orders {
		col := &frameCollector{}
		r := NewReassembler(0, col.sink, testLogger())
		chunks := chunksOf("200001", 0, original, 7)
		require.Len(t, chunks, 3)

		for _, idx := range order {
			r.Add(chunks[idx])
		}

		frames := col.all()
		require.Len(t, frames, 1, "order %v", order)
		assert.Equal(t, original, frames[0].Data)
		assert.Equal(t, int64(0), frames[0].ID)
		assert.Equal(t, "200001", frames[0].SenderID)
		assert.Equal(t, 0, r.Pending())
	}
}

func TestReassembler_Staleness(t *testing.T) {
	col := &frameCollector{}
	r := NewReassembler(0, col.sink, testLogger())

	f1 := chunksOf("200001", 1, []byte("frame-one-data"), 5)
	f2 := chunksOf("200001", 2, []byte("frame-two"), 5)

	// Frame 1 is partial when frame 2 completes
	r.Add(f1[0])
	for _, c := range f2 {
		r.Add(c)
	}
	assert.Equal(t, int64(2), r.LastDisplayed())
	assert.Equal(t, 0, r.Pending(), "older partials are purged")

	for _, c := range f1 {
		assert.False(t, r.Add(c))
	}

	frames := col.all()
	require.Len(t, frames, 1)
	assert.Equal(t, int64(2), frames[0].ID)
	assert.Equal(t, uint64(len(f1)), r.Stats().Stale)
}

func TestReassembler_Timeout(t *testing.T) {
	col := &frameCollector{}
	r := NewReassembler(2*time.Second, col.sink, testLogger())

	clock := time.Unix(1000, 0)
	r.now = func() time.Time { return clock }

	chunks := chunksOf("200001", 5, []byte("abcdefghijkl"), 4)
	require.Len(t, chunks, 3)

	r.Add(chunks[0])
	r.Add(chunks[1])

	t.Run("late chunk after timeout", func(t *testing.T) {
		clock = clock.Add(2001 * time.Millisecond)
		assert.False(t, r.Add(chunks[2]))
		assert.Empty(t, col.all())
		assert.Equal(t, 0, r.Pending())
	})

	t.Run("cleanup purges", func(t *testing.T) {
		other := chunksOf("200001", 6, []byte("abcdefghijkl"), 4)
		r.Add(other[0])
		assert.Equal(t, 0, r.Cleanup(clock.Add(time.Second)))
		assert.Equal(t, 1, r.Cleanup(clock.Add(2001*time.Millisecond)))

		clock = clock.Add(3 * time.Second)
		r.Add(other[1])
		r.Add(other[2])
		assert.Empty(t, col.all(), "frame restarted after purge must not complete from the remaining chunks")
	})

	assert.GreaterOrEqual(t, r.Stats().Expired, uint64(2))
}

func TestReassembler_PurgedFrameNeverDisplayed(t *testing.T) {
	col := &frameCollector{}
	r := NewReassembler(2*time.Second, col.sink, testLogger())

	clock := time.Unix(1000, 0)
	r.now = func() time.Time { return clock }

	chunks := chunksOf("200002", 5, []byte("abcdef"), 3)
	require.Len(t, chunks, 2)

	r.Add(chunks[0])
	assert.Equal(t, 1, r.Cleanup(clock.Add(2100*time.Millisecond)))

	// Missing chunk and a duplicate of the first arrive after the purge
	clock = clock.Add(2500 * time.Millisecond)
	assert.False(t, r.Add(chunks[1]))
	assert.False(t, r.Add(chunks[0]))

	assert.Empty(t, col.all())
	assert.Equal(t, 0, r.Pending())

	// Later frames are unaffected
	for _, c := range chunksOf("200002", 6, []byte("ghijkl"), 3) {
		r.Add(c)
	}
	frames := col.all()
	require.Len(t, frames, 1)
	assert.Equal(t, int64(6), frames[0].ID)
}

func TestReassembler_ExpiredIDsBounded(t *testing.T) {
	col := &frameCollector{}
	r := NewReassembler(time.Second, col.sink, testLogger())

	clock := time.Unix(1000, 0)
	r.now = func() time.Time { return clock }

	for id := int64(0); id < maxExpiredIDs+10; id++ {
		r.Add(&models.VideoChunk{SenderID: "200002", FrameID: id, ChunkIndex: 0, TotalChunks: 2, Data: []byte{1}})
		r.Cleanup(clock.Add(2 * time.Second))
	}

	r.mu.Lock()
	assert.LessOrEqual(t, len(r.expiredIDs), maxExpiredIDs)
	r.mu.Unlock()

	// Every purged id is still refused
	for id := int64(0); id < maxExpiredIDs+10; id++ {
		assert.False(t, r.Add(&models.VideoChunk{SenderID: "200002", FrameID: id, ChunkIndex: 1, TotalChunks: 2, Data: []byte{2}}))
		assert.False(t, r.Add(&models.VideoChunk{SenderID: "200002", FrameID: id, ChunkIndex: 0, TotalChunks: 2, Data: []byte{1}}))
	}
	assert.Empty(t, col.all())
}

func TestReassembler_RejectsOversizedTotal(t *testing.T) {
	col := &frameCollector{}
	r := NewReassembler(0, col.sink, testLogger())
	r.SetMaxChunks(MaxChunks(1<<20, 45000))

	for id := int64(0); id < 4; id++ {
		assert.False(t, r.Add(&models.VideoChunk{SenderID: "200002", FrameID: id, ChunkIndex: 0, TotalChunks: 1 << 22, Data: []byte{1}}))
	}
	assert.Equal(t, 0, r.Pending())
	assert.Equal(t, uint64(4), r.Stats().Invalid)

	// A frame at the limit is still accepted
	data := bytes.Repeat([]byte{9}, 1<<20)
	for _, c := range chunksOf("200002", 10, data, 45000) {
		r.Add(c)
	}
	frames := col.all()
	require.Len(t, frames, 1)
	assert.Equal(t, data, frames[0].Data)
}

func TestMaxChunks(t *testing.T) {
	assert.Equal(t, 1, MaxChunks(100, 100))
	assert.Equal(t, 2, MaxChunks(101, 100))
	assert.Equal(t, 187, MaxChunks(8<<20, 45000))
	assert.Equal(t, DefaultMaxChunks, MaxChunks(0, 45000))
}

func TestReassembler_IgnoresRegistrationAndInvalid(t *testing.T) {
	col := &frameCollector{}
	r := NewReassembler(0, col.sink, testLogger())

	assert.False(t, r.Add(&models.VideoChunk{SenderID: "200001"}))
	assert.False(t, r.Add(&models.VideoChunk{SenderID: "200001", FrameID: 1, TotalChunks: 2, ChunkIndex: 5, Data: []byte{1}}))
	assert.False(t, r.Add(&models.VideoChunk{SenderID: "200001", FrameID: 1, TotalChunks: 2, ChunkIndex: -1, Data: []byte{1}}))

	// A chunk disagreeing on totalChunks is rejected
	assert.False(t, r.Add(&models.VideoChunk{SenderID: "200001", FrameID: 3, TotalChunks: 2, ChunkIndex: 0, Data: []byte{1}}))
	assert.False(t, r.Add(&models.VideoChunk{SenderID: "200001", FrameID: 3, TotalChunks: 1, ChunkIndex: 0, Data: []byte{1}}))

	assert.Empty(t, col.all())
	assert.Equal(t, uint64(3), r.Stats().Invalid)
}

func TestReassembler_NewSenderResets(t *testing.T) {
	col := &frameCollector{}
	r := NewReassembler(0, col.sink, testLogger())

	for _, c := range chunksOf("200001", 40, []byte("old-session"), 4) {
		r.Add(c)
	}
	for _, c := range chunksOf("300001", 0, []byte("new-session"), 4) {
		r.Add(c)
	}

	frames := col.all()
	require.Len(t, frames, 2)
	assert.Equal(t, "300001", frames[1].SenderID)
	assert.Equal(t, int64(0), frames[1].ID)

	r.Reset()
	assert.Equal(t, int64(-1), r.LastDisplayed())
}

func TestReassembler_Run(t *testing.T) {
	r := NewReassembler(10*time.Millisecond, nil, testLogger())
	r.Add(chunksOf("200001", 1, []byte("abcdef"), 2)[0])
	require.Equal(t, 1, r.Pending())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.Run(ctx, 5*time.Millisecond)

	require.Eventually(t, func() bool { return r.Pending() == 0 }, time.Second, 5*time.Millisecond)
}

type staticSource struct {
	frame []byte
}

func (s staticSource) Capture() ([]byte, error) { return s.frame, nil }

func listenUDP(t *testing.T) *net.UDPConn {
	t.Helper()
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestSender_EndToEnd(t *testing.T) {
	out := listenUDP(t)
	in := listenUDP(t)
	dest := in.LocalAddr().(*net.UDPAddr)

	frame := make([]byte, 100_000)
	rand.New(rand.NewSource(1)).Read(frame)

	sender := NewSender(SenderConfig{
		SenderID:  "200001",
		TargetID:  "100001",
		Interval:  10 * time.Millisecond,
		ChunkSize: DefaultChunkSize,
	}, staticSource{frame: frame}, out, func() *net.UDPAddr { return dest }, testLogger())

	col := &frameCollector{}
	r := NewReassembler(0, col.sink, testLogger())

	sender.Start(context.Background())
	sender.Start(context.Background())
	defer sender.Stop()
	assert.True(t, sender.Running())

	buf := make([]byte, 65535)
	in.SetReadDeadline(time.Now().Add(3 * time.Second))
	for len(col.all()) == 0 {
		n, _, err := in.ReadFromUDP(buf)
		require.NoError(t, err)
		require.LessOrEqual(t, n, protocol.MaxDatagramSize)

		chunk, err := protocol.DecodeDatagram(buf[:n])
		require.NoError(t, err)
		assert.Equal(t, 3, chunk.TotalChunks)
		r.Add(chunk)
	}

	got := col.all()[0]
	assert.Equal(t, frame, got.Data)

	sender.Stop()
	assert.False(t, sender.Running())
	assert.GreaterOrEqual(t, sender.Stats().Frames, uint64(1))
}

func TestSender_NoDestination(t *testing.T) {
	out := listenUDP(t)
	sender := NewSender(SenderConfig{SenderID: "200001"}, nil, out, func() *net.UDPAddr { return nil }, testLogger())

	n, err := sender.SendFrame([]byte("frame"))
	assert.ErrorIs(t, err, ErrNoDestination)
	assert.Zero(t, n)
}

func TestSender_FullQueueDrops(t *testing.T) {
	out := listenUDP(t)
	in := listenUDP(t)
	dest := in.LocalAddr().(*net.UDPAddr)

	// Not started: nothing drains the queue
	sender := NewSender(SenderConfig{SenderID: "200001", ChunkSize: 10, QueueSize: 2}, nil, out,
		func() *net.UDPAddr { return dest }, testLogger())

	n, err := sender.SendFrame(bytes.Repeat([]byte{1}, 50))
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, uint64(3), sender.Stats().Dropped)
}

func TestSender_OversizedChunkDropped(t *testing.T) {
	out := listenUDP(t)
	in := listenUDP(t)
	dest := in.LocalAddr().(*net.UDPAddr)

	sender := NewSender(SenderConfig{SenderID: "200001", ChunkSize: 1000, MaxDatagramSize: 500}, nil, out,
		func() *net.UDPAddr { return dest }, testLogger())

	n, err := sender.SendFrame(bytes.Repeat([]byte{1}, 1000))
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, uint64(1), sender.Stats().Dropped)
}
