// Package filetransfer implements offer/accept file transfer over the
// control plane. Files are streamed as a FILE_REQ header followed by
// fixed-size FILE_CHUNK packets; the last chunk carries an xxh3 checksum
// of the whole file.
package filetransfer

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/zeebo/xxh3"

	"github.com/arqut/arqut-desk/internal/pkg/models"
)

const (
	DefaultChunkSize = 8 * 1024
	DefaultPacing    = time.Millisecond
)

var (
	ErrNoPendingOffer   = errors.New("no pending offer for file")
	ErrNotRegularFile   = errors.New("not a regular file")
	ErrNoTransfer       = errors.New("no transfer awaiting a destination")
	ErrChecksumMismatch = errors.New("file checksum mismatch")
)

// PacketSender delivers a packet to the session partner
type PacketSender interface {
	SendPacket(p models.Payload) error
}

// Progress reports bytes moved for one file
type Progress func(fileName string, done, total int64)

// SenderOptions tunes streaming
type SenderOptions struct {
	ChunkSize int
	Pacing    time.Duration
	Progress  Progress
	// Done is called when a stream started by OnAccept ends
	Done func(fileName string, err error)
}

// Sender holds offered files until the partner accepts or rejects them
type Sender struct {
	out     PacketSender
	opts    SenderOptions
	logger  *slog.Logger
	pending map[string]string
	mu      sync.Mutex
	wg      sync.WaitGroup
}

// NewSender creates a file sender writing packets to out
func NewSender(out PacketSender, opts SenderOptions, logger *slog.Logger) *Sender {
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = DefaultChunkSize
	}
	if opts.Pacing < 0 {
		opts.Pacing = 0
	}
	return &Sender{
		out:     out,
		opts:    opts,
		logger:  logger.With("component", "filetransfer"),
		pending: make(map[string]string),
	}
}

// Offer announces a file to the partner and keeps it pending. A new offer
// under the same name replaces the old one.
func (s *Sender) Offer(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("offering file: %w", err)
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("offering %s: %w", path, ErrNotRegularFile)
	}

	name := filepath.Base(path)

	s.mu.Lock()
	s.pending[name] = path
	s.mu.Unlock()

	if err := s.out.SendPacket(&models.FileOffer{FileName: name, FileSize: info.Size()}); err != nil {
		s.mu.Lock()
		delete(s.pending, name)
		s.mu.Unlock()
		return fmt.Errorf("sending offer: %w", err)
	}

	s.logger.Info("File offered", "file", name, "size", info.Size())
	return nil
}

// OnAccept starts streaming the accepted file in the background
func (s *Sender) OnAccept(ctx context.Context, fileName string) error {
	path, ok := s.take(fileName)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoPendingOffer, fileName)
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		err := s.Stream(ctx, path)
		if err != nil {
			s.logger.Error("File transfer failed", "file", fileName, "error", err)
		} else {
			s.logger.Info("File sent", "file", fileName)
		}
		if s.opts.Done != nil {
			s.opts.Done(fileName, err)
		}
	}()
	return nil
}

// OnReject drops a pending offer. It reports whether one existed.
func (s *Sender) OnReject(fileName string) bool {
	_, ok := s.take(fileName)
	if ok {
		s.logger.Info("File offer rejected", "file", fileName)
	}
	return ok
}

// Pending lists offered file names awaiting an answer
func (s *Sender) Pending() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	names := make([]string, 0, len(s.pending))
	for name := range s.pending {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Wait blocks until background streams finish
func (s *Sender) Wait() {
	s.wg.Wait()
}

// Stream sends the request header and every chunk of the file at path. An
// empty file is sent as a single empty last chunk.
func (s *Sender) Stream(ctx context.Context, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat file: %w", err)
	}

	name := filepath.Base(path)
	total := info.Size()

	if err := s.out.SendPacket(&models.FileReq{FileName: name, FileSize: total}); err != nil {
		return fmt.Errorf("sending file header: %w", err)
	}

	hasher := xxh3.New()
	r := bufio.NewReaderSize(f, s.opts.ChunkSize)
	var sent int64

	for {
		buf := make([]byte, s.opts.ChunkSize)
		n, err := io.ReadFull(r, buf)
		if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
			return fmt.Errorf("reading file: %w", err)
		}
		buf = buf[:n]
		hasher.Write(buf)
		sent += int64(n)

		_, peekErr := r.Peek(1)
		if peekErr != nil && !errors.Is(peekErr, io.EOF) {
			return fmt.Errorf("reading file: %w", peekErr)
		}
		last := peekErr != nil

		chunk := &models.FileChunk{Data: buf, Length: n, IsLast: last}
		if last {
			chunk.Checksum = hasher.Sum64()
		}
		if err := s.out.SendPacket(chunk); err != nil {
			return fmt.Errorf("sending chunk: %w", err)
		}

		if s.opts.Progress != nil {
			s.opts.Progress(name, sent, total)
		}
		if last {
			return nil
		}

		if s.opts.Pacing > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(s.opts.Pacing):
			}
		} else if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

func (s *Sender) take(fileName string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	path, ok := s.pending[fileName]
	if ok {
		delete(s.pending, fileName)
	}
	return path, ok
}
