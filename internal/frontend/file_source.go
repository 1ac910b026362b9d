package frontend

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// FileSource replays a raw interleaved-byte capture file in fixed-size
// blocks. Its read loop follows OpenStreamFile/ReadFile in
// pkg/gnssgo/stream/file.go, stripped of the RTCM time-tag and file-swap
// machinery this domain has no use for.
type FileSource struct {
	path           string
	blockSizeBytes int
	realtime       bool
	blockInterval  time.Duration
	logger         logrus.FieldLogger

	mu     sync.Mutex
	cancel context.CancelFunc
}

// NewFileSource returns a FileSource that replays path in
// blockSizeBytes-sized chunks. When realtime is true, each block is paced
// by blockInterval (so a capture taken at, say, 16.3676 MHz / 16384-sample
// blocks replays at roughly the rate it was recorded); when false, the
// file is read as fast as possible.
func NewFileSource(path string, blockSizeBytes int, realtime bool, blockInterval time.Duration, logger logrus.FieldLogger) *FileSource {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &FileSource{
		path:           path,
		blockSizeBytes: blockSizeBytes,
		realtime:       realtime,
		blockInterval:  blockInterval,
		logger:         logger.WithField("source", "file"),
	}
}

// Start replays the file until ctx is cancelled or EOF is reached.
func (f *FileSource) Start(ctx context.Context, onBuffer OnBuffer) error {
	file, err := os.Open(f.path)
	if err != nil {
		return fmt.Errorf("frontend: open capture file: %w", err)
	}
	defer file.Close()

	runCtx, cancel := context.WithCancel(ctx)
	f.mu.Lock()
	f.cancel = cancel
	f.mu.Unlock()
	defer cancel()

	var ticker *time.Ticker
	if f.realtime && f.blockInterval > 0 {
		ticker = time.NewTicker(f.blockInterval)
		defer ticker.Stop()
	}

	buf := make([]byte, f.blockSizeBytes)
	for {
		select {
		case <-runCtx.Done():
			return nil
		default:
		}

		n, err := io.ReadFull(file, buf)
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				f.logger.Info("frontend: capture file exhausted")
				return nil
			}
			return fmt.Errorf("frontend: read capture file: %w", err)
		}

		onBuffer(buf[:n])

		if ticker != nil {
			select {
			case <-ticker.C:
			case <-runCtx.Done():
				return nil
			}
		}
	}
}

// Stop cancels any in-flight Start call.
func (f *FileSource) Stop() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cancel != nil {
		f.cancel()
	}
	return nil
}
