package camera

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/Elameen123/Blazers-Image-Analysis-Station/internal/stream"
)

// LocalSource captures from a V4L2 device through ffmpeg, transcoding to
// an MJPEG pipe.
type LocalSource struct {
	device string
	ffmpeg string
	logger *zap.Logger

	// openDevice is swapped in tests.
	openDevice func(name string) (io.Closer, error)

	mu  sync.Mutex
	cmd *exec.Cmd

	bytesRead atomic.Int64
}

func NewLocalSource(device, ffmpegPath string, logger *zap.Logger) *LocalSource {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	return &LocalSource{
		device: device,
		ffmpeg: ffmpegPath,
		logger: logger.With(zap.String("device", device)),
		openDevice: func(name string) (io.Closer, error) {
			return os.OpenFile(name, os.O_RDONLY, 0)
		},
	}
}

func (l *LocalSource) Kind() stream.SourceKind { return stream.LocalCapture }

// Probe checks the device node can be opened. A permission failure is
// reported as stream.ErrPermissionDenied.
func (l *LocalSource) Probe(ctx context.Context) error {
	f, err := l.openDevice(l.device)
	if err != nil {
		if errors.Is(err, fs.ErrPermission) {
			return fmt.Errorf("%w: %v", stream.ErrPermissionDenied, err)
		}
		return fmt.Errorf("open capture device: %w", err)
	}
	return f.Close()
}

// Run blocks until ctx is cancelled or ffmpeg exits.
func (l *LocalSource) Run(ctx context.Context, emit func([]byte)) error {
	args := []string{
		"-nostdin",
		"-hide_banner", "-loglevel", "error",
		"-f", "v4l2",
		"-video_size", "640x480",
		"-framerate", "15",
		"-i", l.device,
		"-an",
		"-f", "mjpeg",
		"-q:v", "5",
		"pipe:1",
	}

	cmd := exec.CommandContext(ctx, l.ffmpeg, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &limitedWriter{w: &stderr, n: 8 << 10}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("ffmpeg start: %w", err)
	}

	l.mu.Lock()
	l.cmd = cmd
	l.mu.Unlock()
	l.bytesRead.Store(0)
	l.logger.Info("local capture started")

	lastLog := time.Now()
	counting := &countingReader{r: stdout, n: &l.bytesRead}
	readErr := ScanJPEG(ctx, counting, func(frame []byte) {
		emit(frame)
		if time.Since(lastLog) >= 5*time.Second {
			l.logger.Debug("local capture progress", zap.Int64("bytesRead", l.bytesRead.Load()))
			lastLog = time.Now()
		}
	})
	waitErr := cmd.Wait()

	l.mu.Lock()
	l.cmd = nil
	l.mu.Unlock()

	if ctx.Err() != nil {
		l.logger.Info("local capture stopped", zap.Int64("bytesRead", l.bytesRead.Load()))
		return ctx.Err()
	}
	if msg := stderr.String(); strings.Contains(msg, "Permission denied") {
		return fmt.Errorf("%w: %s", stream.ErrPermissionDenied, strings.TrimSpace(msg))
	}
	if readErr != nil {
		return readErr
	}
	if waitErr != nil {
		return fmt.Errorf("ffmpeg exited: %w: %s", waitErr, strings.TrimSpace(stderr.String()))
	}
	return nil
}

// Snapshot grabs one frame with a separate ffmpeg invocation.
func (l *LocalSource) Snapshot(ctx context.Context) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	cmd := exec.CommandContext(ctx, l.ffmpeg,
		"-nostdin", "-hide_banner", "-loglevel", "error",
		"-f", "v4l2", "-i", l.device,
		"-frames:v", "1", "-f", "image2", "-c:v", "mjpeg", "pipe:1")
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("ffmpeg snapshot: %w", err)
	}
	if len(out) == 0 {
		return nil, errors.New("ffmpeg snapshot: no data")
	}
	return out, nil
}

// Close kills a running ffmpeg. Idempotent.
func (l *LocalSource) Close() error {
	l.mu.Lock()
	cmd := l.cmd
	l.mu.Unlock()
	if cmd != nil && cmd.Process != nil {
		cmd.Process.Kill()
	}
	return nil
}

type countingReader struct {
	r io.Reader
	n *atomic.Int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n.Add(int64(n))
	return n, err
}

// limitedWriter keeps the first n bytes and discards the rest.
type limitedWriter struct {
	w io.Writer
	n int
}

func (l *limitedWriter) Write(p []byte) (int, error) {
	if l.n <= 0 {
		return len(p), nil
	}
	keep := p
	if len(keep) > l.n {
		keep = keep[:l.n]
	}
	l.n -= len(keep)
	if _, err := l.w.Write(keep); err != nil {
		return 0, err
	}
	return len(p), nil
}
