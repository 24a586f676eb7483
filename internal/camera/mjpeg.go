package camera

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/textproto"
	"strconv"
	"strings"
)

const (
	maxFrameBytes = 4 << 20
	// DefaultBoundary is used when rebroadcasting frames as MJPEG.
	DefaultBoundary = "frame"
)

var (
	jpegSOI = []byte{0xFF, 0xD8}
	jpegEOI = []byte{0xFF, 0xD9}
)

// ReadMJPEG splits an MJPEG body into JPEG frames and calls emit for each.
// multipart/x-mixed-replace bodies are read part by part; any other content
// type falls back to scanning for JPEG start and end markers. It returns nil
// at end of stream.
func ReadMJPEG(ctx context.Context, body io.Reader, contentType string, emit func([]byte)) error {
	mediaType, params, err := mime.ParseMediaType(contentType)
	if err == nil && strings.HasPrefix(mediaType, "multipart/") && params["boundary"] != "" {
		return readMultipart(ctx, body, params["boundary"], emit)
	}
	return ScanJPEG(ctx, body, emit)
}

// readMultipart frames each part by its Content-Length so a part is emitted
// as soon as its bytes arrive, without waiting for the next boundary. Parts
// without a length are cut at the JPEG end marker.
func readMultipart(ctx context.Context, body io.Reader, boundary string, emit func([]byte)) error {
	br := bufio.NewReaderSize(body, 64<<10)
	tp := textproto.NewReader(br)
	delim := "--" + boundary
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		line, err := br.ReadSlice('\n')
		if err == bufio.ErrBufferFull {
			continue
		}
		if err != nil {
			return streamEnd(ctx, err, "read mjpeg boundary")
		}
		switch strings.TrimSpace(string(line)) {
		case delim:
		case delim + "--":
			return nil
		default:
			continue
		}

		header, err := tp.ReadMIMEHeader()
		if err != nil {
			return streamEnd(ctx, err, "read mjpeg part header")
		}
		frame, err := readPart(br, header)
		if err != nil {
			return streamEnd(ctx, err, "read mjpeg part body")
		}
		if frame != nil {
			emit(frame)
		}
	}
}

func readPart(br *bufio.Reader, header textproto.MIMEHeader) ([]byte, error) {
	n, err := strconv.Atoi(strings.TrimSpace(header.Get("Content-Length")))
	if err != nil || n < 0 {
		return nextJPEG(br)
	}
	if n == 0 || n > maxFrameBytes {
		_, err := io.CopyN(io.Discard, br, int64(n))
		return nil, err
	}
	frame := make([]byte, n)
	if _, err := io.ReadFull(br, frame); err != nil {
		return nil, err
	}
	return frame, nil
}

func streamEnd(ctx context.Context, err error, what string) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return nil
	}
	return fmt.Errorf("%s: %w", what, err)
}

// ScanJPEG extracts back-to-back JPEG images from r using SOI/EOI markers.
func ScanJPEG(ctx context.Context, r io.Reader, emit func([]byte)) error {
	br := bufio.NewReaderSize(r, 64<<10)
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		frame, err := nextJPEG(br)
		if err != nil {
			return streamEnd(ctx, err, "scan jpeg")
		}
		emit(frame)
	}
}

// nextJPEG returns the next complete image, skipping bytes before its start
// marker and dropping images larger than maxFrameBytes.
func nextJPEG(br *bufio.Reader) ([]byte, error) {
	var frame []byte
	inFrame := false
	var prev byte
	for {
		b, err := br.ReadByte()
		if err != nil {
			return nil, err
		}
		switch {
		case !inFrame:
			if prev == jpegSOI[0] && b == jpegSOI[1] {
				frame = append(frame[:0], jpegSOI...)
				inFrame = true
			}
		default:
			frame = append(frame, b)
			if prev == jpegEOI[0] && b == jpegEOI[1] {
				return frame, nil
			}
			if len(frame) > maxFrameBytes {
				inFrame = false
				b = 0
			}
		}
		prev = b
	}
}

// MJPEGWriter writes frames as a multipart/x-mixed-replace body.
type MJPEGWriter struct {
	w        io.Writer
	boundary string
}

func NewMJPEGWriter(w io.Writer, boundary string) *MJPEGWriter {
	if boundary == "" {
		boundary = DefaultBoundary
	}
	return &MJPEGWriter{w: w, boundary: boundary}
}

// ContentType is the response header value matching the writer's boundary.
func (m *MJPEGWriter) ContentType() string {
	return "multipart/x-mixed-replace; boundary=" + m.boundary
}

func (m *MJPEGWriter) WriteFrame(frame []byte) error {
	header := fmt.Sprintf("--%s\r\nContent-Type: image/jpeg\r\nContent-Length: %d\r\n\r\n", m.boundary, len(frame))
	if _, err := io.WriteString(m.w, header); err != nil {
		return err
	}
	if _, err := m.w.Write(frame); err != nil {
		return err
	}
	_, err := io.WriteString(m.w, "\r\n")
	return err
}
