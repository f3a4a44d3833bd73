package pipeline

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"visiontrigger/internal/logger"
)

const providerModule = "FrameProvider"

// ErrNoFrame is returned by NextFrame when the camera produced nothing in time
var ErrNoFrame = errors.New("no frame available")

// FrameProviderConfig describes the camera
type FrameProviderConfig struct {
	Device       string
	FPS          int
	Width        int
	Height       int
	FrameTimeout time.Duration // NextFrame gives up after this long (0 = wait for ctx)
	RestartDelay time.Duration // pause before restarting a dead capture process
}

// FFmpegFrameProvider captures JPEG frames from a V4L2/RTSP/HTTP source using
// ffmpeg, or by polling an HTTP snapshot URL, and keeps only the newest frame.
// A slow consumer sees the latest frame, never a backlog.
type FFmpegFrameProvider struct {
	cfg      FrameProviderConfig
	slot     chan *FrameData // single-slot mailbox, overwritten on publish
	frameSeq atomic.Uint64
	running  atomic.Bool
	stats    CaptureStats
	statsMu  sync.RWMutex
	client   *http.Client
}

// NewFFmpegFrameProvider creates a provider; call Run to start capturing
func NewFFmpegFrameProvider(cfg FrameProviderConfig) *FFmpegFrameProvider {
	if cfg.FPS <= 0 {
		cfg.FPS = 30
	}
	if cfg.RestartDelay <= 0 {
		cfg.RestartDelay = 2 * time.Second
	}
	return &FFmpegFrameProvider{
		cfg:    cfg,
		slot:   make(chan *FrameData, 1),
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Run captures until ctx is cancelled, restarting the capture when it dies
func (p *FFmpegFrameProvider) Run(ctx context.Context) error {
	if !p.running.CompareAndSwap(false, true) {
		return fmt.Errorf("frame provider already running")
	}
	defer p.running.Store(false)

	logger.Info(providerModule, "Starting capture (device: %s, fps: %d, size: %dx%d)",
		p.cfg.Device, p.cfg.FPS, p.cfg.Width, p.cfg.Height)

	for {
		var err error
		if p.isHTTPImageEndpoint() {
			err = p.captureHTTPImages(ctx)
		} else {
			err = p.captureFFmpeg(ctx)
		}

		if ctx.Err() != nil {
			logger.Info(providerModule, "Capture stopped")
			return nil
		}

		p.statsMu.Lock()
		p.stats.Restarts++
		p.statsMu.Unlock()
		logger.Warn(providerModule, "Capture ended (%v), restarting in %s", err, p.cfg.RestartDelay)

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(p.cfg.RestartDelay):
		}
	}
}

// IsRunning returns true while the capture loop is active
func (p *FFmpegFrameProvider) IsRunning() bool {
	return p.running.Load()
}

// NextFrame implements FrameSource
func (p *FFmpegFrameProvider) NextFrame(ctx context.Context) (*FrameData, error) {
	var timeout <-chan time.Time
	if p.cfg.FrameTimeout > 0 {
		timer := time.NewTimer(p.cfg.FrameTimeout)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case frame := <-p.slot:
		return frame, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timeout:
		return nil, fmt.Errorf("%w within %s", ErrNoFrame, p.cfg.FrameTimeout)
	}
}

// GetStats returns a copy of the capture statistics
func (p *FFmpegFrameProvider) GetStats() CaptureStats {
	p.statsMu.RLock()
	defer p.statsMu.RUnlock()
	return p.stats
}

func (p *FFmpegFrameProvider) isHTTPImageEndpoint() bool {
	d := p.cfg.Device
	return (strings.HasPrefix(d, "http://") || strings.HasPrefix(d, "https://")) &&
		(strings.Contains(d, ".jpg") || strings.Contains(d, ".jpeg") || strings.Contains(d, "image") || strings.Contains(d, "snapshot"))
}

func (p *FFmpegFrameProvider) captureHTTPImages(ctx context.Context) error {
	interval := time.Second / time.Duration(p.cfg.FPS)
	if interval < 100*time.Millisecond {
		interval = 100 * time.Millisecond
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			frame, err := p.fetchImage(ctx)
			if err != nil {
				p.statsMu.Lock()
				p.stats.CaptureErrors++
				p.statsMu.Unlock()
				logger.Debug(providerModule, "Error fetching frame from %s: %v", p.cfg.Device, err)
				continue
			}
			p.publish(frame)
		}
	}
}

func (p *FFmpegFrameProvider) fetchImage(ctx context.Context) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.cfg.Device, nil)
	if err != nil {
		return nil, err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

func (p *FFmpegFrameProvider) ffmpegArgs() []string {
	fps := fmt.Sprintf("%d", p.cfg.FPS)
	switch {
	case strings.HasPrefix(p.cfg.Device, "rtsp://"):
		return []string{"-rtsp_transport", "tcp", "-i", p.cfg.Device,
			"-f", "image2pipe", "-vcodec", "mjpeg", "-r", fps, "-q:v", "5", "-"}
	case strings.HasPrefix(p.cfg.Device, "http://"), strings.HasPrefix(p.cfg.Device, "https://"):
		return []string{"-i", p.cfg.Device,
			"-f", "image2pipe", "-vcodec", "mjpeg", "-r", fps, "-q:v", "5", "-"}
	default:
		// V4L2 device (USB / CSI camera)
		return []string{"-f", "v4l2",
			"-video_size", fmt.Sprintf("%dx%d", p.cfg.Width, p.cfg.Height),
			"-framerate", fps, "-i", p.cfg.Device,
			"-f", "image2pipe", "-vcodec", "mjpeg", "-q:v", "5", "-"}
	}
}

func (p *FFmpegFrameProvider) captureFFmpeg(ctx context.Context) error {
	cmd := exec.CommandContext(ctx, "ffmpeg", p.ffmpegArgs()...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start ffmpeg: %w", err)
	}

	go func() {
		scanner := bufio.NewScanner(stderr)
		for scanner.Scan() {
			logger.Debug(providerModule, "ffmpeg: %s", scanner.Text())
		}
	}()

	readErr := p.readJPEGStream(ctx, stdout)
	waitErr := cmd.Wait()
	if readErr != nil {
		return readErr
	}
	return waitErr
}

// readJPEGStream splits an MJPEG byte stream into frames and publishes them
func (p *FFmpegFrameProvider) readJPEGStream(ctx context.Context, r io.Reader) error {
	buffer := make([]byte, 0, 1024*1024)
	chunk := make([]byte, 8192)

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		n, err := r.Read(chunk)
		if n > 0 {
			buffer = append(buffer, chunk[:n]...)
			for {
				frame := extractJPEGFrame(&buffer)
				if frame == nil {
					break
				}
				p.publish(frame)
			}
		}
		if err != nil {
			if err == io.EOF {
				return io.ErrUnexpectedEOF
			}
			return err
		}
	}
}

// publish replaces whatever frame is waiting in the slot with data
func (p *FFmpegFrameProvider) publish(data []byte) {
	frame := &FrameData{
		Data:      data,
		Seq:       p.frameSeq.Add(1),
		Timestamp: time.Now(),
		Width:     p.cfg.Width,
		Height:    p.cfg.Height,
	}

	dropped := false
	select {
	case <-p.slot:
		dropped = true
	default:
	}
	p.slot <- frame

	p.statsMu.Lock()
	p.stats.FramesCaptured++
	if dropped {
		p.stats.FramesDropped++
	}
	p.stats.LastFrameTime = frame.Timestamp.Unix()
	p.statsMu.Unlock()

	if frame.Seq%300 == 0 {
		logger.Debug(providerModule, "Captured frame %d", frame.Seq)
	}
}

var (
	jpegStart = []byte{0xFF, 0xD8}
	jpegEnd   = []byte{0xFF, 0xD9}
)

// extractJPEGFrame removes and returns the first complete JPEG in buffer,
// discarding any bytes before its start marker. Without a start marker only
// the last byte is kept, since it may be the first half of one.
func extractJPEGFrame(buffer *[]byte) []byte {
	start := bytes.Index(*buffer, jpegStart)
	if start == -1 {
		if n := len(*buffer); n > 1 {
			*buffer = (*buffer)[n-1:]
		}
		return nil
	}

	end := bytes.Index((*buffer)[start+2:], jpegEnd)
	if end == -1 {
		return nil
	}
	end += start + 2 + len(jpegEnd)

	frame := make([]byte, end-start)
	copy(frame, (*buffer)[start:end])
	*buffer = (*buffer)[end:]

	return frame
}

var _ FrameSource = (*FFmpegFrameProvider)(nil)
