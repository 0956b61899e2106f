package audio

import (
	"encoding/binary"
	"log/slog"
	"math"
	"sync"

	"github.com/gen2brain/malgo"

	"github.com/lmonteiro/james/pkg/core"
)

// Gate reports whether the assistant is currently rendering audio.
// While it is, captured frames are withheld so the assistant does not
// hear itself.
type Gate interface {
	Speaking() bool
}

// FrameFunc receives one transport-encoded capture frame.
type FrameFunc func(frame string)

// Capture owns the microphone: an exclusive 16 kHz mono float device
// whose samples are chunked into fixed-size frames and forwarded
// through the half-duplex gate.
type Capture struct {
	gate   Gate
	logger *slog.Logger

	mu      sync.Mutex
	running bool
	forward FrameFunc
	buf     []float32

	malgoCtx *malgo.AllocatedContext
	device   *malgo.Device
}

// NewCapture creates an idle capture pipeline gated on the given gate.
func NewCapture(gate Gate, logger *slog.Logger) *Capture {
	if logger == nil {
		logger = slog.Default()
	}
	return &Capture{
		gate:   gate,
		logger: logger,
		buf:    make([]float32, 0, FrameSamples*2),
	}
}

// Start acquires the microphone. A refusal by the OS or the user is
// reported as a permission denied error and capture does not proceed.
func (c *Capture) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return nil
	}

	malgoCtx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return core.NewPermissionDeniedError("audio backend unavailable", err)
	}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatF32
	deviceConfig.Capture.Channels = 1
	deviceConfig.SampleRate = CaptureSampleRate

	callbacks := malgo.DeviceCallbacks{
		Data: func(_, input []byte, _ uint32) {
			c.ingest(decodeF32LE(input))
		},
	}

	device, err := malgo.InitDevice(malgoCtx.Context, deviceConfig, callbacks)
	if err != nil {
		_ = malgoCtx.Uninit()
		return core.NewPermissionDeniedError("microphone access denied", err)
	}
	if err := device.Start(); err != nil {
		device.Uninit()
		_ = malgoCtx.Uninit()
		return core.NewPermissionDeniedError("microphone could not start", err)
	}

	c.malgoCtx = malgoCtx
	c.device = device
	c.running = true
	c.buf = c.buf[:0]
	return nil
}

// SetForward installs (or clears, with nil) the outbound frame sink.
// Frames produced while no sink is installed are discarded.
func (c *Capture) SetForward(fn FrameFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.forward = fn
}

// Stop releases the microphone. Calling it when not running is a no-op.
func (c *Capture) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.running {
		return
	}
	c.running = false
	c.forward = nil
	c.buf = c.buf[:0]

	if c.device != nil {
		_ = c.device.Stop()
		c.device.Uninit()
		c.device = nil
	}
	if c.malgoCtx != nil {
		if err := c.malgoCtx.Uninit(); err != nil {
			c.logger.Error("audio backend release failed", "error", err)
		}
		c.malgoCtx = nil
	}
}

// ingest accumulates device samples and emits whole frames through the
// gate. Called from the device's data callback.
func (c *Capture) ingest(samples []float32) {
	c.mu.Lock()
	c.buf = append(c.buf, samples...)

	var frames []string
	for len(c.buf) >= FrameSamples {
		if c.forward != nil && (c.gate == nil || !c.gate.Speaking()) {
			frames = append(frames, EncodeFrame(c.buf[:FrameSamples]))
		}
		c.buf = c.buf[FrameSamples:]
	}
	forward := c.forward
	c.mu.Unlock()

	if forward == nil {
		return
	}
	for _, frame := range frames {
		forward(frame)
	}
}

func decodeF32LE(data []byte) []float32 {
	out := make([]float32, len(data)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return out
}
