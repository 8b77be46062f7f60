package audio

import (
	"context"
	"encoding/binary"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/gen2brain/malgo"

	"github.com/hammamikhairi/wisprd/internal/domain"
	"github.com/hammamikhairi/wisprd/internal/logger"
)

// EnvInputDevice is the environment variable substring-matched against
// device names when no explicit device id was configured (spec §6).
const EnvInputDevice = "OPENWISPR_INPUT_DEVICE"

// Device describes one capture-capable input device.
type Device struct {
	ID      string
	Name    string
	IsDefault bool
}

// Capture owns a single malgo context for the process lifetime. Teacher's
// wakeword detector (and its sibling, the Ear's PortAudio monitor) each
// opened their own native audio backend; running two side by side is what
// caused the CoreAudio HAL corruption the teacher's ear.go comments warn
// about. Capture unifies input on one backend (malgo) so the orchestrator
// never has two native audio contexts fighting over the same device.
type Capture struct {
	log *logger.Logger

	mu     sync.Mutex
	mCtx   *malgo.AllocatedContext
	device *malgo.Device

	buf       []float32
	onSample  func(frame []float32)
	stopped   bool
}

// NewCapture initialises the shared malgo context. Call Close when the
// daemon exits.
func NewCapture(log *logger.Logger) (*Capture, error) {
	mCtx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(string) {})
	if err != nil {
		return nil, fmt.Errorf("audio: malgo init: %w", err)
	}
	return &Capture{log: log, mCtx: mCtx}, nil
}

// Close releases the malgo context.
func (c *Capture) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.mCtx != nil {
		_ = c.mCtx.Uninit()
		c.mCtx.Free()
		c.mCtx = nil
	}
}

// ListDevices enumerates capture-capable input devices.
func (c *Capture) ListDevices() ([]Device, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.mCtx == nil {
		return nil, fmt.Errorf("audio: context closed")
	}

	infos, err := c.mCtx.Devices(malgo.Capture)
	if err != nil {
		return nil, fmt.Errorf("audio: enumerate devices: %w", err)
	}

	out := make([]Device, 0, len(infos))
	for _, info := range infos {
		out = append(out, Device{
			ID:        info.ID.String(),
			Name:      info.Name(),
			IsDefault: info.IsDefault != 0,
		})
	}
	return out, nil
}

// ResolveDevice picks a device id by explicit configuration, else the
// OPENWISPR_INPUT_DEVICE env var (substring match against device name),
// else the system default (spec §4.G, §6).
func (c *Capture) ResolveDevice(configuredID string) (Device, error) {
	devices, err := c.ListDevices()
	if err != nil {
		return Device{}, err
	}
	if len(devices) == 0 {
		return Device{}, fmt.Errorf("audio: no input devices available")
	}

	if configuredID != "" {
		for _, d := range devices {
			if d.ID == configuredID {
				return d, nil
			}
		}
		c.log.Warn("audio: configured device %q not found, falling back", configuredID)
	}

	if envName := os.Getenv(EnvInputDevice); envName != "" {
		for _, d := range devices {
			if strings.Contains(strings.ToLower(d.Name), strings.ToLower(envName)) {
				return d, nil
			}
		}
		c.log.Warn("audio: %s=%q matched no device, falling back", EnvInputDevice, envName)
	}

	for _, d := range devices {
		if d.IsDefault {
			return d, nil
		}
	}
	return devices[0], nil
}

// StartResult carries the format the device was actually opened at.
type StartResult struct {
	Format domain.AudioFormat
}

// Start opens the system default capture device at 16 kHz mono S16 and
// begins streaming samples to onSample (invoked on the audio thread —
// must not block or allocate per spec §5). device only appears in the
// log; its ID is not passed to the backend, so a non-default device is
// never selected. Samples are delivered as mono f32 frames already
// converted from the device's native format. Call Stop to cease capture.
func (c *Capture) Start(ctx context.Context, device Device, onSample func(frame []float32)) (StartResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.mCtx == nil {
		return StartResult{}, fmt.Errorf("audio: context closed")
	}

	const sampleRate = 16000
	devCfg := malgo.DefaultDeviceConfig(malgo.Capture)
	devCfg.Capture.Format = malgo.FormatS16
	devCfg.Capture.Channels = 1
	devCfg.SampleRate = sampleRate
	devCfg.Alsa.NoMMap = 1

	c.onSample = onSample
	c.stopped = false

	callbacks := malgo.DeviceCallbacks{
		Data: func(_ []byte, raw []byte, _ uint32) {
			c.mu.Lock()
			cb := c.onSample
			stopped := c.stopped
			c.mu.Unlock()
			if stopped || cb == nil || len(raw) == 0 {
				return
			}
			n := len(raw) / 2
			frame := make([]float32, n)
			for i := 0; i < n; i++ {
				s := int16(binary.LittleEndian.Uint16(raw[i*2 : i*2+2]))
				frame[i] = float32(s) / 32768.0
			}
			cb(frame)
		},
	}

	dev, err := malgo.InitDevice(c.mCtx.Context, devCfg, callbacks)
	if err != nil {
		return StartResult{}, fmt.Errorf("audio: init device: %w", err)
	}
	if err := dev.Start(); err != nil {
		dev.Uninit()
		return StartResult{}, fmt.Errorf("audio: start device: %w", err)
	}
	c.device = dev

	c.log.Info("audio: capture started (device=%q, rate=%d)", device.Name, sampleRate)
	return StartResult{Format: domain.AudioFormat{SampleRateHz: sampleRate, Channels: 1, BitsPerSample: 16}}, nil
}

// Stop ceases appending and tears down the device. Safe to call once per
// Start.
func (c *Capture) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopped = true
	if c.device != nil {
		_ = c.device.Stop()
		c.device.Uninit()
		c.device = nil
	}
}
