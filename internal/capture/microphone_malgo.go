//go:build malgo

package capture

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/gen2brain/malgo"
)

// malgoMicrophone captures the default input device through miniaudio.
type malgoMicrophone struct {
	format Format
	log    *slog.Logger

	mu     sync.Mutex
	ctx    *malgo.AllocatedContext
	device *malgo.Device
	rec    *StreamRecorder
}

func newMalgoMicrophone(format Format, log *slog.Logger) (Microphone, error) {
	return &malgoMicrophone{format: format, log: log}, nil
}

func (m *malgoMicrophone) Start(path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.device != nil {
		return fmt.Errorf("capture: microphone already started")
	}

	rec, err := NewStreamRecorder(StreamOptions{Path: path, Format: m.format, Logger: m.log})
	if err != nil {
		return err
	}

	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(msg string) {
		m.log.Debug("miniaudio", "msg", msg)
	})
	if err != nil {
		rec.Discard()
		return fmt.Errorf("capture: init audio context: %w", err)
	}

	cfg := malgo.DefaultDeviceConfig(malgo.Capture)
	cfg.Capture.Format = malgo.FormatS16
	cfg.Capture.Channels = uint32(m.format.Channels)
	cfg.SampleRate = uint32(m.format.SampleRate)

	onData := func(_, input []byte, _ uint32) {
		pcm := make([]int16, len(input)/2)
		for i := range pcm {
			pcm[i] = int16(input[i*2]) | int16(input[i*2+1])<<8
		}
		if err := rec.WriteInt16(pcm); err != nil {
			m.log.Debug("microphone block dropped", "err", err)
		}
	}
	device, err := malgo.InitDevice(ctx.Context, cfg, malgo.DeviceCallbacks{Data: onData})
	if err != nil {
		ctx.Uninit()
		ctx.Free()
		rec.Discard()
		return fmt.Errorf("capture: init capture device: %w", err)
	}
	if err := device.Start(); err != nil {
		device.Uninit()
		ctx.Uninit()
		ctx.Free()
		rec.Discard()
		return fmt.Errorf("capture: start capture device: %w", err)
	}

	m.ctx, m.device, m.rec = ctx, device, rec
	m.log.Info("microphone recording", "path", path)
	return nil
}

func (m *malgoMicrophone) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.device == nil {
		return nil
	}
	stopErr := m.device.Stop()
	m.device.Uninit()
	_ = m.ctx.Uninit()
	m.ctx.Free()
	m.device, m.ctx = nil, nil

	err := m.rec.Close()
	if err == nil && stopErr != nil {
		err = fmt.Errorf("capture: stop capture device: %w", stopErr)
	}
	return err
}

func init() {
	newDeviceMicrophone = newMalgoMicrophone
}
