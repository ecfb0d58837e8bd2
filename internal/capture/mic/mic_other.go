//go:build !linux

package mic

import (
	"context"
	"encoding/hex"
	"fmt"

	"github.com/gen2brain/malgo"

	"transcription-relay/internal/capture"
)

// Devices lists the capture devices miniaudio can see.
func Devices() ([]DeviceInfo, error) {
	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", capture.ErrDeviceUnavailable, err)
	}
	defer func() {
		mctx.Uninit()
		mctx.Free()
	}()

	infos, err := mctx.Devices(malgo.Capture)
	if err != nil {
		return nil, fmt.Errorf("malgo devices: %w", err)
	}
	var devices []DeviceInfo
	for _, d := range infos {
		devices = append(devices, DeviceInfo{
			ID:   hex.EncodeToString(d.ID[:]),
			Name: d.Name(),
		})
	}
	return devices, nil
}

// Stream records from the capture device until ctx is cancelled.
func (s *Source) Stream(ctx context.Context, fn func(samples []float32)) error {
	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", capture.ErrDeviceUnavailable, err)
	}
	defer func() {
		mctx.Uninit()
		mctx.Free()
	}()

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatF32
	deviceConfig.Capture.Channels = 1
	deviceConfig.SampleRate = uint32(s.cfg.SampleRate)

	if s.cfg.Device != "" {
		idBytes, err := hex.DecodeString(s.cfg.Device)
		if err != nil {
			return fmt.Errorf("invalid device ID: %w", err)
		}
		var devID malgo.DeviceID
		copy(devID[:], idBytes)
		deviceConfig.Capture.DeviceID = devID.Pointer()
	}

	callbacks := malgo.DeviceCallbacks{
		Data: func(_, in []byte, _ uint32) {
			fn(float32FromBytes(in))
		},
	}
	dev, err := malgo.InitDevice(mctx.Context, deviceConfig, callbacks)
	if err != nil {
		return fmt.Errorf("%w: %v", capture.ErrDeviceUnavailable, err)
	}
	defer dev.Uninit()

	if err := dev.Start(); err != nil {
		return fmt.Errorf("%w: start: %v", capture.ErrDeviceUnavailable, err)
	}
	<-ctx.Done()
	dev.Stop()
	return nil
}
