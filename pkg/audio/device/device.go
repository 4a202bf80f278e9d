// Package device binds the capture and playback abstractions to real sound
// hardware through miniaudio (github.com/gen2brain/malgo).
//
// [Microphone] implements [capture.Source] and [Speaker] implements
// [playback.Device]. Both exchange signed 16-bit PCM with the driver;
// miniaudio converts to and from the hardware's native format and rate.
package device

import (
	"errors"
	"fmt"
	"strings"
	"unsafe"

	"github.com/gen2brain/malgo"

	"github.com/MrWong99/signbridge/pkg/audio"
)

const (
	// DefaultPeriod is the driver callback period in milliseconds.
	DefaultPeriod = 20

	// bytesPerSample for malgo.FormatS16.
	bytesPerSample = 2
)

// Option configures a [Microphone] or [Speaker].
type Option func(*options)

type options struct {
	deviceName string
	periodMs   uint32
}

// WithDeviceName selects the first device whose name contains name
// (case-insensitive). An empty name selects the system default.
func WithDeviceName(name string) Option {
	return func(o *options) {
		o.deviceName = name
	}
}

// WithPeriod sets the driver callback period in milliseconds.
func WithPeriod(ms int) Option {
	return func(o *options) {
		if ms > 0 {
			o.periodMs = uint32(ms)
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{periodMs: DefaultPeriod}
	for _, fn := range opts {
		fn(&o)
	}
	return o
}

// initContext allocates a miniaudio context.
func initContext() (*malgo.AllocatedContext, error) {
	actx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: init context: %v", audio.ErrDeviceUnavailable, err)
	}
	return actx, nil
}

// freeContext releases a context allocated by initContext.
func freeContext(actx *malgo.AllocatedContext) error {
	if actx == nil {
		return nil
	}
	err := actx.Uninit()
	actx.Free()
	return err
}

// findDevice returns the ID of the first device of kind whose name contains
// name, or nil when name is empty.
func findDevice(actx *malgo.AllocatedContext, kind malgo.DeviceType, name string) (unsafe.Pointer, error) {
	if name == "" {
		return nil, nil
	}
	infos, err := actx.Devices(kind)
	if err != nil {
		return nil, fmt.Errorf("%w: list devices: %v", audio.ErrDeviceUnavailable, err)
	}
	want := strings.ToLower(name)
	for _, info := range infos {
		if strings.Contains(strings.ToLower(info.Name()), want) {
			return info.ID.Pointer(), nil
		}
	}
	return nil, fmt.Errorf("%w: no device matching %q", audio.ErrDeviceUnavailable, name)
}

// classify maps a driver error onto the package sentinels. Backends report
// refused microphone access with an "access denied" or "permission" result.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, audio.ErrPermissionDenied) || errors.Is(err, audio.ErrDeviceUnavailable) {
		return err
	}
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "access denied") || strings.Contains(msg, "permission") {
		return fmt.Errorf("%w: %s: %v", audio.ErrPermissionDenied, op, err)
	}
	return fmt.Errorf("%w: %s: %v", audio.ErrDeviceUnavailable, op, err)
}
