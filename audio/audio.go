package audio

import (
	"errors"
	"fmt"
	"strings"
)

const WAVHeaderSize = 44

var btKeywords = []string{
	"airpods", "beats", "bose", "wh-1000", "wf-1000",
	"sony wh-", "sony wf-",
	"jabra", "galaxy buds", "pixel buds", "powerbeats",
	"jbl ", "sennheiser momentum", "plantronics",
	"tozo", "anker soundcore", "skullcandy",
	"bluetooth", " bt ", " bt)", " bt]",
}

func IsBluetooth(name string) bool {
	lower := strings.ToLower(name)
	for _, kw := range btKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

type DataCallback func(data []byte, frameCount uint32)

// SourceCallback fills out with 16-bit PCM bytes and returns how many bytes
// were written. A short fill is padded with silence by the backend.
type SourceCallback func(out []byte) int

type CaptureConfig struct {
	SampleRate uint32
	Channels   uint32
}

type PlaybackConfig struct {
	SampleRate uint32
	Channels   uint32
}

type DeviceInfo struct {
	ID   string // opaque platform-specific identifier
	Name string
}

type Context interface {
	Devices() ([]DeviceInfo, error)
	NewCapture(device *DeviceInfo, config CaptureConfig) (CaptureDevice, error)
	NewPlayback(config PlaybackConfig) (PlaybackDevice, error)
	Close()
}

type CaptureDevice interface {
	Start() error
	Stop()
	Close()
	SetCallback(cb DataCallback)
	ClearCallback()
}

type PlaybackDevice interface {
	Start() error
	Stop()
	Close()
	SetSource(cb SourceCallback)
	ClearSource()
}

// ErrCode is a stable device-acquisition failure class. Callers surface the
// paired message, never the raw platform error.
type ErrCode string

const (
	ErrCodePermission  ErrCode = "permission_denied"
	ErrCodeNotFound    ErrCode = "device_not_found"
	ErrCodeBusy        ErrCode = "device_busy"
	ErrCodePolicy      ErrCode = "policy_blocked"
	ErrCodeUnsupported ErrCode = "unsupported"
)

type DeviceError struct {
	Code    ErrCode
	Message string // plain-language, actionable
	Cause   error
}

func (e *DeviceError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *DeviceError) Unwrap() error { return e.Cause }

// ClassifyError maps a backend acquisition failure to a DeviceError with a
// stable code and actionable message.
func ClassifyError(err error) *DeviceError {
	var de *DeviceError
	if errors.As(err, &de) {
		return de
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "access denied"), strings.Contains(msg, "permission"):
		return &DeviceError{
			Code:    ErrCodePermission,
			Message: "microphone access was denied - allow microphone access in your system settings and try again",
			Cause:   err,
		}
	case strings.Contains(msg, "no such device"), strings.Contains(msg, "no device"), strings.Contains(msg, "not found"):
		return &DeviceError{
			Code:    ErrCodeNotFound,
			Message: "no microphone was found - plug one in or select a different device",
			Cause:   err,
		}
	case strings.Contains(msg, "busy"), strings.Contains(msg, "in use"):
		return &DeviceError{
			Code:    ErrCodeBusy,
			Message: "the microphone is in use by another application - close it and try again",
			Cause:   err,
		}
	case strings.Contains(msg, "policy"), strings.Contains(msg, "blocked"):
		return &DeviceError{
			Code:    ErrCodePolicy,
			Message: "microphone access is blocked by a security policy on this machine",
			Cause:   err,
		}
	default:
		return &DeviceError{
			Code:    ErrCodeUnsupported,
			Message: "audio isn't working on this device - check your sound settings",
			Cause:   err,
		}
	}
}
