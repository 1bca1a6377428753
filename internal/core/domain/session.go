package domain

import "fmt"

// SessionStatusCode is the reason reported when an audio or video client
// session stops.
type SessionStatusCode int

const (
	StatusOK SessionStatusCode = iota
	StatusLeft
	StatusAudioDisconnected
	StatusConnectionHealthReconnect
	StatusNetworkBecamePoor
	StatusAudioServerHungup
	StatusAudioJoinedFromAnotherDevice
	StatusVideoServiceUnavailable
	StatusVideoServiceFailed
)

var sessionStatusNames = map[SessionStatusCode]string{
	StatusOK:                           "ok",
	StatusLeft:                         "left",
	StatusAudioDisconnected:            "audio_disconnected",
	StatusConnectionHealthReconnect:    "connection_health_reconnect",
	StatusNetworkBecamePoor:            "network_became_poor",
	StatusAudioServerHungup:            "audio_server_hungup",
	StatusAudioJoinedFromAnotherDevice: "audio_joined_from_another_device",
	StatusVideoServiceUnavailable:      "video_service_unavailable",
	StatusVideoServiceFailed:           "video_service_failed",
}

func (c SessionStatusCode) String() string {
	if name, ok := sessionStatusNames[c]; ok {
		return name
	}
	return fmt.Sprintf("status(%d)", int(c))
}

func (c SessionStatusCode) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

func (c *SessionStatusCode) UnmarshalText(text []byte) error {
	for code, name := range sessionStatusNames {
		if name == string(text) {
			*c = code
			return nil
		}
	}
	return fmt.Errorf("unknown session status %q", text)
}

type SessionStatus struct {
	Code SessionStatusCode `json:"code"`
}

type MediaDeviceType int

const (
	DeviceAudioBluetooth MediaDeviceType = iota
	DeviceAudioWiredHeadset
	DeviceAudioBuiltinSpeaker
	DeviceAudioHandset
	DeviceVideoFrontCamera
	DeviceVideoBackCamera
	DeviceOther
)

func (t MediaDeviceType) String() string {
	switch t {
	case DeviceAudioBluetooth:
		return "audio_bluetooth"
	case DeviceAudioWiredHeadset:
		return "audio_wired_headset"
	case DeviceAudioBuiltinSpeaker:
		return "audio_builtin_speaker"
	case DeviceAudioHandset:
		return "audio_handset"
	case DeviceVideoFrontCamera:
		return "video_front_camera"
	case DeviceVideoBackCamera:
		return "video_back_camera"
	default:
		return "other"
	}
}

func (t MediaDeviceType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

func (t *MediaDeviceType) UnmarshalText(text []byte) error {
	for candidate := DeviceAudioBluetooth; candidate <= DeviceOther; candidate++ {
		if candidate.String() == string(text) {
			*t = candidate
			return nil
		}
	}
	return fmt.Errorf("unknown media device type %q", text)
}

type MediaDevice struct {
	Label string          `json:"label"`
	Type  MediaDeviceType `json:"type"`
}

func (d MediaDevice) IsCamera() bool {
	return d.Type == DeviceVideoFrontCamera || d.Type == DeviceVideoBackCamera
}
