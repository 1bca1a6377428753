package simulator

import (
	"sync"

	"go.uber.org/zap"

	"meetkit/internal/core/domain"
	"meetkit/internal/core/ports"
)

// DeviceManager is an in-memory device controller. Device list changes are
// reported to observers on the caller's goroutine.
type DeviceManager struct {
	logger *zap.SugaredLogger

	mu        sync.Mutex
	audio     []domain.MediaDevice
	chosen    *domain.MediaDevice
	cameras   []domain.MediaDevice
	cameraIdx int
	observers []ports.DeviceChangeObserver
}

func NewDeviceManager(logger *zap.SugaredLogger) *DeviceManager {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &DeviceManager{
		logger: logger,
		audio: []domain.MediaDevice{
			{Label: "Built-in Speaker", Type: domain.DeviceAudioBuiltinSpeaker},
			{Label: "Handset", Type: domain.DeviceAudioHandset},
		},
		cameras: []domain.MediaDevice{
			{Label: "Front Camera", Type: domain.DeviceVideoFrontCamera},
			{Label: "Back Camera", Type: domain.DeviceVideoBackCamera},
		},
	}
}

func (d *DeviceManager) ListAudioDevices() []domain.MediaDevice {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]domain.MediaDevice(nil), d.audio...)
}

func (d *DeviceManager) ChooseAudioDevice(device domain.MediaDevice) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, candidate := range d.audio {
		if candidate == device {
			chosen := candidate
			d.chosen = &chosen
			d.logger.Infow("audio device chosen", "label", device.Label, "type", device.Type)
			return nil
		}
	}
	return domain.ErrDeviceNotFound
}

// ChosenAudioDevice returns the last device picked with ChooseAudioDevice.
func (d *DeviceManager) ChosenAudioDevice() (domain.MediaDevice, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.chosen == nil {
		return domain.MediaDevice{}, false
	}
	return *d.chosen, true
}

func (d *DeviceManager) ActiveCamera() (domain.MediaDevice, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.cameras) == 0 {
		return domain.MediaDevice{}, domain.ErrNoActiveCamera
	}
	return d.cameras[d.cameraIdx], nil
}

func (d *DeviceManager) SwitchCamera() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.cameras) == 0 {
		return domain.ErrNoActiveCamera
	}
	d.cameraIdx = (d.cameraIdx + 1) % len(d.cameras)
	d.logger.Infow("switched camera", "label", d.cameras[d.cameraIdx].Label)
	return nil
}

func (d *DeviceManager) AddDeviceChangeObserver(observer ports.DeviceChangeObserver) {
	if observer == nil {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, existing := range d.observers {
		if existing == observer {
			return
		}
	}
	d.observers = append(d.observers, observer)
}

func (d *DeviceManager) RemoveDeviceChangeObserver(observer ports.DeviceChangeObserver) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i, existing := range d.observers {
		if existing == observer {
			d.observers = append(d.observers[:i:i], d.observers[i+1:]...)
			return
		}
	}
}

// PlugAudioDevice adds a device, as when a headset is connected.
func (d *DeviceManager) PlugAudioDevice(device domain.MediaDevice) {
	d.mu.Lock()
	for _, existing := range d.audio {
		if existing == device {
			d.mu.Unlock()
			return
		}
	}
	d.audio = append(d.audio, device)
	d.mu.Unlock()

	d.notify()
}

// UnplugAudioDevice removes a device. Unplugging the chosen device clears
// the choice.
func (d *DeviceManager) UnplugAudioDevice(device domain.MediaDevice) {
	d.mu.Lock()
	removed := false
	for i, existing := range d.audio {
		if existing == device {
			d.audio = append(d.audio[:i:i], d.audio[i+1:]...)
			removed = true
			break
		}
	}
	if removed && d.chosen != nil && *d.chosen == device {
		d.chosen = nil
	}
	d.mu.Unlock()

	if removed {
		d.notify()
	}
}

func (d *DeviceManager) notify() {
	d.mu.Lock()
	devices := append([]domain.MediaDevice(nil), d.audio...)
	observers := append([]ports.DeviceChangeObserver(nil), d.observers...)
	d.mu.Unlock()

	for _, observer := range observers {
		d.safeNotify(observer, devices)
	}
}

func (d *DeviceManager) safeNotify(observer ports.DeviceChangeObserver, devices []domain.MediaDevice) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Errorw("device change observer panicked", "panic", r)
		}
	}()
	observer.OnAudioDeviceChange(append([]domain.MediaDevice(nil), devices...))
}

var _ ports.DeviceController = (*DeviceManager)(nil)
