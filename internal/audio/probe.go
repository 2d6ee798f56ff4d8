package audio

import "strings"

// loopbackNames are substrings of input device names that carry system
// output rather than a microphone.
var loopbackNames = []string{
	"monitor",
	"stereo mix",
	"loopback",
	"what u hear",
	"wave out",
	"blackhole",
	"soundflower",
}

// LooksLikeLoopback reports whether an input endpoint name is a known
// loopback or monitor device.
func LooksLikeLoopback(name string) bool {
	lower := strings.ToLower(name)
	for _, n := range loopbackNames {
		if strings.Contains(lower, n) {
			return true
		}
	}
	return false
}

// LoopbackProbe is one strategy for finding the system-audio endpoint.
// Probes run in order and the first success wins.
type LoopbackProbe struct {
	Name string
	Find func(endpoints []Endpoint) (Endpoint, bool)
}

// DefaultMonitorProbe picks the monitor of the default output device.
func DefaultMonitorProbe() LoopbackProbe {
	return LoopbackProbe{
		Name: "default-monitor",
		Find: func(endpoints []Endpoint) (Endpoint, bool) {
			for _, ep := range endpoints {
				if ep.Kind == SystemAudio && ep.IsDefault {
					return ep, true
				}
			}
			return Endpoint{}, false
		},
	}
}

// NamedDeviceProbe picks the first input whose name matches one of the
// known loopback device names ("Stereo Mix", "BlackHole", ...).
func NamedDeviceProbe() LoopbackProbe {
	return LoopbackProbe{
		Name: "named-device",
		Find: func(endpoints []Endpoint) (Endpoint, bool) {
			for _, ep := range endpoints {
				if LooksLikeLoopback(ep.Name) {
					ep.Kind = SystemAudio
					return ep, true
				}
			}
			return Endpoint{}, false
		},
	}
}

// AnySystemAudioProbe picks any endpoint a backend already tagged as
// system audio.
func AnySystemAudioProbe() LoopbackProbe {
	return LoopbackProbe{
		Name: "any-system-audio",
		Find: func(endpoints []Endpoint) (Endpoint, bool) {
			for _, ep := range endpoints {
				if ep.Kind == SystemAudio {
					return ep, true
				}
			}
			return Endpoint{}, false
		},
	}
}

// DefaultProbes is the probe order used by the registry
func DefaultProbes() []LoopbackProbe {
	return []LoopbackProbe{
		DefaultMonitorProbe(),
		NamedDeviceProbe(),
		AnySystemAudioProbe(),
	}
}

// Backend names accepted by OpenBackends
const (
	BackendPortAudio = "portaudio"
	BackendPulse     = "pulse"
	BackendMalgo     = "malgo"
)

// DefaultBackends returns the backends tried on goos, in order.
// Loopback-capable backends come first so their default monitor wins the
// probe; PortAudio supplies microphones everywhere.
func DefaultBackends(goos string) []string {
	switch goos {
	case "linux", "freebsd":
		return []string{BackendPulse, BackendPortAudio}
	case "windows":
		return []string{BackendMalgo, BackendPortAudio}
	default:
		// macOS has no native loopback; BlackHole or Soundflower show up
		// as PortAudio inputs and are found by name.
		return []string{BackendPortAudio}
	}
}
