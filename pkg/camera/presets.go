package camera

// Preset names for common requests
const (
	PresetSelfie = "selfie"
	PresetTryOn  = "tryon"
	PresetLegacy = "legacy"
	Preset1080p  = "1080p"
	PresetRear   = "rear"
)

// Presets returns all available preset constraints.
func Presets() map[string]Constraints {
	return map[string]Constraints{
		PresetSelfie: DefaultConstraints(),
		PresetTryOn:  TryOnConstraints(),
		PresetLegacy: LegacyConstraints(),
		Preset1080p:  HD1080Constraints(),
		PresetRear:   RearConstraints(),
	}
}

// PresetNames returns the list of available preset names.
func PresetNames() []string {
	return []string{PresetSelfie, PresetTryOn, PresetLegacy, Preset1080p, PresetRear}
}

// GetPreset returns a preset by name, or nil if not found.
func GetPreset(name string) *Constraints {
	if c, ok := Presets()[name]; ok {
		return &c
	}
	return nil
}

// TryOnConstraints is what the try-on engine asks for: a portrait-friendly
// 640x480 feed keeps face tracking cheap.
func TryOnConstraints() Constraints {
	c := DefaultConstraints()
	c.Width = 640
	c.Height = 480
	return c
}

// LegacyConstraints returns a 640x480 request at 15 FPS for weak devices.
func LegacyConstraints() Constraints {
	c := TryOnConstraints()
	c.Framerate = 15
	return c
}

// HD1080Constraints returns 1080p Full HD.
func HD1080Constraints() Constraints {
	c := DefaultConstraints()
	c.Width = 1920
	c.Height = 1080
	return c
}

// RearConstraints asks for the environment-facing camera.
func RearConstraints() Constraints {
	c := DefaultConstraints()
	c.FacingMode = FacingEnvironment
	return c
}
