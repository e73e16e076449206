//go:build !opencv

package face

// NewYuNet returns ErrUnavailable when built without the opencv tag.
func NewYuNet(cfg Config) (Detector, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return nil, ErrUnavailable
}
