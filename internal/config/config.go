package config

import (
	"errors"
	"fmt"

	"github.com/go-ini/ini"
	"github.com/spf13/afero"
)

// Keys read from the default section of the build config.
const (
	KeyTolerance = "tolerance"
	KeyFlashSize = "flashSize"
)

// ErrInvalid is returned when the build config is missing or malformed.
var ErrInvalid = errors.New("invalid configuration")

// Config holds the values the table generator needs from fsConfig.ini.
type Config struct {
	// TolerancePercent is the growth margin added to the firmware size.
	TolerancePercent int
	// FlashSizeMB is the flash chip capacity in mebibytes.
	FlashSizeMB int
}

// FlashCapacity returns the flash size in bytes.
func (c Config) FlashCapacity() uint64 {
	return uint64(c.FlashSizeMB) * 1024 * 1024
}

// Validate checks value ranges.
func (c Config) Validate() error {
	if c.TolerancePercent < 0 || c.TolerancePercent > 100 {
		return fmt.Errorf("%w: %s must be between 0 and 100, got %d", ErrInvalid, KeyTolerance, c.TolerancePercent)
	}
	if c.FlashSizeMB <= 0 {
		return fmt.Errorf("%w: %s must be positive, got %d", ErrInvalid, KeyFlashSize, c.FlashSizeMB)
	}
	return nil
}

// Load reads and validates the config file at path.
func Load(fs afero.Fs, path string) (*Config, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes INI data. Keys are case sensitive and may live either
// outside any section or under [DEFAULT].
func Parse(data []byte) (*Config, error) {
	f, err := ini.Load(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	sec := f.Section(ini.DefaultSection)

	tolerance, err := intKey(sec, KeyTolerance)
	if err != nil {
		return nil, err
	}
	flashSize, err := intKey(sec, KeyFlashSize)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		TolerancePercent: tolerance,
		FlashSizeMB:      flashSize,
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func intKey(sec *ini.Section, name string) (int, error) {
	if !sec.HasKey(name) {
		return 0, fmt.Errorf("%w: missing %q", ErrInvalid, name)
	}
	v, err := sec.Key(name).Int()
	if err != nil {
		return 0, fmt.Errorf("%w: %q is not an integer: %q", ErrInvalid, name, sec.Key(name).String())
	}
	return v, nil
}
