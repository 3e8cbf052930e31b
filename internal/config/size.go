package config

import (
	"fmt"
	"strconv"
	"strings"
)

// ByteSize is a byte count that reads from YAML either as a plain integer or
// as a human string such as "64KB" or "8MiB". Units are binary.
type ByteSize int64

const (
	B   ByteSize = 1
	KiB          = 1024 * B
	MiB          = 1024 * KiB
	GiB          = 1024 * MiB
)

var sizeUnits = []struct {
	suffix string
	mult   ByteSize
}{
	{"KIB", KiB}, {"MIB", MiB}, {"GIB", GiB},
	{"KB", KiB}, {"MB", MiB}, {"GB", GiB},
	{"K", KiB}, {"M", MiB}, {"G", GiB},
	{"B", B},
}

// ParseSize parses "8MB", "64KiB", "1G" or "4096".
func ParseSize(s string) (ByteSize, error) {
	str := strings.ToUpper(strings.TrimSpace(s))
	if str == "" {
		return 0, fmt.Errorf("empty size")
	}

	mult := B
	for _, u := range sizeUnits {
		if strings.HasSuffix(str, u.suffix) {
			mult = u.mult
			str = strings.TrimSpace(strings.TrimSuffix(str, u.suffix))
			break
		}
	}

	n, err := strconv.ParseFloat(str, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid size %q: %w", s, err)
	}
	if n < 0 {
		return 0, fmt.Errorf("invalid size %q: negative", s)
	}
	return ByteSize(n * float64(mult)), nil
}

// Int64 returns the size as an int64.
func (b ByteSize) Int64() int64 {
	return int64(b)
}

func (b ByteSize) String() string {
	switch {
	case b >= GiB && b%GiB == 0:
		return fmt.Sprintf("%dGB", b/GiB)
	case b >= MiB && b%MiB == 0:
		return fmt.Sprintf("%dMB", b/MiB)
	case b >= KiB && b%KiB == 0:
		return fmt.Sprintf("%dKB", b/KiB)
	default:
		return strconv.FormatInt(int64(b), 10)
	}
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (b *ByteSize) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var n int64
	if err := unmarshal(&n); err == nil {
		*b = ByteSize(n)
		return nil
	}
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	parsed, err := ParseSize(s)
	if err != nil {
		return err
	}
	*b = parsed
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (b ByteSize) MarshalYAML() (interface{}, error) {
	return b.String(), nil
}
