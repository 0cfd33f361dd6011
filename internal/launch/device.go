package launch

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	// ErrNoDevice is returned in strict mode when no identifier was given.
	ErrNoDevice = errors.New("no GPU device given")
	// ErrInvalidDevice is returned in strict mode for a malformed identifier.
	ErrInvalidDevice = errors.New("invalid GPU device")
)

// ParseDevices parses a CUDA_VISIBLE_DEVICES style list of device indices,
// e.g. "0" or "0,1,3".
func ParseDevices(id string) ([]int, error) {
	if id == "" {
		return nil, ErrNoDevice
	}

	parts := strings.Split(id, ",")
	devices := make([]int, 0, len(parts))
	seen := make(map[int]bool, len(parts))
	for _, p := range parts {
		if strings.HasPrefix(p, "+") || strings.HasPrefix(p, "-") {
			return nil, fmt.Errorf("%w %q: %q is not a non-negative integer", ErrInvalidDevice, id, p)
		}
		n, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("%w %q: %q is not a non-negative integer", ErrInvalidDevice, id, p)
		}
		if seen[n] {
			return nil, fmt.Errorf("%w %q: device %d listed twice", ErrInvalidDevice, id, n)
		}
		seen[n] = true
		devices = append(devices, n)
	}
	return devices, nil
}
