package series

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ParseInterval parses a bar interval such as "1m", "15m", "1h", "4h", "1d" or "1w".
// Anything time.ParseDuration accepts is also allowed.
func ParseInterval(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("%w: empty", ErrBadInterval)
	}

	unit := s[len(s)-1]
	var mult time.Duration
	switch unit {
	case 'd', 'D':
		mult = 24 * time.Hour
	case 'w', 'W':
		mult = 7 * 24 * time.Hour
	}
	if mult > 0 {
		n, err := strconv.Atoi(s[:len(s)-1])
		if err != nil || n <= 0 {
			return 0, fmt.Errorf("%w: %q", ErrBadInterval, s)
		}
		return time.Duration(n) * mult, nil
	}

	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("%w: %q", ErrBadInterval, s)
	}
	return d, nil
}
