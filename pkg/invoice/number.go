package invoice

import (
	"fmt"
	"regexp"
	"strconv"
)

var numberPattern = regexp.MustCompile(`^INV-(\d{4})-(\d{6,})$`)

// FormatNumber renders an invoice number such as INV-2025-000042.
func FormatNumber(year int, seq int64) string {
	return fmt.Sprintf("INV-%04d-%06d", year, seq)
}

// ParseNumber splits an invoice number into year and sequence.
func ParseNumber(number string) (year int, seq int64, err error) {
	m := numberPattern.FindStringSubmatch(number)
	if m == nil {
		return 0, 0, fmt.Errorf("%w: %q", ErrInvalidNumber, number)
	}
	year, _ = strconv.Atoi(m[1])
	seq, err = strconv.ParseInt(m[2], 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %q", ErrInvalidNumber, number)
	}
	return year, seq, nil
}
