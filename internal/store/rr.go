package store

import (
	"fmt"
	"strconv"
	"strings"
)

// FormatRR encodes RR intervals as comma-separated milliseconds.
func FormatRR(rr []uint16) string {
	if len(rr) == 0 {
		return ""
	}
	var b strings.Builder
	for i, v := range rr {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatUint(uint64(v), 10))
	}
	return b.String()
}

// ParseRR decodes FormatRR output. The result is never nil.
func ParseRR(s string) ([]uint16, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return []uint16{}, nil
	}
	parts := strings.Split(s, ",")
	rr := make([]uint16, 0, len(parts))
	for _, p := range parts {
		v, err := strconv.ParseUint(strings.TrimSpace(p), 10, 16)
		if err != nil {
			return nil, fmt.Errorf("invalid rr value %q: %w", p, err)
		}
		rr = append(rr, uint16(v))
	}
	return rr, nil
}
