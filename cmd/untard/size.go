package main

import (
	"fmt"
	"strconv"
	"strings"
)

// parseSize parses a byte count such as "100MiB", "512k" or "1048576".
// Unit suffixes are binary regardless of spelling.
func parseSize(value string) (int64, error) {
	text := strings.TrimSpace(value)
	lower := strings.ToLower(text)

	multiplier := int64(1)
	for _, unit := range []struct {
		suffix string
		mult   int64
	}{
		{"kib", 1 << 10}, {"kb", 1 << 10}, {"k", 1 << 10},
		{"mib", 1 << 20}, {"mb", 1 << 20}, {"m", 1 << 20},
		{"gib", 1 << 30}, {"gb", 1 << 30}, {"g", 1 << 30},
		{"b", 1},
	} {
		if strings.HasSuffix(lower, unit.suffix) {
			multiplier = unit.mult
			text = text[:len(text)-len(unit.suffix)]
			break
		}
	}

	text = strings.TrimSpace(text)
	raw, err := strconv.ParseInt(text, 10, 64)
	if err != nil || raw < 0 {
		return 0, fmt.Errorf("invalid size %q", value)
	}
	if raw > 0 && multiplier > 1 && raw > (1<<63-1)/multiplier {
		return 0, fmt.Errorf("size %q overflows", value)
	}
	return raw * multiplier, nil
}
