package handlers

import (
	"fmt"
	"strconv"
	"strings"
)

const maxCodeLength = 64

// validateCode checks a meeting or classroom code taken from the URL.
func validateCode(code string) error {
	code = strings.TrimSpace(code)
	if code == "" {
		return fmt.Errorf("code required")
	}
	if len(code) > maxCodeLength {
		return fmt.Errorf("code longer than %d characters", maxCodeLength)
	}
	return nil
}

// parseLimit reads an optional positive limit, falling back to def and
// capping at ceiling.
func parseLimit(raw string, def, ceiling int) (int, error) {
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("limit must be a positive integer")
	}
	if ceiling > 0 && n > ceiling {
		n = ceiling
	}
	return n, nil
}
