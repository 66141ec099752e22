package erp

import (
	"fmt"
	"strconv"
	"strings"
)

// The ERP renders every monetary value as a comma-decimal string ("10,50").
// These helpers do arithmetic in that format so written-back values round
// trip the way the web client produces them.

func parseComma(s string) (float64, error) {
	v, err := strconv.ParseFloat(strings.Replace(strings.TrimSpace(s), ",", ".", 1), 64)
	if err != nil {
		return 0, fmt.Errorf("not a comma-decimal number: %q", s)
	}
	return v, nil
}

func formatComma(v float64) string {
	return strings.Replace(strconv.FormatFloat(v, 'f', 2, 64), ".", ",", 1)
}

func mulComma(a, b string) (string, error) {
	x, err := parseComma(a)
	if err != nil {
		return "", err
	}
	y, err := parseComma(b)
	if err != nil {
		return "", err
	}
	return formatComma(x * y), nil
}

func sumComma(a, b string) (string, error) {
	x, err := parseComma(a)
	if err != nil {
		return "", err
	}
	y, err := parseComma(b)
	if err != nil {
		return "", err
	}
	return formatComma(x + y), nil
}

func divComma(a, b string) (string, error) {
	x, err := parseComma(a)
	if err != nil {
		return "", err
	}
	y, err := parseComma(b)
	if err != nil {
		return "", err
	}
	if y == 0 {
		return "", fmt.Errorf("division by zero: %q / %q", a, b)
	}
	return formatComma(x / y), nil
}
