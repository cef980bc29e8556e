// Package dx parses DX film codes.
//
// A DX extract is the 4-digit product code shared by both barcodes on a film:
// the ITF canister code carries it in digits 2-5 of the 6-digit full code, and
// the film edge DX number "XXX-YY" encodes it as XXX*16 + YY.
package dx

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrInvalid is returned for codes that cannot be parsed
var ErrInvalid = errors.New("dx: invalid code")

// ParseCode normalizes a numeric DX code to maxDigits digits with leading zeros
func ParseCode(code string, maxDigits int) (string, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return "", fmt.Errorf("%w: empty code", ErrInvalid)
	}
	n, err := strconv.Atoi(code)
	if err != nil || n < 0 {
		return "", fmt.Errorf("%w: %q is not a number", ErrInvalid, code)
	}
	result := fmt.Sprintf("%0*d", maxDigits, n)
	if len(result) > maxDigits {
		return "", fmt.Errorf("%w: %q longer than %d digits", ErrInvalid, code, maxDigits)
	}
	return result, nil
}

// ExtractFromFull returns the DX extract of a 6-digit full code ("025943" -> "2594")
func ExtractFromFull(full string) (string, error) {
	code, err := ParseCode(full, 6)
	if err != nil {
		return "", err
	}
	return code[1:5], nil
}

// ExtractFromNumber converts a two-part DX number to its DX extract.
//
// "-" is the expected separator, spaces and "/" are accepted too; anything
// after the second part (half frame number) is ignored.
//
//	"162-2" -> 162*16 + 2 = "2594"
//	"7-0"   ->   7*16 + 0 = "0112"
func ExtractFromNumber(number string) (string, error) {
	normalized := strings.NewReplacer("-", " ", "/", " ").Replace(number)
	parts := strings.Fields(normalized)
	if len(parts) < 2 {
		return "", fmt.Errorf("%w: DX number %q must be two series of digits separated by a dash", ErrInvalid, number)
	}
	first, err := strconv.Atoi(parts[0])
	if err != nil {
		return "", fmt.Errorf("%w: DX number %q: %v", ErrInvalid, number, err)
	}
	second, err := strconv.Atoi(strings.TrimRightFunc(parts[1], isNotDigit))
	if err != nil {
		return "", fmt.Errorf("%w: DX number %q: %v", ErrInvalid, number, err)
	}
	return fmt.Sprintf("%04d", 16*first+second), nil
}

func isNotDigit(r rune) bool {
	return r < '0' || r > '9'
}
