package validation

import (
	"fmt"
	"net/url"
	"strings"
	"unicode"
	"unicode/utf8"

	apperrors "midilink/pkg/errors"
)

const (
	// MaxTargetLength bounds routing target names.
	MaxTargetLength = 128
	// MaxPayloadLength bounds one MIDI message; large SysEx dumps fit.
	MaxPayloadLength = 64 * 1024
)

// PayloadFromInts converts a JSON number array into MIDI bytes.
func PayloadFromInts(data []int) ([]byte, error) {
	if len(data) == 0 {
		return nil, apperrors.NewInvalidPayloadError("data must not be empty")
	}
	if len(data) > MaxPayloadLength {
		return nil, apperrors.NewInvalidPayloadError(fmt.Sprintf("data is too long (max %d bytes)", MaxPayloadLength))
	}
	payload := make([]byte, len(data))
	for i, v := range data {
		if v < 0 || v > 0xFF {
			return nil, apperrors.NewInvalidPayloadError(fmt.Sprintf("data[%d]=%d is not a byte", i, v)).
				WithContext("index", i)
		}
		payload[i] = byte(v)
	}
	return payload, nil
}

// ValidateTarget checks a routing target name. Empty is allowed and means
// the default target.
func ValidateTarget(target string) error {
	if target == "" {
		return nil
	}
	if err := ValidateStringLength(target, 1, MaxTargetLength, "target"); err != nil {
		return err
	}
	if !utf8.ValidString(target) {
		return apperrors.NewInvalidInputError("target is not valid UTF-8")
	}
	if strings.IndexFunc(target, unicode.IsControl) >= 0 {
		return apperrors.NewInvalidInputError("target contains control characters")
	}
	return nil
}

// ValidateURL validates URL format
func ValidateURL(urlStr string) error {
	if urlStr == "" {
		return fmt.Errorf("URL is required")
	}
	u, err := url.Parse(urlStr)
	if err != nil {
		return fmt.Errorf("invalid URL format: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" && u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("invalid URL scheme (must be http, https, ws, or wss)")
	}
	if u.Host == "" {
		return fmt.Errorf("URL must have a host")
	}
	return nil
}

// ValidateICEURL checks a STUN or TURN server URL.
func ValidateICEURL(urlStr string) error {
	scheme, rest, ok := strings.Cut(urlStr, ":")
	if !ok || rest == "" {
		return fmt.Errorf("invalid ICE server URL %q", urlStr)
	}
	switch scheme {
	case "stun", "stuns", "turn", "turns":
		return nil
	}
	return fmt.Errorf("invalid ICE server URL scheme %q (must be stun, stuns, turn or turns)", scheme)
}

// ValidateStringLength validates string length
func ValidateStringLength(s string, min, max int, fieldName string) error {
	length := utf8.RuneCountInString(s)
	if length < min {
		return apperrors.NewInvalidInputError(fmt.Sprintf("%s must be at least %d characters", fieldName, min))
	}
	if length > max {
		return apperrors.NewInvalidInputError(fmt.Sprintf("%s is too long (max %d characters)", fieldName, max))
	}
	return nil
}
