package domain

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
)

var ErrNotDataURI = errors.New("not a base64 data uri")

// ParseDataURI splits a base64 data URI into its media type and payload.
func ParseDataURI(ref string) (string, []byte, error) {
	if !strings.HasPrefix(ref, "data:") {
		return "", nil, ErrNotDataURI
	}
	header, payload, ok := strings.Cut(strings.TrimPrefix(ref, "data:"), ",")
	if !ok || !strings.HasSuffix(header, ";base64") {
		return "", nil, ErrNotDataURI
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", nil, fmt.Errorf("decode data uri: %w", err)
	}
	return strings.TrimSuffix(header, ";base64"), data, nil
}
