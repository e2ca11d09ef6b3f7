package plantuml

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/flate"
)

// ErrInvalidDescription is returned when a description is missing its
// @startuml/@enduml markers or has an empty body between them.
var ErrInvalidDescription = errors.New("invalid diagram description")

const (
	StartMarker = "@startuml"
	EndMarker   = "@enduml"
)

// alphabet is the PlantUML transport alphabet. It is not standard base64:
// the render server decodes tokens with this exact character order.
const alphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz-_"

// Format selects the rendered image variant.
type Format string

const (
	FormatVector Format = "svg"
	FormatRaster Format = "png"
)

// Validate checks that the description carries both markers and a
// non-empty body between them.
func Validate(description string) error {
	start := strings.Index(description, StartMarker)
	if start < 0 {
		return fmt.Errorf("%w: missing %s", ErrInvalidDescription, StartMarker)
	}
	rest := description[start+len(StartMarker):]
	end := strings.Index(rest, EndMarker)
	if end < 0 {
		return fmt.Errorf("%w: missing %s", ErrInvalidDescription, EndMarker)
	}
	if strings.TrimSpace(rest[:end]) == "" {
		return fmt.Errorf("%w: empty body", ErrInvalidDescription)
	}
	return nil
}

// Encode turns a diagram description into the compact token the render
// server expects: raw deflate followed by 6-bit packing over the PlantUML
// alphabet. The function is deterministic and performs no I/O.
func Encode(description string) (string, error) {
	if err := Validate(description); err != nil {
		return "", err
	}

	var buf bytes.Buffer
	zw, err := flate.NewWriter(&buf, flate.BestCompression)
	if err != nil {
		return "", fmt.Errorf("init deflate: %w", err)
	}
	if _, err := zw.Write([]byte(description)); err != nil {
		return "", fmt.Errorf("deflate: %w", err)
	}
	if err := zw.Close(); err != nil {
		return "", fmt.Errorf("deflate close: %w", err)
	}

	return pack(buf.Bytes()), nil
}

// Decode reverses Encode. It exists so stored tokens can be audited
// against their source descriptions.
func Decode(token string) (string, error) {
	raw, err := unpack(token)
	if err != nil {
		return "", err
	}

	zr := flate.NewReader(bytes.NewReader(raw))
	defer zr.Close()

	out, err := io.ReadAll(zr)
	if err != nil {
		return "", fmt.Errorf("inflate: %w", err)
	}
	return string(out), nil
}

// URLFor composes the render URL for an encoded token. It is pure string
// composition; callers must only pass tokens produced by a successful Encode.
func URLFor(server string, token string, format Format) string {
	return strings.TrimRight(server, "/") + "/" + string(format) + "/" + token
}

func pack(data []byte) string {
	var sb strings.Builder
	sb.Grow((len(data)*4 + 2) / 3)

	for i := 0; i < len(data); i += 3 {
		var b1, b2, b3 byte
		b1 = data[i]
		if i+1 < len(data) {
			b2 = data[i+1]
		}
		if i+2 < len(data) {
			b3 = data[i+2]
		}

		sb.WriteByte(alphabet[b1>>2])
		sb.WriteByte(alphabet[((b1&0x3)<<4)|(b2>>4)])
		if i+1 < len(data) {
			sb.WriteByte(alphabet[((b2&0xF)<<2)|(b3>>6)])
		}
		if i+2 < len(data) {
			sb.WriteByte(alphabet[b3&0x3F])
		}
	}
	return sb.String()
}

func unpack(token string) ([]byte, error) {
	vals := make([]byte, 0, len(token))
	for i := 0; i < len(token); i++ {
		v := strings.IndexByte(alphabet, token[i])
		if v < 0 {
			return nil, fmt.Errorf("invalid token character %q at %d", token[i], i)
		}
		vals = append(vals, byte(v))
	}

	out := make([]byte, 0, len(vals)*3/4)
	for i := 0; i+1 < len(vals); i += 4 {
		out = append(out, vals[i]<<2|vals[i+1]>>4)
		if i+2 < len(vals) {
			out = append(out, vals[i+1]<<4|vals[i+2]>>2)
		}
		if i+3 < len(vals) {
			out = append(out, vals[i+2]<<6|vals[i+3])
		}
	}
	return out, nil
}
