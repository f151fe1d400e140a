// Package encoding holds the codecs shared by both storage backends:
// embedding vectors as raw little-endian float32 bytes (embedded backend),
// embedding vectors in the pgvector text form (server backend), and
// document metadata as JSON.
package encoding

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ErrInvalidVector is returned when vector data is invalid
var ErrInvalidVector = errors.New("invalid vector")

// EncodeVector converts a float32 slice to raw little-endian bytes.
// Each element occupies exactly 4 bytes; there is no length prefix, so the
// dimension is recovered from the byte count on decode.
func EncodeVector(vector []float32) ([]byte, error) {
	if vector == nil {
		return nil, ErrInvalidVector
	}

	buf := make([]byte, 4*len(vector))
	for i, val := range vector {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(val))
	}
	return buf, nil
}

// DecodeVector converts raw little-endian bytes back to a float32 slice.
func DecodeVector(data []byte) ([]float32, error) {
	if len(data)%4 != 0 {
		return nil, ErrInvalidVector
	}

	vector := make([]float32, len(data)/4)
	for i := range vector {
		vector[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[4*i:]))
	}
	return vector, nil
}

// EncodeVectorText renders a vector in the text form understood by the
// server-side vector extension: "[v1,v2,...,vn]" with 8 decimal places.
func EncodeVectorText(vector []float32) (string, error) {
	if vector == nil {
		return "", ErrInvalidVector
	}

	var sb strings.Builder
	sb.WriteByte('[')
	for i, val := range vector {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(strconv.FormatFloat(float64(val), 'f', 8, 64))
	}
	sb.WriteByte(']')
	return sb.String(), nil
}

// EncodeMetadata encodes a metadata map to JSON. A nil map stays nil so the
// column remains NULL rather than becoming "{}".
func EncodeMetadata(metadata map[string]any) ([]byte, error) {
	if metadata == nil {
		return nil, nil
	}

	data, err := json.Marshal(metadata)
	if err != nil {
		return nil, fmt.Errorf("failed to encode metadata: %w", err)
	}
	return data, nil
}

// DecodeMetadata decodes a JSON metadata column. Empty input yields nil.
func DecodeMetadata(data []byte) (map[string]any, error) {
	if len(data) == 0 {
		return nil, nil
	}

	var metadata map[string]any
	if err := json.Unmarshal(data, &metadata); err != nil {
		return nil, fmt.Errorf("failed to decode metadata: %w", err)
	}
	return metadata, nil
}

// ValidateVector rejects nil, empty, NaN and infinite vectors.
func ValidateVector(vector []float32) error {
	if len(vector) == 0 {
		return ErrInvalidVector
	}

	for _, val := range vector {
		if val != val { // NaN check
			return ErrInvalidVector
		}
		if math.IsInf(float64(val), 0) {
			return ErrInvalidVector
		}
	}
	return nil
}
