// Package canon computes stable, language-independent digests over
// (tool name, parameter map) pairs so that identical calls — regardless
// of key insertion order — produce identical turn identifiers.
package canon

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
)

// Hash returns the hex-encoded SHA-256 digest of tool + ":" + the
// canonical JSON encoding of params. Two params maps with the same
// key/value pairs, regardless of insertion order or depth, always
// produce the same digest.
func Hash(tool string, params map[string]any) string {
	sum := sha256.Sum256([]byte(tool + ":" + string(Canonicalize(params))))
	return hex.EncodeToString(sum[:])
}

// Canonicalize renders v as JSON with object keys sorted lexicographically
// at every depth, suitable for stable hashing across languages and
// encoders. Arrays preserve their original order.
func Canonicalize(v any) []byte {
	var buf []byte
	buf = appendCanonical(buf, v)
	return buf
}

func appendCanonical(buf []byte, v any) []byte {
	switch val := v.(type) {
	case nil:
		return append(buf, "null"...)
	case map[string]any:
		return appendObject(buf, val)
	case []any:
		return appendArray(buf, val)
	default:
		// Numbers, strings, bools, and any other JSON-marshalable scalar
		// round-trip through encoding/json, which already emits the
		// shortest lossless decimal form for float64 and escapes strings.
		encoded, err := json.Marshal(val)
		if err != nil {
			// Unreachable for values that originated from JSON decoding;
			// fall back to a quoted error marker rather than panicking.
			return append(buf, fmt.Sprintf("%q", fmt.Sprintf("<unmarshalable:%v>", err))...)
		}
		return append(buf, encoded...)
	}
}

func appendObject(buf []byte, m map[string]any) []byte {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	buf = append(buf, '{')
	for i, k := range keys {
		if i > 0 {
			buf = append(buf, ',')
		}
		keyJSON, _ := json.Marshal(k)
		buf = append(buf, keyJSON...)
		buf = append(buf, ':')
		buf = appendCanonical(buf, m[k])
	}
	buf = append(buf, '}')
	return buf
}

func appendArray(buf []byte, arr []any) []byte {
	buf = append(buf, '[')
	for i, elem := range arr {
		if i > 0 {
			buf = append(buf, ',')
		}
		buf = appendCanonical(buf, elem)
	}
	buf = append(buf, ']')
	return buf
}
