package bus

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"

	"github.com/klauspost/compress/flate"
)

// Compression wrapper keys. When compression fires, the message content
// is replaced by a wrapper object carrying the deflated original; all
// metadata (id, sender, recipient, kind, task id, timestamp) is left
// untouched and decompression is deferred until delivery.
const (
	compressedKey   = "_compressed"
	originalSizeKey = "_original_size"
	dataKey         = "_data"
)

// isCompressed reports whether content is a compression wrapper
func isCompressed(content map[string]interface{}) bool {
	v, ok := content[compressedKey]
	if !ok {
		return false
	}
	b, ok := v.(bool)
	return ok && b
}

// compressContent deflates content when its serialized form exceeds
// threshold bytes. Returns the original map untouched when below the
// threshold; a serialization or compression failure is returned as an
// error.
func compressContent(content map[string]interface{}, threshold int) (map[string]interface{}, error) {
	raw, err := json.Marshal(content)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize content: %w", err)
	}
	if len(raw) <= threshold {
		return content, nil
	}

	var buf bytes.Buffer
	w, err := flate.NewWriter(&buf, flate.DefaultCompression)
	if err != nil {
		return nil, fmt.Errorf("failed to create deflate writer: %w", err)
	}
	if _, err := w.Write(raw); err != nil {
		return nil, fmt.Errorf("failed to compress content: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("failed to finish compression: %w", err)
	}

	return map[string]interface{}{
		compressedKey:   true,
		originalSizeKey: len(raw),
		dataKey:         base64.StdEncoding.EncodeToString(buf.Bytes()),
	}, nil
}

// decompressContent reverses compressContent. Passing non-wrapped
// content returns it unchanged.
func decompressContent(content map[string]interface{}) (map[string]interface{}, error) {
	if !isCompressed(content) {
		return content, nil
	}

	encoded, ok := content[dataKey].(string)
	if !ok {
		return nil, fmt.Errorf("compression wrapper missing %s", dataKey)
	}
	packed, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("failed to decode compressed payload: %w", err)
	}

	r := flate.NewReader(bytes.NewReader(packed))
	defer r.Close()
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to inflate payload: %w", err)
	}

	var out map[string]interface{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("failed to deserialize inflated content: %w", err)
	}
	return out, nil
}
