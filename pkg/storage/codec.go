package storage

import (
	"bytes"
	"encoding/gob"
	"encoding/json"
	"fmt"

	"github.com/cockroachdb/pebble"
)

func encodeGob(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeGob(b []byte, v any) error {
	return gob.NewDecoder(bytes.NewReader(b)).Decode(v)
}

// setJSON adds key -> json(v) to the batch
func setJSON(batch *pebble.Batch, key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	return batch.Set(key, data, nil)
}
