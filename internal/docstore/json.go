package docstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
)

// ReadJSON reads a document and decodes it into T.
//
// Absent documents return ErrNotFound. Decoding failures are returned as
// plain errors (not store failures) so callers can tell a broken document
// from a broken store.
func ReadJSON[T any](ctx context.Context, s Store, name string, folder FolderRef) (T, error) {
	var v T
	data, err := s.ReadFile(ctx, name, folder)
	if err != nil {
		return v, err
	}
	if err := json.Unmarshal(data, &v); err != nil {
		return v, fmt.Errorf("failed to parse %s: %w", name, err)
	}
	return v, nil
}

// WriteJSON encodes v with two-space indentation and writes it as name.
// HTML characters are not escaped so documents stay readable.
func WriteJSON(ctx context.Context, s Store, v any, name string, folder FolderRef) error {
	data, err := Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", name, err)
	}
	return s.WriteFile(ctx, name, folder, data)
}

// Marshal is the document encoding used by WriteJSON.
func Marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
