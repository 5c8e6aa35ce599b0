package handler

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"
)

// cursor is the opaque pagination token for GET /runs: a base64-encoded
// JSON object naming the last row of the previous page. It is purely an
// HTTP-layer convenience; the underlying Storage.GetRuns call still takes
// the simple {status, jobName, limit, offset} filter.
type cursor struct {
	CreatedAt time.Time `json:"createdAt"`
	ID        string    `json:"id"`
}

func encodeCursor(c cursor) (string, error) {
	raw, err := json.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("encode cursor: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

func decodeCursor(s string) (cursor, error) {
	var c cursor
	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return c, fmt.Errorf("decode cursor: %w", err)
	}
	if err := json.Unmarshal(raw, &c); err != nil {
		return c, fmt.Errorf("decode cursor: %w", err)
	}
	return c, nil
}
