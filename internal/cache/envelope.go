package cache

import (
	"encoding/json"
	"fmt"
	"time"
)

// envelope is the stored form of an entry. Uncompressed values are kept as
// raw JSON so entries stay readable in redis-cli.
type envelope struct {
	Value      json.RawMessage `json:"value,omitempty"`
	Data       []byte          `json:"data,omitempty"`
	Compressed bool            `json:"compressed,omitempty"`
	Size       int             `json:"size"`
	Tags       []string        `json:"tags,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
	ExpiresAt  *time.Time      `json:"expires_at,omitempty"`
}

func (e *envelope) expired(now time.Time) bool {
	return e.ExpiresAt != nil && now.After(*e.ExpiresAt)
}

func (e *envelope) payload() ([]byte, error) {
	if !e.Compressed {
		return e.Value, nil
	}
	return decompress(e.Data)
}

func (e *envelope) hasAnyTag(tags map[string]struct{}) bool {
	for _, t := range e.Tags {
		if _, ok := tags[t]; ok {
			return true
		}
	}
	return false
}

func decodeEnvelope(data []byte) (*envelope, error) {
	var e envelope
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptEntry, err)
	}
	return &e, nil
}
