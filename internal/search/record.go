package search

import (
	"encoding/json"
	"fmt"
	"strconv"

	apperrors "github.com/Adithya-Monish-Kumar-K/prefix-search/pkg/errors"
)

// Record is one searchable movie.
type Record struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
	Year int    `json:"year"`
}

// Field returns the hash field the record is stored under.
func (r Record) Field() string {
	return member(r.ID)
}

func member(id int64) string {
	return strconv.FormatInt(id, 10)
}

func encodeRecord(r Record) ([]byte, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("marshaling record %d: %w", r.ID, err)
	}
	return data, nil
}

// decodeRecord parses the bytes stored under field. A record whose id does not
// match its field means the hash and the index disagree.
func decodeRecord(field string, data []byte) (*Record, error) {
	var r Record
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, apperrors.Malformed(field, err)
	}
	if member(r.ID) != field {
		return nil, apperrors.Malformed(field, fmt.Errorf("stored id %d", r.ID))
	}
	return &r, nil
}
