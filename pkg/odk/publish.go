package odk

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

var ErrMissingFormID = errors.New("publisher payload missing formId")

// PublishPayload is the body ODK Aggregate's JSON publisher POSTs for a batch
// of submissions of one form.
type PublishPayload struct {
	Token       string           `json:"token,omitempty"`
	Content     string           `json:"content,omitempty"`
	FormID      string           `json:"formId"`
	FormVersion string           `json:"formVersion,omitempty"`
	Data        []map[string]any `json:"data"`
}

func DecodePublishPayload(r io.Reader) (PublishPayload, error) {
	var p PublishPayload
	dec := json.NewDecoder(r)
	dec.UseNumber()
	if err := dec.Decode(&p); err != nil {
		return PublishPayload{}, fmt.Errorf("decoding publisher payload: %w", err)
	}
	if p.FormID == "" {
		return PublishPayload{}, ErrMissingFormID
	}
	return p, nil
}

// Documents wraps each published record under its form id so it has the same
// shape as a parsed XML submission.
func (p PublishPayload) Documents() []Document {
	out := make([]Document, 0, len(p.Data))
	for _, rec := range p.Data {
		out = append(out, Document{p.FormID: Document(rec)})
	}
	return out
}

// Raw re-encodes a single published record for the submission log.
func (p PublishPayload) Raw(i int) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	if err := enc.Encode(map[string]any{"formId": p.FormID, "data": p.Data[i]}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// ParseJSONRecord is the inverse of Raw.
func ParseJSONRecord(raw []byte) (Document, error) {
	var rec struct {
		FormID string         `json:"formId"`
		Data   map[string]any `json:"data"`
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&rec); err != nil {
		return nil, fmt.Errorf("decoding stored record: %w", err)
	}
	if rec.FormID == "" {
		return nil, ErrMissingFormID
	}
	return Document{rec.FormID: Document(rec.Data)}, nil
}
