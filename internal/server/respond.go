package server

import (
	"bytes"
	"encoding/json"
	"net/http"

	"github.com/ianlrsn/livegate/internal/links"
)

// writeJSON externalizes a payload with the full cache-defeating header set.
// The gateway's own responses must never be cached by clients or CDNs; the
// whole point of the service is that freshness lives server-side.
func writeJSON(w http.ResponseWriter, status int, payload any) {
	header := w.Header()
	header.Set("Content-Type", "application/json; charset=utf-8")
	header.Set("Cache-Control", "no-store, no-cache, must-revalidate, max-age=0")
	header.Set("Pragma", "no-cache")
	header.Set("Expires", "0")
	header.Set("CDN-Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// orderedLinks marshals the link directory with keys in case-insensitive
// name order, which encoding/json's map handling (byte-wise key sort) would
// not preserve.
type orderedLinks map[string]string

func (l orderedLinks) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, name := range links.SortedNames(l) {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(name)
		if err != nil {
			return nil, err
		}
		value, err := json.Marshal(l[name])
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(value)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
