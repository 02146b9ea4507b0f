package meta

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/tinoosan/bizledger/internal/errs"
)

// Metadata holds free-form string tags attached to a voucher by the calling
// system (source document ids, branch codes). It is stored as JSON with keys
// in sorted order so that audit snapshots are byte-stable.
type Metadata map[string]string

const (
	MaxPairs     = 20
	MaxKeyLen    = 64
	MaxValLen    = 256
	MaxTotalJSON = 4096
)

// Clone returns an independent copy; a nil receiver yields an empty map.
func (m Metadata) Clone() Metadata {
	out := make(Metadata, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// With returns a copy of m with k set to v.
func (m Metadata) With(k, v string) Metadata {
	out := m.Clone()
	out[k] = v
	return out
}

// Validate checks the size limits and reports violations as validation errors
// on the "metadata" field.
func (m Metadata) Validate() error {
	if len(m) > MaxPairs {
		return invalid(fmt.Sprintf("at most %d pairs", MaxPairs))
	}
	for k, v := range m {
		if k == "" || len(k) > MaxKeyLen {
			return invalid(fmt.Sprintf("key %q must be 1-%d bytes", k, MaxKeyLen))
		}
		if len(v) > MaxValLen {
			return invalid(fmt.Sprintf("value for %q exceeds %d bytes", k, MaxValLen))
		}
	}
	b, err := m.MarshalJSON()
	if err != nil {
		return err
	}
	if len(b) > MaxTotalJSON {
		return invalid(fmt.Sprintf("encoded size exceeds %d bytes", MaxTotalJSON))
	}
	return nil
}

func invalid(msg string) error {
	return errs.WithFields(errs.ErrInvalid, map[string]string{"metadata": msg})
}

// MarshalJSON writes keys in sorted order.
func (m Metadata) MarshalJSON() ([]byte, error) {
	if len(m) == 0 {
		return []byte("{}"), nil
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, _ := json.Marshal(k)
		vb, _ := json.Marshal(m[k])
		buf.Write(kb)
		buf.WriteByte(':')
		buf.Write(vb)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func (m *Metadata) UnmarshalJSON(b []byte) error {
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*m = Metadata{}
		return nil
	}
	var tmp map[string]string
	if err := json.Unmarshal(b, &tmp); err != nil {
		return err
	}
	*m = Metadata(tmp).Clone()
	return nil
}
