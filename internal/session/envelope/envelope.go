// Package envelope wraps session records for storage: sensitive fields are obfuscated,
// structural fields stay readable and a marker distinguishes wrapped records from legacy
// plaintext ones.
package envelope

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/and161185/agromarket/internal/crypto/obfuscate"
	"github.com/and161185/agromarket/internal/errs"
)

// Marker is the field set to true on wrapped records.
const Marker = "_encrypted"

// SensitiveFields are the only fields ever obfuscated.
var SensitiveFields = []string{"userId", "token", "email", "phone"}

// Fields is a session record as a generic JSON object.
type Fields map[string]any

// Codec applies the obfuscation codec to the sensitive fields of a record.
type Codec struct {
	obf *obfuscate.Codec
}

// New constructs an envelope codec on top of obf.
func New(obf *obfuscate.Codec) *Codec {
	return &Codec{obf: obf}
}

// Wrap returns a copy of rec with every non-empty sensitive string obfuscated and the
// marker set. rec is not modified.
func (c *Codec) Wrap(rec Fields) Fields {
	out := make(Fields, len(rec)+1)
	for k, v := range rec {
		out[k] = v
	}
	for _, f := range SensitiveFields {
		if s, ok := out[f].(string); ok && s != "" {
			out[f] = c.obf.EncodeString(s)
		}
	}
	out[Marker] = true
	return out
}

// Unwrap reverses Wrap. Records without a true marker are returned as is. A field that
// fails to decode keeps its raw value and will fail validity checks downstream.
func (c *Codec) Unwrap(env Fields) Fields {
	if marked, _ := env[Marker].(bool); !marked {
		return env
	}
	out := make(Fields, len(env))
	for k, v := range env {
		if k == Marker {
			continue
		}
		out[k] = v
	}
	for _, f := range SensitiveFields {
		if s, ok := out[f].(string); ok && s != "" {
			out[f] = c.obf.DecodeString(s)
		}
	}
	return out
}

// Marshal wraps a model struct and returns the JSON text to store.
func (c *Codec) Marshal(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var rec Fields
	if err := decodeObject(raw, &rec); err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, fmt.Errorf("envelope: %T is not a JSON object", v)
	}
	return json.Marshal(c.Wrap(rec))
}

// Unmarshal parses stored JSON text, unwraps it and fills v.
// It returns errs.ErrNotFound for the JSON literal null and errs.ErrCorrupt for anything
// that is not a JSON object of the expected shape.
func (c *Codec) Unmarshal(data []byte, v any) error {
	var env Fields
	if err := decodeObject(data, &env); err != nil {
		return fmt.Errorf("envelope: %w: %v", errs.ErrCorrupt, err)
	}
	if env == nil {
		return errs.ErrNotFound
	}
	raw, err := json.Marshal(c.Unwrap(env))
	if err != nil {
		return fmt.Errorf("envelope: %w: %v", errs.ErrCorrupt, err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("envelope: %w: %v", errs.ErrCorrupt, err)
	}
	return nil
}

// decodeObject keeps numbers as json.Number so epoch millis survive the map round trip.
func decodeObject(data []byte, out *Fields) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(out); err != nil {
		return err
	}
	if dec.More() {
		return fmt.Errorf("trailing data after JSON value")
	}
	return nil
}
