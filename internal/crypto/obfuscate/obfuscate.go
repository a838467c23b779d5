// Package obfuscate implements the reversible rotating-XOR + base64 transform applied to
// session fields at rest.
//
// This is obfuscation against casual inspection, not encryption: the key ships with every
// client. Use clientcrypto when confidentiality is required.
package obfuscate

import (
	"encoding/base64"
	"fmt"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/and161185/agromarket/internal/errs"
	"github.com/and161185/agromarket/internal/metrics"
)

// DefaultKey is the built-in obfuscation key.
const DefaultKey = "AgroMarket#FarmToTable!SessionKey"

// DecodeError describes a ciphertext that could not be decoded.
type DecodeError struct {
	Len int // length of the rejected input
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("obfuscate: decode %d bytes: %v", e.Len, e.Err)
}

// Unwrap exposes both errs.ErrDecode and the underlying cause.
func (e *DecodeError) Unwrap() []error { return []error{errs.ErrDecode, e.Err} }

// Codec obfuscates strings with a fixed key. Safe for concurrent use.
type Codec struct {
	key []byte
	log *zap.Logger
	rec *metrics.Recorder
}

// Option configures a Codec.
type Option func(*Codec)

// WithLogger sets the logger used by the fail-open helpers.
func WithLogger(l *zap.Logger) Option {
	return func(c *Codec) {
		if l != nil {
			c.log = l
		}
	}
}

// WithRecorder counts fail-open fallbacks.
func WithRecorder(r *metrics.Recorder) Option {
	return func(c *Codec) { c.rec = r }
}

// New constructs a Codec for key.
func New(key string, opts ...Option) (*Codec, error) {
	if key == "" {
		return nil, errs.ErrEmptyKey
	}
	c := &Codec{key: []byte(key), log: zap.NewNop()}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// keyByte returns byte i%n of the key rotated left by i%n.
func (c *Codec) keyByte(i int) byte {
	n := len(c.key)
	shift := i % n
	return c.key[(shift+i%n)%n]
}

func (c *Codec) xor(in []byte) []byte {
	out := make([]byte, len(in))
	for i, b := range in {
		out[i] = b ^ c.keyByte(i)
	}
	return out
}

// Encode obfuscates plaintext. It cannot fail.
func (c *Codec) Encode(plaintext string) string {
	return base64.StdEncoding.EncodeToString(c.xor([]byte(plaintext)))
}

// Decode reverses Encode. The error wraps errs.ErrDecode.
func (c *Codec) Decode(ciphertext string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", &DecodeError{Len: len(ciphertext), Err: err}
	}
	out := c.xor(raw)
	if !utf8.Valid(out) {
		return "", &DecodeError{Len: len(ciphertext), Err: fmt.Errorf("result is not valid UTF-8")}
	}
	return string(out), nil
}

// EncodeString is the fail-open form of Encode.
func (c *Codec) EncodeString(plaintext string) string {
	return c.Encode(plaintext)
}

// DecodeString is the fail-open form of Decode: on failure it logs and returns the input.
func (c *Codec) DecodeString(ciphertext string) string {
	out, err := c.Decode(ciphertext)
	if err != nil {
		c.log.Warn("obfuscated value not decodable, keeping raw value", zap.Error(err))
		c.rec.CodecFailure("decode")
		return ciphertext
	}
	return out
}
