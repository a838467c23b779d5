package envelope

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/and161185/agromarket/internal/crypto/obfuscate"
	"github.com/and161185/agromarket/internal/errs"
	"github.com/and161185/agromarket/internal/model"
)

func newCodec(t *testing.T) (*Codec, *obfuscate.Codec) {
	t.Helper()
	obf, err := obfuscate.New(obfuscate.DefaultKey, obfuscate.WithLogger(zaptest.NewLogger(t)))
	require.NoError(t, err)
	return New(obf), obf
}

func fullRecord() Fields {
	return Fields{
		"userId":   "64f1c0ffee",
		"token":    "eyJhbGciOiJIUzI1NiJ9.e30.sig",
		"email":    "buyer@example.com",
		"phone":    "+91 98765 43210",
		"userType": "buyer",
		"expiry":   json.Number("1700000000000"),
	}
}

func TestWrap_ObfuscatesOnlySensitiveFields(t *testing.T) {
	t.Parallel()
	c, obf := newCodec(t)
	rec := fullRecord()

	env := c.Wrap(rec)

	require.Equal(t, true, env[Marker])
	require.Equal(t, "buyer", env["userType"])
	require.Equal(t, json.Number("1700000000000"), env["expiry"])
	for _, f := range SensitiveFields {
		require.Equal(t, obf.Encode(rec[f].(string)), env[f], "field %s", f)
	}
	_, marked := rec[Marker]
	require.False(t, marked, "input must not be mutated")
	require.Equal(t, "64f1c0ffee", rec["userId"])
}

func TestWrap_SkipsEmptyAndMissing(t *testing.T) {
	t.Parallel()
	c, _ := newCodec(t)

	env := c.Wrap(Fields{"userId": "u1", "email": "", "token": "t"})
	require.Equal(t, "", env["email"])
	_, hasPhone := env["phone"]
	require.False(t, hasPhone)
}

func TestUnwrap_LegacyUnchanged(t *testing.T) {
	t.Parallel()
	c, _ := newCodec(t)

	legacy := Fields{"userId": "u1", "token": "t", "userType": "farmer"}
	require.Equal(t, legacy, c.Unwrap(legacy))

	// marker present but not boolean true is still legacy
	odd := Fields{"userId": "u1", Marker: "true"}
	require.Equal(t, odd, c.Unwrap(odd))
}

func TestWrapUnwrap_Roundtrip(t *testing.T) {
	t.Parallel()
	c, _ := newCodec(t)
	rec := fullRecord()

	require.Equal(t, rec, c.Unwrap(c.Wrap(rec)))
}

func TestUnwrap_FieldDecodeFailureKeepsRaw(t *testing.T) {
	t.Parallel()
	c, obf := newCodec(t)

	env := Fields{
		Marker:   true,
		"userId": "###garbled###",
		"token":  obf.Encode("tok"),
	}
	out := c.Unwrap(env)
	require.Equal(t, "###garbled###", out["userId"])
	require.Equal(t, "tok", out["token"])
	_, marked := out[Marker]
	require.False(t, marked)
}

func TestMarshalUnmarshal_LiveSession(t *testing.T) {
	t.Parallel()
	c, _ := newCodec(t)

	in := model.LiveSession{
		UserID:   "b-1",
		Token:    "tok-1",
		Email:    "b@example.com",
		UserType: model.RoleBuyer,
		Expiry:   1_700_000_060_000,
	}
	data, err := c.Marshal(in)
	require.NoError(t, err)
	require.NotContains(t, string(data), "tok-1")
	require.Contains(t, string(data), `"_encrypted":true`)
	require.Contains(t, string(data), `"expiry":1700000060000`)

	var out model.LiveSession
	require.NoError(t, c.Unmarshal(data, &out))
	require.Equal(t, in, out)
}

func TestUnmarshal_LegacyPlaintext(t *testing.T) {
	t.Parallel()
	c, _ := newCodec(t)

	var out model.LiveSession
	err := c.Unmarshal([]byte(`{"userId":"f-1","token":"t","userType":"farmer","expiry":42}`), &out)
	require.NoError(t, err)
	require.Equal(t, model.LiveSession{UserID: "f-1", Token: "t", UserType: model.RoleFarmer, Expiry: 42}, out)
}

func TestUnmarshal_CorruptAndNull(t *testing.T) {
	t.Parallel()
	c, _ := newCodec(t)
	var out model.LiveSession

	for _, in := range []string{"", "not json at all", "[1,2,3]", `"str"`, `{"userId":1}`, `{} {}`} {
		require.ErrorIs(t, c.Unmarshal([]byte(in), &out), errs.ErrCorrupt, "input %q", in)
	}
	require.ErrorIs(t, c.Unmarshal([]byte("null"), &out), errs.ErrNotFound)
}

func TestMarshal_RejectsNonObject(t *testing.T) {
	t.Parallel()
	c, _ := newCodec(t)

	_, err := c.Marshal([]string{"a"})
	require.Error(t, err)
	_, err = c.Marshal(nil)
	require.Error(t, err)
}
