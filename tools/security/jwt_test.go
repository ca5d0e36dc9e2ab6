package security

import (
	"errors"
	"testing"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testSecret = []byte("unit-test-secret")

func newTestVerifier(t *testing.T) *Verifier {
	t.Helper()
	v, err := NewVerifier(DefaultOptions(testSecret))
	require.NoError(t, err)
	return v
}

func sign(t *testing.T, claims jwtlib.MapClaims, secret []byte) string {
	t.Helper()
	tok, err := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims).SignedString(secret)
	require.NoError(t, err)
	return tok
}

func TestVerifyValidToken(t *testing.T) {
	v := newTestVerifier(t)
	tok, exp, err := Generate(DefaultOptions(testSecret), "u1", []string{"read"})
	require.NoError(t, err)

	id, err := v.Verify(tok)
	require.NoError(t, err)
	assert.Equal(t, "u1", id.UserID)
	assert.Equal(t, []string{"read"}, id.Scopes)
	assert.Equal(t, exp.Unix(), id.ExpiresAt.Unix())
}

func TestVerifyAcceptsBearerPrefix(t *testing.T) {
	v := newTestVerifier(t)
	tok, _, err := Generate(DefaultOptions(testSecret), "u1", nil)
	require.NoError(t, err)

	id, err := v.Verify("Bearer " + tok)
	require.NoError(t, err)
	assert.Equal(t, "u1", id.UserID)

	id, err = v.Verify("  bearer " + tok)
	require.NoError(t, err)
	assert.Equal(t, "u1", id.UserID)
}

func TestVerifyMalformed(t *testing.T) {
	v := newTestVerifier(t)
	for _, raw := range []string{"", "not-a-jwt", "Bearer not-a-jwt", "a.b.c"} {
		_, err := v.Verify(raw)
		assert.ErrorIs(t, err, ErrMalformed, raw)
		assert.Equal(t, ReasonMalformed, ReasonOf(err), raw)
	}
}

func TestVerifyExpired(t *testing.T) {
	v := newTestVerifier(t)
	tok := sign(t, jwtlib.MapClaims{
		"sub": "u1",
		"exp": time.Now().Add(-time.Minute).Unix(),
	}, testSecret)

	_, err := v.Verify(tok)
	assert.ErrorIs(t, err, ErrExpired)
	assert.NotErrorIs(t, err, ErrMalformed)
}

func TestVerifyNotYetValid(t *testing.T) {
	v := newTestVerifier(t)
	tok := sign(t, jwtlib.MapClaims{
		"sub": "u1",
		"nbf": time.Now().Add(time.Hour).Unix(),
		"exp": time.Now().Add(2 * time.Hour).Unix(),
	}, testSecret)

	_, err := v.Verify(tok)
	assert.ErrorIs(t, err, ErrNotYetValid)
}

func TestVerifyBadSignature(t *testing.T) {
	v := newTestVerifier(t)
	tok := sign(t, jwtlib.MapClaims{
		"sub": "u1",
		"exp": time.Now().Add(time.Hour).Unix(),
	}, []byte("another-secret"))

	_, err := v.Verify(tok)
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestVerifyRejectsNoneAndForeignAlg(t *testing.T) {
	v := newTestVerifier(t)
	tok, err := jwtlib.NewWithClaims(jwtlib.SigningMethodNone, jwtlib.MapClaims{"sub": "u1"}).
		SignedString(jwtlib.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = v.Verify(tok)
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestVerifyMissingSubject(t *testing.T) {
	v := newTestVerifier(t)
	tok, _, err := Generate(DefaultOptions(testSecret), "", nil)
	require.NoError(t, err)

	_, err = v.Verify(tok)
	assert.ErrorIs(t, err, ErrMissingSubject)
	assert.NotErrorIs(t, err, ErrInvalid)
}

func TestVerifyUserIDClaimFallback(t *testing.T) {
	v := newTestVerifier(t)
	tok := sign(t, jwtlib.MapClaims{
		"userId": "legacy-42",
		"exp":    time.Now().Add(time.Hour).Unix(),
	}, testSecret)

	id, err := v.Verify(tok)
	require.NoError(t, err)
	assert.Equal(t, "legacy-42", id.UserID)
}

func TestVerifyIssuer(t *testing.T) {
	opts := DefaultOptions(testSecret)
	opts.Issuer = "auth.example"
	v, err := NewVerifier(opts)
	require.NoError(t, err)

	good, _, err := Generate(opts, "u1", nil)
	require.NoError(t, err)
	_, err = v.Verify(good)
	require.NoError(t, err)

	bad, _, err := Generate(DefaultOptions(testSecret), "u1", nil)
	require.NoError(t, err)
	_, err = v.Verify(bad)
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestNewVerifierRequiresSecret(t *testing.T) {
	_, err := NewVerifier(Options{})
	assert.Error(t, err)

	_, err = NewVerifier(Options{Secret: testSecret, Alg: "RS256"})
	assert.Error(t, err)
}

func TestTokenErrorMatching(t *testing.T) {
	err := &TokenError{Reason: ReasonExpired, Err: errors.New("boom")}
	assert.True(t, errors.Is(err, ErrExpired))
	assert.False(t, errors.Is(err, ErrInvalid))
	assert.Contains(t, err.Error(), "expired")
	assert.Equal(t, Reason(0), ReasonOf(errors.New("plain")))
}

func TestStripBearer(t *testing.T) {
	assert.Equal(t, "abc", StripBearer("Bearer abc"))
	assert.Equal(t, "abc", StripBearer("BEARER   abc "))
	assert.Equal(t, "abc", StripBearer("abc"))
	assert.Equal(t, "Bearerabc", StripBearer("Bearerabc"))
	assert.Equal(t, "", StripBearer("Bearer "))
}
