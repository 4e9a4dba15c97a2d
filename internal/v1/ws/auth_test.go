package ws

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/chorus-party/matchmaking/internal/v1/auth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeValidator struct {
	subject string
	err     error
}

func (f *fakeValidator) ValidateToken(string) (*auth.CustomClaims, error) {
	if f.err != nil {
		return nil, f.err
	}
	claims := &auth.CustomClaims{}
	claims.Subject = f.subject
	return claims, nil
}

func newTestHub(validator auth.TokenValidator, serverKey string, origins []string) *Hub {
	return &Hub{validator: validator, serverKey: serverKey, allowedOrigins: origins}
}

func TestAuthenticate_AdminWithCorrectServerKey(t *testing.T) {
	h := newTestHub(&fakeValidator{}, "super-secret", nil)
	r := httptest.NewRequest(http.MethodGet, "/ws?userId=server-admin&serverKey=super-secret", nil)

	id, err := h.authenticate(r)
	require.NoError(t, err)
	assert.True(t, id.isAdmin)
	assert.Equal(t, adminUserID, id.uid)
}

func TestAuthenticate_AdminWithWrongServerKeyRejected(t *testing.T) {
	h := newTestHub(&fakeValidator{}, "super-secret", nil)
	r := httptest.NewRequest(http.MethodGet, "/ws?userId=server-admin&serverKey=wrong", nil)

	_, err := h.authenticate(r)
	assert.Error(t, err)
}

func TestAuthenticate_SignedTokenValidated(t *testing.T) {
	h := newTestHub(&fakeValidator{subject: "alice"}, "super-secret", nil)
	r := httptest.NewRequest(http.MethodGet, "/ws?token=header.payload.signature", nil)

	id, err := h.authenticate(r)
	require.NoError(t, err)
	assert.Equal(t, "alice", id.uid)
	assert.False(t, id.isAdmin)
}

func TestAuthenticate_InvalidSignedTokenRejected(t *testing.T) {
	h := newTestHub(&fakeValidator{err: assertError{}}, "super-secret", nil)
	r := httptest.NewRequest(http.MethodGet, "/ws?token=header.payload.signature", nil)

	_, err := h.authenticate(r)
	assert.Error(t, err)
}

func TestAuthenticate_RawCredentialTreatedAsGuestUID(t *testing.T) {
	h := newTestHub(&fakeValidator{}, "super-secret", nil)
	r := httptest.NewRequest(http.MethodGet, "/ws?token=guest_12345", nil)

	id, err := h.authenticate(r)
	require.NoError(t, err)
	assert.Equal(t, "guest_12345", id.uid)
}

func TestAuthenticate_NoCredentialRejected(t *testing.T) {
	h := newTestHub(&fakeValidator{}, "super-secret", nil)
	r := httptest.NewRequest(http.MethodGet, "/ws", nil)

	_, err := h.authenticate(r)
	assert.Error(t, err)
}

func TestLooksLikeSignedToken(t *testing.T) {
	assert.True(t, looksLikeSignedToken("a.b.c"))
	assert.False(t, looksLikeSignedToken("guest_12345"))
	assert.False(t, looksLikeSignedToken("a.b"))
}

func TestValidateOrigin_NoOriginHeaderAllowed(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/ws", nil)
	assert.NoError(t, validateOrigin(r, []string{"https://example.com"}))
}

func TestValidateOrigin_MatchingSchemeAndHostAllowed(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/ws", nil)
	r.Header.Set("Origin", "https://example.com")
	assert.NoError(t, validateOrigin(r, []string{"https://example.com"}))
}

func TestValidateOrigin_MismatchedHostRejected(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/ws", nil)
	r.Header.Set("Origin", "https://evil.example")
	assert.Error(t, validateOrigin(r, []string{"https://example.com"}))
}

type assertError struct{}

func (assertError) Error() string { return "assert error" }
