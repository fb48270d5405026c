package session

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/giantswarm/oauth-trust/dpop"
	"github.com/giantswarm/oauth-trust/security"
)

var testNow = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

func newTestSession(t *testing.T, withKey bool) *Session {
	t.Helper()
	s := &Session{
		ID:      NewID(),
		Subject: "user-1",
		Token: &oauth2.Token{
			AccessToken:  "access-1",
			RefreshToken: "refresh-1",
			TokenType:    "Bearer",
			Expiry:       testNow.Add(5 * time.Minute),
		},
		CreatedAt: testNow,
		ExpiresAt: testNow.Add(time.Hour),
	}
	if withKey {
		key, err := dpop.GenerateKey()
		require.NoError(t, err)
		s.DPoPKey = key
	}
	return s
}

func TestMemoryStore_SaveGetDelete(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	store.SetClock(func() time.Time { return testNow })

	sess := newTestSession(t, false)
	require.NoError(t, store.Save(ctx, sess))
	assert.Equal(t, 1, store.Count())

	got, err := store.Get(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, "user-1", got.Subject)
	assert.Equal(t, "access-1", got.Token.AccessToken)

	got.Token.AccessToken = "mutated"
	again, err := store.Get(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, "access-1", again.Token.AccessToken)

	require.NoError(t, store.Delete(ctx, sess.ID))
	_, err = store.Get(ctx, sess.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	assert.NoError(t, store.Delete(ctx, "missing"))
}

func TestMemoryStore_Expiry(t *testing.T) {
	ctx := context.Background()
	now := testNow
	store := NewMemoryStore()
	store.SetClock(func() time.Time { return now })

	sess := newTestSession(t, false)
	require.NoError(t, store.Save(ctx, sess))

	now = testNow.Add(2 * time.Hour)
	_, err := store.Get(ctx, sess.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	assert.Error(t, store.Save(ctx, sess), "expired sessions cannot be saved")
}

func TestMemoryStore_RejectsInvalid(t *testing.T) {
	store := NewMemoryStore()
	assert.Error(t, store.Save(context.Background(), &Session{}))
	assert.Error(t, store.Save(context.Background(), nil))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := store.Get(ctx, "any")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRecord_SealedRoundTrip(t *testing.T) {
	key, err := security.GenerateKey()
	require.NoError(t, err)
	enc, err := security.NewEncryptor(key)
	require.NoError(t, err)

	sess := newTestSession(t, true)
	data, err := encodeRecord(sess, enc)
	require.NoError(t, err)

	assert.NotContains(t, string(data), "access-1")
	assert.NotContains(t, string(data), "refresh-1")

	got, err := decodeRecord(data, sess.ID, enc)
	require.NoError(t, err)
	assert.Equal(t, sess.Subject, got.Subject)
	assert.Equal(t, "access-1", got.Token.AccessToken)
	assert.Equal(t, "refresh-1", got.Token.RefreshToken)
	assert.True(t, sess.Token.Expiry.Equal(got.Token.Expiry))
	require.NotNil(t, got.DPoPKey)
	assert.Equal(t, sess.DPoPKey.Thumbprint(), got.DPoPKey.Thumbprint())

	_, err = decodeRecord(data, "another-session", enc)
	assert.ErrorIs(t, err, security.ErrDecryptionFailed)
}

func TestRecord_PlaintextWhenEncryptionDisabled(t *testing.T) {
	enc, err := security.NewEncryptor(nil)
	require.NoError(t, err)

	sess := newTestSession(t, false)
	data, err := encodeRecord(sess, enc)
	require.NoError(t, err)
	assert.Contains(t, string(data), "access-1")

	got, err := decodeRecord(data, sess.ID, enc)
	require.NoError(t, err)
	assert.Equal(t, "refresh-1", got.Token.RefreshToken)
	assert.Nil(t, got.DPoPKey)
}

func TestIDFromRequest(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	_, ok := IDFromRequest(r, DefaultCookieName)
	assert.False(t, ok)

	r.AddCookie(&http.Cookie{Name: DefaultCookieName, Value: "abc"})
	id, ok := IDFromRequest(r, DefaultCookieName)
	assert.True(t, ok)
	assert.Equal(t, "abc", id)
}

func TestExpireCookie(t *testing.T) {
	rec := httptest.NewRecorder()
	ExpireCookie(rec, DefaultCookieName)

	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, DefaultCookieName, cookies[0].Name)
	assert.Equal(t, -1, cookies[0].MaxAge)
}

func TestRedisStore(t *testing.T) {
	addr := os.Getenv("REDIS_TEST_ADDR")
	if addr == "" {
		t.Skip("REDIS_TEST_ADDR not set")
	}

	ctx := context.Background()
	key, err := security.GenerateKey()
	require.NoError(t, err)
	enc, err := security.NewEncryptor(key)
	require.NoError(t, err)

	store, err := NewRedisStore(ctx, RedisConfig{Addr: addr, Prefix: "bff-test:" + NewID()}, enc, nil)
	require.NoError(t, err)
	defer store.Close()

	sess := newTestSession(t, true)
	sess.CreatedAt = time.Now()
	sess.ExpiresAt = time.Now().Add(time.Minute)
	require.NoError(t, store.Save(ctx, sess))

	got, err := store.Get(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, "access-1", got.Token.AccessToken)
	assert.Equal(t, sess.DPoPKey.Thumbprint(), got.DPoPKey.Thumbprint())

	require.NoError(t, store.Delete(ctx, sess.ID))
	_, err = store.Get(ctx, sess.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}
