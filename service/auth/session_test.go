package auth

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/brojonat/revolut-feed/service/revolut"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockExchanger struct {
	mock.Mock
}

func (m *mockExchanger) ExchangeAuthCode(ctx context.Context, code string) (*revolut.AccessToken, error) {
	args := m.Called(ctx, code)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*revolut.AccessToken), args.Error(1)
}

func (m *mockExchanger) RefreshToken(ctx context.Context, refreshToken string) (*revolut.AccessToken, error) {
	args := m.Called(ctx, refreshToken)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*revolut.AccessToken), args.Error(1)
}

var now = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func fixedCode(code string) CodeReader {
	return func(ctx context.Context) (string, error) { return code, nil }
}

func newTestSession(t *testing.T, ex Exchanger, readCode CodeReader) (*Session, *FileStore) {
	t.Helper()
	store := NewFileStore(filepath.Join(t.TempDir(), "tokens", "access-token.json"))
	s := NewSession(ex, store, readCode, nil)
	s.now = func() time.Time { return now }
	return s, store
}

func TestFileStore_RoundTrip(t *testing.T) {
	store := NewFileStore(filepath.Join(t.TempDir(), "token.json"))

	token, err := store.Load()
	require.NoError(t, err)
	assert.Nil(t, token)

	want := &revolut.AccessToken{AccessToken: "a", TokenType: "bearer", ExpiresIn: 60, RefreshToken: "r", ExpiresAt: now}
	require.NoError(t, store.Save(want))

	info, err := os.Stat(store.Path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	got, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, want.AccessToken, got.AccessToken)
	assert.Equal(t, want.RefreshToken, got.RefreshToken)
	assert.True(t, want.ExpiresAt.Equal(got.ExpiresAt))
}

func TestFileStore_CorruptFileIsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

	token, err := NewFileStore(path).Load()
	require.NoError(t, err)
	assert.Nil(t, token)
}

func TestPromptCode(t *testing.T) {
	var out bytes.Buffer
	read := PromptCode(strings.NewReader("  abc123 \n"), &out)

	code, err := read(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "abc123", code)
	assert.Equal(t, "Enter Access Code: ", out.String())

	code, err = PromptCode(strings.NewReader("no-newline"), &out)(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "no-newline", code)

	_, err = PromptCode(strings.NewReader(""), &out)(context.Background())
	assert.Error(t, err)
}

func TestSession_LoginWhenNoToken(t *testing.T) {
	ex := new(mockExchanger)
	token := &revolut.AccessToken{AccessToken: "new", RefreshToken: "r", ExpiresAt: now.Add(time.Hour)}
	ex.On("ExchangeAuthCode", mock.Anything, "code-1").Return(token, nil).Once()

	s, store := newTestSession(t, ex, fixedCode("code-1"))

	got, err := s.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "new", got.AccessToken)

	// Cached afterwards.
	got, err = s.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "new", got.AccessToken)

	stored, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, "new", stored.AccessToken)
	ex.AssertExpectations(t)
}

func TestSession_UsesStoredToken(t *testing.T) {
	ex := new(mockExchanger)
	s, store := newTestSession(t, ex, nil)
	require.NoError(t, store.Save(&revolut.AccessToken{AccessToken: "stored", ExpiresAt: now.Add(time.Hour)}))

	got, err := s.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "stored", got.AccessToken)
	ex.AssertNotCalled(t, "ExchangeAuthCode", mock.Anything, mock.Anything)
	ex.AssertNotCalled(t, "RefreshToken", mock.Anything, mock.Anything)
}

func TestSession_RefreshesExpiredToken(t *testing.T) {
	ex := new(mockExchanger)
	ex.On("RefreshToken", mock.Anything, "refresh-1").
		Return(&revolut.AccessToken{AccessToken: "refreshed", RefreshToken: "refresh-1", ExpiresAt: now.Add(time.Hour)}, nil).Once()

	s, store := newTestSession(t, ex, nil)
	require.NoError(t, store.Save(&revolut.AccessToken{AccessToken: "old", RefreshToken: "refresh-1", ExpiresAt: now.Add(-time.Minute)}))

	got, err := s.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "refreshed", got.AccessToken)

	stored, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, "refreshed", stored.AccessToken)
	ex.AssertExpectations(t)
}

func TestSession_RefreshFailureFallsBackToLogin(t *testing.T) {
	ex := new(mockExchanger)
	ex.On("RefreshToken", mock.Anything, "refresh-1").Return(nil, errors.New("invalid_grant")).Once()
	ex.On("ExchangeAuthCode", mock.Anything, "code-2").
		Return(&revolut.AccessToken{AccessToken: "relogged", ExpiresAt: now.Add(time.Hour)}, nil).Once()

	s, store := newTestSession(t, ex, fixedCode("code-2"))
	require.NoError(t, store.Save(&revolut.AccessToken{AccessToken: "old", RefreshToken: "refresh-1", ExpiresAt: now.Add(-time.Minute)}))

	got, err := s.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "relogged", got.AccessToken)
	ex.AssertExpectations(t)
}

func TestSession_NonInteractiveRequiresLogin(t *testing.T) {
	s, _ := newTestSession(t, new(mockExchanger), nil)

	_, err := s.Token(context.Background())
	assert.ErrorIs(t, err, ErrLoginRequired)
}

func TestSession_LoginExchangeError(t *testing.T) {
	ex := new(mockExchanger)
	ex.On("ExchangeAuthCode", mock.Anything, "bad").Return(nil, errors.New("invalid code")).Once()
	s, store := newTestSession(t, ex, fixedCode("bad"))

	_, err := s.Login(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid code")

	stored, err := store.Load()
	require.NoError(t, err)
	assert.Nil(t, stored)
}

func TestSession_Status(t *testing.T) {
	s, store := newTestSession(t, new(mockExchanger), nil)

	token, valid, err := s.Status()
	require.NoError(t, err)
	assert.Nil(t, token)
	assert.False(t, valid)

	require.NoError(t, store.Save(&revolut.AccessToken{AccessToken: "a", ExpiresAt: now.Add(time.Hour)}))
	token, valid, err = s.Status()
	require.NoError(t, err)
	assert.Equal(t, "a", token.AccessToken)
	assert.True(t, valid)
}
