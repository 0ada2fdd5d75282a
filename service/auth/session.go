package auth

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/brojonat/revolut-feed/service/revolut"
)

// ErrLoginRequired means no usable token exists and no prompt is available.
var ErrLoginRequired = errors.New("login required: run `revolut-feed auth login`")

// Exchanger trades codes and refresh tokens for access tokens.
// *revolut.Client implements it.
type Exchanger interface {
	ExchangeAuthCode(ctx context.Context, code string) (*revolut.AccessToken, error)
	RefreshToken(ctx context.Context, refreshToken string) (*revolut.AccessToken, error)
}

// CodeReader asks the user for an authorization code.
type CodeReader func(ctx context.Context) (string, error)

// PromptCode returns a CodeReader that prints a prompt to w and reads one
// line from r.
func PromptCode(r io.Reader, w io.Writer) CodeReader {
	reader := bufio.NewReader(r)
	return func(ctx context.Context) (string, error) {
		if _, err := fmt.Fprint(w, "Enter Access Code: "); err != nil {
			return "", err
		}
		line, err := reader.ReadString('\n')
		if err != nil && !(errors.Is(err, io.EOF) && line != "") {
			return "", fmt.Errorf("failed to read access code: %w", err)
		}
		code := strings.TrimSpace(line)
		if code == "" {
			return "", fmt.Errorf("empty access code")
		}
		return code, nil
	}
}

// Session hands out a valid access token, loading it from the store,
// refreshing it when it expires and prompting for a code when nothing
// usable is stored. It implements revolut.TokenSource.
type Session struct {
	exchanger Exchanger
	store     TokenStore
	readCode  CodeReader
	logger    *slog.Logger
	now       func() time.Time

	mu    sync.Mutex
	token *revolut.AccessToken
}

// NewSession creates a session. readCode may be nil for non-interactive
// callers such as the worker; they get ErrLoginRequired instead of a prompt.
func NewSession(exchanger Exchanger, store TokenStore, readCode CodeReader, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return &Session{
		exchanger: exchanger,
		store:     store,
		readCode:  readCode,
		logger:    logger,
		now:       time.Now,
	}
}

// Login always prompts for a new code and stores the resulting token.
func (s *Session) Login(ctx context.Context) (*revolut.AccessToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.login(ctx)
}

// Token returns a valid access token.
func (s *Session) Token(ctx context.Context) (*revolut.AccessToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.token == nil {
		stored, err := s.store.Load()
		if err != nil {
			return nil, err
		}
		s.token = stored
	}

	if s.token != nil && !s.token.Expired(s.now()) {
		return s.token, nil
	}

	if s.token != nil && s.token.RefreshToken != "" {
		refreshed, err := s.exchanger.RefreshToken(ctx, s.token.RefreshToken)
		if err == nil {
			s.logger.InfoContext(ctx, "refreshed access token", "expires_at", refreshed.ExpiresAt)
			return s.keep(refreshed)
		}
		s.logger.WarnContext(ctx, "failed to refresh access token", "error", err)
	}

	return s.login(ctx)
}

// Status describes the stored token without contacting the API.
func (s *Session) Status() (*revolut.AccessToken, bool, error) {
	token, err := s.store.Load()
	if err != nil || token == nil {
		return nil, false, err
	}
	return token, !token.Expired(s.now()), nil
}

func (s *Session) login(ctx context.Context) (*revolut.AccessToken, error) {
	if s.readCode == nil {
		return nil, ErrLoginRequired
	}
	code, err := s.readCode(ctx)
	if err != nil {
		return nil, err
	}
	token, err := s.exchanger.ExchangeAuthCode(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("failed to exchange access code: %w", err)
	}
	s.logger.InfoContext(ctx, "logged in", "expires_at", token.ExpiresAt)
	return s.keep(token)
}

func (s *Session) keep(token *revolut.AccessToken) (*revolut.AccessToken, error) {
	if err := s.store.Save(token); err != nil {
		return nil, err
	}
	s.token = token
	return token, nil
}
