package session

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"

	"github.com/smarthomesven/duuxbridge/internal/cloudgarden"
)

type fakeCloud struct {
	tokenURL   string
	codeErr    error
	identity   cloudgarden.Identity
	identityOK bool

	gotChallenge string
	gotEmail     string
	gotToken     string
}

func (f *fakeCloud) TokenURL() string { return f.tokenURL }

func (f *fakeCloud) RequestLoginCode(_ context.Context, email, challenge, _ string) error {
	f.gotEmail = email
	f.gotChallenge = challenge
	return f.codeErr
}

func (f *fakeCloud) MeWithToken(_ context.Context, token string) (cloudgarden.Identity, error) {
	f.gotToken = token
	if !f.identityOK {
		return cloudgarden.Identity{}, errors.New("identity lookup failed")
	}
	return f.identity, nil
}

func newTestSession(t *testing.T) *Session {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "session.json"), nil, zerolog.Nop())
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	return s
}

func tokenServer(t *testing.T, body string, status int) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Fatalf("expected POST, got %s", r.Method)
		}
		_ = r.ParseForm()
		if r.PostForm.Get("code_verifier") == "" {
			t.Fatalf("exchange must carry the code verifier")
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}))
}

func TestVerifierNeverReused(t *testing.T) {
	s := newTestSession(t)
	cloud := &fakeCloud{}

	if err := s.BeginLogin(context.Background(), cloud, "a@b.c", "https://cb"); err != nil {
		t.Fatalf("BeginLogin: %v", err)
	}
	first := s.verifier
	firstChallenge := cloud.gotChallenge

	if err := s.BeginLogin(context.Background(), cloud, "a@b.c", "https://cb"); err != nil {
		t.Fatalf("BeginLogin: %v", err)
	}
	if s.verifier == "" || s.verifier == first {
		t.Fatalf("verifier must be regenerated per login attempt")
	}
	if cloud.gotChallenge == firstChallenge {
		t.Fatalf("challenge must change with the verifier")
	}
}

func TestCompleteLoginCommitsAtomically(t *testing.T) {
	server := tokenServer(t, `{"access_token":"tok-123","token_type":"Bearer","expires_in":3600}`, http.StatusOK)
	defer server.Close()

	statePath := filepath.Join(t.TempDir(), "session.json")
	s, err := New(statePath, nil, zerolog.Nop())
	if err != nil {
		t.Fatalf("new session: %v", err)
	}

	cloud := &fakeCloud{
		tokenURL:   server.URL,
		identity:   cloudgarden.Identity{ID: 9, Email: "a@b.c"},
		identityOK: true,
	}

	if err := s.BeginLogin(context.Background(), cloud, "a@b.c", "https://cb"); err != nil {
		t.Fatalf("BeginLogin: %v", err)
	}
	if err := s.CompleteLogin(context.Background(), cloud, "the-code"); err != nil {
		t.Fatalf("CompleteLogin: %v", err)
	}

	if cloud.gotToken != "tok-123" {
		t.Fatalf("identity fetched with wrong token: %s", cloud.gotToken)
	}
	token, err := s.AccessToken()
	if err != nil || token != "tok-123" {
		t.Fatalf("unexpected token: %q %v", token, err)
	}
	if s.Identity().Email != "a@b.c" {
		t.Fatalf("unexpected identity: %+v", s.Identity())
	}
	if s.verifier != "" || s.challenge != "" {
		t.Fatalf("transients must be cleared after exchange")
	}

	persisted, err := LoadState(statePath)
	if err != nil {
		t.Fatalf("load persisted state: %v", err)
	}
	if !persisted.LoggedIn || persisted.AccessToken != "tok-123" {
		t.Fatalf("token and logged-in flag must persist together: %+v", persisted)
	}
}

func TestCompleteLoginMissingTokenLeavesLoggedOut(t *testing.T) {
	server := tokenServer(t, `{"token_type":"Bearer"}`, http.StatusOK)
	defer server.Close()

	statePath := filepath.Join(t.TempDir(), "session.json")
	s, err := New(statePath, nil, zerolog.Nop())
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	cloud := &fakeCloud{tokenURL: server.URL, identityOK: true}

	if err := s.BeginLogin(context.Background(), cloud, "a@b.c", "https://cb"); err != nil {
		t.Fatalf("BeginLogin: %v", err)
	}
	if err := s.CompleteLogin(context.Background(), cloud, "the-code"); err == nil {
		t.Fatalf("expected failure for response without token")
	}
	if s.LoggedIn() {
		t.Fatalf("session must stay logged out")
	}
	if _, err := LoadState(statePath); !errors.Is(err, ErrStateNotFound) {
		t.Fatalf("no state may be persisted on failure, got %v", err)
	}
}

func TestCompleteLoginIdentityFailureIsAtomic(t *testing.T) {
	server := tokenServer(t, `{"access_token":"tok-123","token_type":"Bearer"}`, http.StatusOK)
	defer server.Close()

	s := newTestSession(t)
	cloud := &fakeCloud{tokenURL: server.URL, identityOK: false}

	if err := s.BeginLogin(context.Background(), cloud, "a@b.c", "https://cb"); err != nil {
		t.Fatalf("BeginLogin: %v", err)
	}
	if err := s.CompleteLogin(context.Background(), cloud, "the-code"); err == nil {
		t.Fatalf("expected failure when identity fetch fails")
	}
	if s.LoggedIn() {
		t.Fatalf("session must stay logged out")
	}
}

func TestCompleteLoginWithoutBegin(t *testing.T) {
	s := newTestSession(t)
	if err := s.CompleteLogin(context.Background(), &fakeCloud{}, "code"); !errors.Is(err, ErrNoLoginInFlight) {
		t.Fatalf("expected ErrNoLoginInFlight, got %v", err)
	}
}

func TestRestoreFromDisk(t *testing.T) {
	statePath := filepath.Join(t.TempDir(), "session.json")
	state := State{
		SchemaVersion: SchemaVersion,
		AccessToken:   "tok-restored",
		LoggedIn:      true,
		Identity:      Identity{Email: "a@b.c"},
	}
	if err := WriteState(statePath, state); err != nil {
		t.Fatalf("write state: %v", err)
	}

	s, err := New(statePath, nil, zerolog.Nop())
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	token, err := s.AccessToken()
	if err != nil || token != "tok-restored" {
		t.Fatalf("unexpected token after restore: %q %v", token, err)
	}
}

func TestAccessTokenWhenLoggedOut(t *testing.T) {
	s := newTestSession(t)
	if _, err := s.AccessToken(); !errors.Is(err, ErrNotLoggedIn) {
		t.Fatalf("expected ErrNotLoggedIn, got %v", err)
	}
}
