package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/oauth2"

	"github.com/smarthomesven/duuxbridge/internal/cloudgarden"
)

var (
	ErrNotLoggedIn     = errors.New("session: not logged in")
	ErrNoLoginInFlight = errors.New("session: no login in progress")
)

// Cloud is the slice of the cloud client the session needs: starting a
// passwordless login and resolving the account identity of a fresh token.
type Cloud interface {
	TokenURL() string
	RequestLoginCode(ctx context.Context, email, codeChallenge, redirectURI string) error
	MeWithToken(ctx context.Context, token string) (cloudgarden.Identity, error)
}

// Session holds the single process-wide login. All devices and the command
// channel read the token from here; only the login flow writes it.
//
// The PKCE verifier and challenge live only between BeginLogin and
// CompleteLogin and are cleared on every completion path, successful or
// not. A verifier is never reused across two challenge generations.
type Session struct {
	statePath  string
	blob       BlobStore
	httpClient *http.Client
	log        zerolog.Logger

	mu        sync.Mutex
	state     State
	verifier  string
	challenge string
	emailHint string
}

// New restores a session from the state file, falling back to the blob
// mirror. A missing state on both sides is a logged-out session, not an
// error.
func New(statePath string, blob BlobStore, log zerolog.Logger) (*Session, error) {
	if statePath == "" {
		return nil, fmt.Errorf("session: state path is required")
	}

	s := &Session{
		statePath:  statePath,
		blob:       blob,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		log:        log,
	}

	state, err := LoadState(statePath)
	switch {
	case err == nil:
		s.state = state
	case errors.Is(err, ErrStateNotFound):
		if blob == nil {
			break
		}
		data, blobErr := blob.Load(context.Background())
		if errors.Is(blobErr, ErrBlobNotFound) {
			break
		}
		if blobErr != nil {
			return nil, fmt.Errorf("session: load blob: %w", blobErr)
		}
		state, err = DecodeState(data)
		if err != nil {
			return nil, err
		}
		if err := WriteState(statePath, state); err != nil {
			return nil, err
		}
		s.state = state
	default:
		return nil, err
	}

	setLoggedInMetric(s.state.LoggedIn)
	return s, nil
}

// AccessToken implements cloudgarden.TokenProvider.
func (s *Session) AccessToken() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.state.LoggedIn || s.state.AccessToken == "" {
		return "", ErrNotLoggedIn
	}
	return s.state.AccessToken, nil
}

func (s *Session) LoggedIn() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.LoggedIn
}

func (s *Session) Identity() Identity {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Identity
}

// BeginLogin generates a fresh PKCE pair and asks the cloud to send the
// user an authorization code. Only the challenge goes over the wire.
// Pairing and repair both start here; they differ only in what the caller
// does after CompleteLogin.
func (s *Session) BeginLogin(ctx context.Context, cloud Cloud, email, redirectURI string) error {
	verifier := oauth2.GenerateVerifier()
	challenge := oauth2.S256ChallengeFromVerifier(verifier)

	if err := cloud.RequestLoginCode(ctx, email, challenge, redirectURI); err != nil {
		loginFailure.Inc()
		return err
	}

	s.mu.Lock()
	s.verifier = verifier
	s.challenge = challenge
	s.emailHint = email
	s.mu.Unlock()

	s.log.Info().Str("email", email).Msg("login code requested")
	return nil
}

// CompleteLogin exchanges the authorization code, resolves the account
// identity, and commits {token, identity, logged-in} in one step. Nothing
// is persisted on failure, and the transient PKCE state is cleared on
// every path.
func (s *Session) CompleteLogin(ctx context.Context, cloud Cloud, code string) error {
	s.mu.Lock()
	verifier := s.verifier
	s.mu.Unlock()

	defer s.clearTransients()

	if verifier == "" {
		return ErrNoLoginInFlight
	}
	if code == "" {
		return fmt.Errorf("session: authorization code is required")
	}

	cfg := &oauth2.Config{
		ClientID: cloudgarden.ClientID,
		Endpoint: oauth2.Endpoint{TokenURL: cloud.TokenURL()},
	}
	ctx = context.WithValue(ctx, oauth2.HTTPClient, s.httpClient)

	token, err := cfg.Exchange(ctx, code, oauth2.VerifierOption(verifier))
	if err != nil {
		loginFailure.Inc()
		var retrieveErr *oauth2.RetrieveError
		if errors.As(err, &retrieveErr) {
			return fmt.Errorf("session: code exchange failed %d: %s",
				retrieveErr.Response.StatusCode, string(retrieveErr.Body))
		}
		return fmt.Errorf("session: code exchange: %w", err)
	}
	if token.AccessToken == "" {
		loginFailure.Inc()
		return fmt.Errorf("session: token response missing access token")
	}

	identity, err := cloud.MeWithToken(ctx, token.AccessToken)
	if err != nil {
		loginFailure.Inc()
		return fmt.Errorf("session: fetch identity: %w", err)
	}

	state := State{
		SchemaVersion: SchemaVersion,
		AccessToken:   token.AccessToken,
		LoggedIn:      true,
		Identity:      Identity{ID: identity.ID, Email: identity.Email, Name: identity.Name},
	}
	if err := s.commit(ctx, state); err != nil {
		loginFailure.Inc()
		return err
	}

	loginSuccess.Inc()
	s.log.Info().Str("email", identity.Email).Msg("logged in")
	return nil
}

// Logout drops the token and the logged-in flag together.
func (s *Session) Logout(ctx context.Context) error {
	return s.commit(ctx, State{SchemaVersion: SchemaVersion})
}

// commit persists the state to disk, then adopts it in memory, then
// mirrors it to the blob store best-effort. Disk failure leaves the
// previous state untouched everywhere.
func (s *Session) commit(ctx context.Context, state State) error {
	if err := WriteState(s.statePath, state); err != nil {
		return fmt.Errorf("session: persist state: %w", err)
	}

	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
	setLoggedInMetric(state.LoggedIn)

	if s.blob != nil {
		data, err := json.MarshalIndent(state, "", "  ")
		if err == nil {
			err = s.blob.Save(ctx, data)
		}
		if err != nil {
			blobPersistOK.Set(0)
			s.log.Warn().Err(err).Msg("session blob mirror failed")
		} else {
			blobPersistOK.Set(1)
		}
	}
	return nil
}

func (s *Session) clearTransients() {
	s.mu.Lock()
	s.verifier = ""
	s.challenge = ""
	s.emailHint = ""
	s.mu.Unlock()
}
