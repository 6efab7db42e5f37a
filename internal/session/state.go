package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

const SchemaVersion = 1

var ErrStateNotFound = errors.New("session state not found")

// Identity is the cloud account bound to this session.
type Identity struct {
	ID    int    `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

// State is the persisted session: the bearer token and the logged-in flag
// are always written together, never one without the other.
type State struct {
	SchemaVersion int      `json:"schema_version"`
	AccessToken   string   `json:"access_token"`
	LoggedIn      bool     `json:"logged_in"`
	Identity      Identity `json:"identity"`
}

func LoadState(path string) (State, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return State{}, ErrStateNotFound
		}
		return State{}, fmt.Errorf("read state: %w", err)
	}
	return DecodeState(data)
}

func DecodeState(data []byte) (State, error) {
	var state State
	if err := json.Unmarshal(data, &state); err != nil {
		return State{}, fmt.Errorf("decode state: %w", err)
	}
	if err := state.Validate(); err != nil {
		return State{}, err
	}
	return state, nil
}

func (s State) Validate() error {
	if s.SchemaVersion != SchemaVersion {
		return fmt.Errorf("unsupported schema_version: %d", s.SchemaVersion)
	}
	if s.LoggedIn && s.AccessToken == "" {
		return fmt.Errorf("state logged in without a token")
	}
	return nil
}

func WriteState(path string, state State) error {
	if state.SchemaVersion == 0 {
		state.SchemaVersion = SchemaVersion
	}
	if err := ensureParent(path); err != nil {
		return err
	}
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	return os.WriteFile(path, data, 0o600)
}

func ensureParent(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("mkdir state dir: %w", err)
	}
	return nil
}
