package main

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/ghodss/yaml"
	"github.com/google/uuid"
	homedir "github.com/mitchellh/go-homedir"

	"github.com/keyforge-dev/keyforge-go"
)

const defaultStatePath = "~/.keyforge.yaml"

// State is the local CLI state.
type State struct {
	DeviceIdentifier string            `json:"deviceIdentifier,omitempty"`
	DeviceName       string            `json:"deviceName,omitempty"`
	LicenseKey       string            `json:"licenseKey,omitempty"`
	Tokens           map[string]string `json:"tokens,omitempty"`
}

func loadState(path string) (state State, err error) {
	configPath, err := homedir.Expand(path)
	if err != nil {
		return state, fmt.Errorf("expand state path: %w", err)
	}

	configBytes, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return State{}, nil
		}
		return state, fmt.Errorf("read: %w", err)
	}

	if err := yaml.Unmarshal(configBytes, &state); err != nil {
		return state, fmt.Errorf("parse yaml: %w", err)
	}
	return state, nil
}

func (state State) save(path string) error {
	configPath, err := homedir.Expand(path)
	if err != nil {
		return fmt.Errorf("expand state path: %w", err)
	}

	configBytes, err := yaml.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal yaml: %w", err)
	}

	if err := os.WriteFile(configPath, configBytes, 0600); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	return nil
}

// ensureDevice assigns a device identifier on first use and reports whether
// the state changed.
func (state *State) ensureDevice() bool {
	changed := false
	if state.DeviceIdentifier == "" {
		state.DeviceIdentifier = uuid.NewString()
		changed = true
	}
	if state.DeviceName == "" {
		if host, err := os.Hostname(); err == nil {
			state.DeviceName = host
			changed = true
		}
	}
	return changed
}

// stateTokenStore is a keyforge.TokenStore backed by the state file.
type stateTokenStore struct {
	mu   sync.Mutex
	path string
}

func (s *stateTokenStore) Load(_ context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, err := loadState(s.path)
	if err != nil {
		return "", err
	}
	token, ok := state.Tokens[key]
	if !ok || token == "" {
		return "", keyforge.ErrTokenNotFound
	}
	return token, nil
}

func (s *stateTokenStore) Save(_ context.Context, key, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, err := loadState(s.path)
	if err != nil {
		return err
	}
	if state.Tokens == nil {
		state.Tokens = map[string]string{}
	}
	state.Tokens[key] = token
	return state.save(s.path)
}

func (s *stateTokenStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, err := loadState(s.path)
	if err != nil {
		return err
	}
	if _, ok := state.Tokens[key]; !ok {
		return nil
	}
	delete(state.Tokens, key)
	return state.save(s.path)
}
