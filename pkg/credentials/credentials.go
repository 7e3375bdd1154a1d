// Package credentials manages the saved login token in the .relay/ directory.
package credentials

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"

	"github.com/pjgq/relay/pkg/dotdir"
)

const (
	tokenFile = "token.toml"

	currentVersion = 0
)

// Token is the persisted login state written after "relay login".
type Token struct {
	Version int    `toml:"version"`
	UserID  string `toml:"user_id,omitempty"`
	Token   string `toml:"token,omitempty"`
}

// Manager manages reading and writing token.toml in the .relay/ directory.
type Manager struct {
	ddm        *dotdir.Manager
	targetPath string
}

// NewManager creates a new credentials Manager. If override is non-empty it is
// used as the .relay/ directory; otherwise the standard dotdir resolution applies.
// When no .relay/ directory is found, one is created at ~/.relay/.
func NewManager(override string) (*Manager, error) {
	mgr := &Manager{}
	mgr.ddm = dotdir.NewManager()

	target, err := mgr.ddm.Target(override)
	if err != nil {
		return nil, err
	}

	if target == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("resolving home dir: %w", err)
		}
		target = filepath.Join(home, ".relay")
		if err := os.MkdirAll(target, 0o755); err != nil {
			return nil, fmt.Errorf("creating relay dir: %w", err)
		}
	}

	mgr.targetPath = filepath.Join(target, tokenFile)

	return mgr, nil
}

// Load reads token.toml from the target directory.
// Returns an empty Token if the file does not exist.
func (m *Manager) Load() (*Token, error) {
	data, err := os.ReadFile(m.targetPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &Token{Version: currentVersion}, nil
		}
		return nil, fmt.Errorf("reading token: %w", err)
	}

	tok := &Token{}
	if err := toml.Unmarshal(data, tok); err != nil {
		return nil, fmt.Errorf("parsing token: %w", err)
	}

	return tok, nil
}

// Save writes the token to token.toml with 0600 permissions.
func (m *Manager) Save(tok *Token) error {
	if tok == nil {
		return errors.New("cannot save nil token")
	}

	var buf bytes.Buffer
	encoder := toml.NewEncoder(&buf)
	if err := encoder.Encode(tok); err != nil {
		return fmt.Errorf("encoding token: %w", err)
	}

	if err := os.WriteFile(m.targetPath, buf.Bytes(), 0o600); err != nil {
		return fmt.Errorf("writing token: %w", err)
	}

	return nil
}

// SetToken stores the login token for a user.
func (m *Manager) SetToken(userID, token string) error {
	return m.Save(&Token{
		Version: currentVersion,
		UserID:  userID,
		Token:   token,
	})
}

// GetToken returns the stored login token.
// Returns an empty string if no token is stored.
func (m *Manager) GetToken() (string, error) {
	tok, err := m.Load()
	if err != nil {
		return "", err
	}

	return tok.Token, nil
}

// Clear deletes the stored token file.
func (m *Manager) Clear() error {
	err := os.Remove(m.targetPath)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("removing token: %w", err)
	}

	return nil
}

// GetTarget returns the resolved path to the token file.
func (m *Manager) GetTarget() string {
	return m.targetPath
}
