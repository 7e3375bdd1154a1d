// Package authcmder provides the register, login, and logout client commands.
package authcmder

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/pjgq/relay/pkg/config"
	"github.com/pjgq/relay/pkg/credentials"
)

// tokenResponse matches the relay server's register and login responses.
type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

// errorResponse matches the relay server's error responses.
type errorResponse struct {
	Error string `json:"error"`
}

// resolveTarget returns the relay server URL, preferring the flag value over
// client.target from config.toml.
func resolveTarget(cmd *cobra.Command, flagValue string) (string, error) {
	if cmd.Flags().Changed("target") {
		return flagValue, nil
	}

	configDir, _ := cmd.Flags().GetString("config-dir")
	cfger, err := config.NewConfiger(configDir)
	if err != nil {
		return "", fmt.Errorf("loading config: %w", err)
	}

	cfg, err := cfger.LoadConfig()
	if err != nil {
		return "", fmt.Errorf("loading config: %w", err)
	}

	return cfg.Client.Target, nil
}

// registerUser creates an account and returns the issued token.
func registerUser(target, userID, username, password string) (string, error) {
	payload := map[string]string{
		"user_id":  userID,
		"password": password,
	}
	if username != "" {
		payload["username"] = username
	}
	return postCredentials(target, "/register", payload)
}

// loginUser checks credentials and returns the issued token.
func loginUser(target, userID, password string) (string, error) {
	return postCredentials(target, "/login", map[string]string{
		"user_id":  userID,
		"password": password,
	})
}

// postCredentials sends a credentials payload to the given relay endpoint and
// returns the issued token.
func postCredentials(target, path string, payload map[string]string) (string, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshaling request: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	url := strings.TrimRight(target, "/") + path
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("sending request to %s: %w", target, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		return "", fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var errResp errorResponse
		if json.Unmarshal(respBody, &errResp) == nil && errResp.Error != "" {
			return "", fmt.Errorf("server returned status %d: %s", resp.StatusCode, errResp.Error)
		}
		return "", fmt.Errorf("server returned status %d: %s", resp.StatusCode, string(respBody))
	}

	var tok tokenResponse
	if err := json.Unmarshal(respBody, &tok); err != nil {
		return "", fmt.Errorf("parsing response: %w", err)
	}
	if tok.AccessToken == "" {
		return "", errors.New("server response missing access token")
	}

	return tok.AccessToken, nil
}

// readPassword reads a password from stdin. If stdin is a pipe, it reads the
// first line. Otherwise, it prompts interactively with hidden input.
func readPassword(prompt string) (string, error) {
	fi, err := os.Stdin.Stat()
	if err != nil {
		return "", fmt.Errorf("checking stdin: %w", err)
	}

	// Piped input
	if (fi.Mode() & os.ModeCharDevice) == 0 {
		scanner := bufio.NewScanner(os.Stdin)
		if scanner.Scan() {
			return scanner.Text(), nil
		}
		if err := scanner.Err(); err != nil {
			return "", fmt.Errorf("reading stdin: %w", err)
		}
		return "", errors.New("no input received on stdin")
	}

	// Interactive terminal
	fmt.Print(prompt)

	passBytes, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Println() // newline after hidden input
	if err != nil {
		return "", fmt.Errorf("reading password: %w", err)
	}

	return string(passBytes), nil
}

func saveToken(configDir, userID, token string) (*credentials.Manager, error) {
	mgr, err := credentials.NewManager(configDir)
	if err != nil {
		return nil, fmt.Errorf("loading credentials: %w", err)
	}

	if err := mgr.SetToken(userID, token); err != nil {
		return nil, err
	}

	return mgr, nil
}
