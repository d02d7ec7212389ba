package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/oauth2"
)

// Dir returns ~/.vaultsync, creating it when missing.
func Dir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}

	dir := filepath.Join(home, ".vaultsync")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", err
	}

	return dir, nil
}

func saveToken(name string, token *oauth2.Token) error {
	dir, err := Dir()
	if err != nil {
		return err
	}

	b, err := json.Marshal(token)
	if err != nil {
		return err
	}

	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, b, 0600); err != nil {
		return fmt.Errorf("failed to save token: %w", err)
	}

	fmt.Printf("Token saved to %s\n", path)
	return nil
}

func loadToken(name, backend string) (*oauth2.Token, error) {
	dir, err := Dir()
	if err != nil {
		return nil, err
	}

	b, err := os.ReadFile(filepath.Join(dir, name))
	if err != nil {
		return nil, fmt.Errorf("%s auth needed. Please run 'vaultsync auth %s' first: %w", backend, backend, err)
	}

	var token oauth2.Token
	if err := json.Unmarshal(b, &token); err != nil {
		return nil, fmt.Errorf("failed to parse %s token: %w", backend, err)
	}

	return &token, nil
}

// refreshed returns a token source for token, saving the token again when
// the source had to refresh it.
func refreshed(ctx context.Context, cfg *oauth2.Config, name string, token *oauth2.Token) (oauth2.TokenSource, *oauth2.Token, error) {
	src := cfg.TokenSource(ctx, token)
	fresh, err := src.Token()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to refresh token: %w", err)
	}

	if fresh.AccessToken != token.AccessToken {
		_ = saveToken(name, fresh)
	}

	return src, fresh, nil
}
