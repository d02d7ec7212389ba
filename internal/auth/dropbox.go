package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/dropbox/dropbox-sdk-go-unofficial/v6/dropbox"
	"golang.org/x/oauth2"
)

const (
	dropboxCredFile  = "dropbox_credentials.json"
	dropboxTokenFile = "dropbox_token.json"
)

type dropboxCredentials struct {
	AppKey    string `json:"app_key"`
	AppSecret string `json:"app_secret"`
}

var dropboxEndpoint = oauth2.Endpoint{
	AuthURL:  "https://www.dropbox.com/oauth2/authorize",
	TokenURL: "https://api.dropboxapi.com/oauth2/token",
}

type dropboxProvider struct{}

func (dropboxProvider) config() (*oauth2.Config, error) {
	dir, err := Dir()
	if err != nil {
		return nil, err
	}

	b, err := os.ReadFile(filepath.Join(dir, dropboxCredFile))
	if err != nil {
		return nil, fmt.Errorf("%s not found in ~/.vaultsync: %w", dropboxCredFile, err)
	}

	var creds dropboxCredentials
	if err := json.Unmarshal(b, &creds); err != nil {
		return nil, fmt.Errorf("failed to parse dropbox credentials: %w", err)
	}

	return &oauth2.Config{
		ClientID:     creds.AppKey,
		ClientSecret: creds.AppSecret,
		Endpoint:     dropboxEndpoint,
		RedirectURL:  "http://localhost:9999/callback",
		Scopes: []string{
			"files.content.read",
			"files.content.write",
			"files.metadata.read",
			"account_info.read",
		},
	}, nil
}

func (p dropboxProvider) Authorize(ctx context.Context) error {
	cfg, err := p.config()
	if err != nil {
		return err
	}

	authURL := cfg.AuthCodeURL("state-token",
		oauth2.AccessTypeOffline,
		oauth2.SetAuthURLParam("token_access_type", "offline"))

	fmt.Println("Visit the URL for the auth dialog:")
	fmt.Println()
	fmt.Println(authURL)
	fmt.Println()

	codeCh := make(chan string, 1)
	mux := http.NewServeMux()
	mux.HandleFunc("/callback", func(w http.ResponseWriter, r *http.Request) {
		select {
		case codeCh <- r.URL.Query().Get("code"):
		default:
		}
		w.Header().Set("Content-Type", "text/html")
		_, _ = fmt.Fprintln(w, "<h2>Authentication complete! Now you can close this window and return to the terminal.</h2>")
	})

	srv := &http.Server{Addr: ":9999", Handler: mux}
	go func() { _ = srv.ListenAndServe() }()

	fmt.Println("Authentication will complete after you log on via browser...")

	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(sctx)
	}()

	select {
	case code := <-codeCh:
		token, err := cfg.Exchange(ctx, code)
		if err != nil {
			return fmt.Errorf("failed to exchange token: %w", err)
		}
		return saveToken(dropboxTokenFile, token)

	case <-time.After(2 * time.Minute):
		return fmt.Errorf("authorization timed out")

	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p dropboxProvider) NewConfig(ctx context.Context) (dropbox.Config, error) {
	cfg, err := p.config()
	if err != nil {
		return dropbox.Config{}, err
	}

	token, err := loadToken(dropboxTokenFile, "dropbox")
	if err != nil {
		return dropbox.Config{}, err
	}

	_, fresh, err := refreshed(ctx, cfg, dropboxTokenFile, token)
	if err != nil {
		return dropbox.Config{}, err
	}

	return dropbox.Config{Token: fresh.AccessToken, LogLevel: dropbox.LogOff}, nil
}
