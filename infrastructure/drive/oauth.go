package drive

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/exec"
	"runtime"

	"github.com/google/uuid"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/option"
)

// DefaultCallbackAddr is where the local OAuth callback listens
const DefaultCallbackAddr = "localhost:8085"

// OAuthConfig holds the configuration for OAuth 2.0 authentication
type OAuthConfig struct {
	CredentialsFile string    // Path to OAuth client credentials JSON
	TokenFile       string    // Path to store/load token
	CallbackAddr    string    // host:port for the redirect listener
	Output          io.Writer // Where login instructions are printed
}

// NewClientWithOAuth creates a Drive client authorised as the signed-in user.
// The drive.file scope limits access to folders and files this tool creates.
func NewClientWithOAuth(ctx context.Context, cfg OAuthConfig, opts ...ClientOption) (*Client, error) {
	c := &Client{}
	for _, opt := range opts {
		opt(c)
	}
	if c.driveService != nil {
		return c, nil
	}

	if cfg.Output == nil {
		cfg.Output = io.Discard
	}
	if cfg.CallbackAddr == "" {
		cfg.CallbackAddr = DefaultCallbackAddr
	}

	raw, err := os.ReadFile(cfg.CredentialsFile)
	if err != nil {
		return nil, fmt.Errorf("unable to read OAuth credentials file: %w", err)
	}
	oc, err := google.ConfigFromJSON(raw, drive.DriveFileScope)
	if err != nil {
		return nil, fmt.Errorf("unable to parse OAuth credentials: %w", err)
	}

	tok, err := userToken(ctx, oc, cfg)
	if err != nil {
		return nil, fmt.Errorf("unable to get OAuth token: %w", err)
	}

	srv, err := drive.NewService(ctx, option.WithHTTPClient(oc.Client(ctx, tok)))
	if err != nil {
		return nil, fmt.Errorf("unable to create drive service: %w", err)
	}
	c.driveService = &GoogleDriveService{service: srv}
	return c, nil
}

// userToken reuses the cached token when it still refreshes, otherwise
// runs the browser consent flow.
func userToken(ctx context.Context, oc *oauth2.Config, cfg OAuthConfig) (*oauth2.Token, error) {
	cached, err := loadToken(cfg.TokenFile)
	if err == nil {
		fresh, err := oc.TokenSource(ctx, cached).Token()
		if err == nil {
			if fresh.AccessToken != cached.AccessToken {
				if err := saveToken(cfg.TokenFile, fresh); err != nil {
					fmt.Fprintf(cfg.Output, "Warning: couldn't save refreshed token: %v\n", err)
				}
			}
			return fresh, nil
		}
	}

	tok, err := consent(ctx, oc, cfg)
	if err != nil {
		return nil, err
	}
	if err := saveToken(cfg.TokenFile, tok); err != nil {
		fmt.Fprintf(cfg.Output, "Warning: couldn't save token: %v\n", err)
	}
	fmt.Fprintln(cfg.Output, "Authentication successful!")
	return tok, nil
}

func loadToken(file string) (*oauth2.Token, error) {
	raw, err := os.ReadFile(file)
	if err != nil {
		return nil, err
	}
	tok := &oauth2.Token{}
	if err := json.Unmarshal(raw, tok); err != nil {
		return nil, fmt.Errorf("corrupt token file %s: %w", file, err)
	}
	return tok, nil
}

// saveToken writes the token readable only by the current user
func saveToken(file string, tok *oauth2.Token) error {
	raw, err := json.Marshal(tok)
	if err != nil {
		return err
	}
	return os.WriteFile(file, raw, 0600)
}

// callback is what the redirect handler hands back to consent
type callback struct {
	code string
	err  error
}

// consent runs the installed-app flow with PKCE and a per-run state value,
// receiving the authorisation code on a loopback listener.
func consent(ctx context.Context, oc *oauth2.Config, cfg OAuthConfig) (*oauth2.Token, error) {
	oc.RedirectURL = "http://" + cfg.CallbackAddr + "/callback"
	state := uuid.NewString()
	verifier := oauth2.GenerateVerifier()

	results := make(chan callback, 1)
	deliver := func(cb callback) {
		select {
		case results <- cb:
		default:
		}
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/callback", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		switch {
		case q.Get("state") != state:
			http.Error(w, "state mismatch", http.StatusBadRequest)
			deliver(callback{err: errors.New("OAuth callback state mismatch")})
		case q.Get("error") != "":
			http.Error(w, "authorization denied", http.StatusForbidden)
			deliver(callback{err: fmt.Errorf("authorization denied: %s", q.Get("error"))})
		case q.Get("code") == "":
			http.Error(w, "no authorization code", http.StatusBadRequest)
			deliver(callback{err: errors.New("no code in callback")})
		default:
			fmt.Fprint(w, "<html><body><h1>vidextract is authorized</h1><p>You can close this window.</p></body></html>")
			deliver(callback{code: q.Get("code")})
		}
	})

	ln, err := net.Listen("tcp", cfg.CallbackAddr)
	if err != nil {
		return nil, fmt.Errorf("unable to listen for OAuth callback: %w", err)
	}
	srv := &http.Server{Handler: mux}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			deliver(callback{err: err})
		}
	}()
	defer srv.Shutdown(context.Background())

	authURL := oc.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce, oauth2.S256ChallengeOption(verifier))
	fmt.Fprintf(cfg.Output, "\nOpening browser for Google authentication...\nIf the browser doesn't open, visit:\n\n%s\n\n", authURL)
	openBrowser(authURL)

	var cb callback
	select {
	case cb = <-results:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if cb.err != nil {
		return nil, cb.err
	}

	tok, err := oc.Exchange(ctx, cb.code, oauth2.VerifierOption(verifier))
	if err != nil {
		return nil, fmt.Errorf("unable to exchange auth code: %w", err)
	}
	return tok, nil
}

func openBrowser(url string) {
	var name string
	var args []string
	switch runtime.GOOS {
	case "darwin":
		name, args = "open", []string{url}
	case "windows":
		name, args = "rundll32", []string{"url.dll,FileProtocolHandler", url}
	default:
		for _, candidate := range []string{"xdg-open", "wslview"} {
			if _, err := exec.LookPath(candidate); err == nil {
				name, args = candidate, []string{url}
				break
			}
		}
	}
	if name != "" {
		_ = exec.Command(name, args...).Start()
	}
}
