// Command gdrive-auth runs the OAuth consent flow once and prints the refresh
// token the Drive artifact mirror needs (GDRIVE_REFRESH_TOKEN).
package main

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	drive "google.golang.org/api/drive/v3"

	"pitchreel/internal/pkg/logger"
)

const consentTimeout = 3 * time.Minute

func main() {
	log := logger.New(logger.Config{Format: "text", ServiceName: "gdrive-auth"})

	clientID := strings.TrimSpace(os.Getenv("GDRIVE_CLIENT_ID"))
	clientSecret := strings.TrimSpace(os.Getenv("GDRIVE_CLIENT_SECRET"))
	if clientID == "" || clientSecret == "" {
		log.Error("GDRIVE_CLIENT_ID and GDRIVE_CLIENT_SECRET must be set")
		os.Exit(1)
	}

	token, err := authorize(context.Background(), clientID, clientSecret)
	if err != nil {
		log.LogFatal("authorization failed", err)
	}
	if token == "" {
		fmt.Println("\nNo refresh token was returned.")
		fmt.Println("Revoke the app's access at https://myaccount.google.com/permissions and run this again.")
		os.Exit(1)
	}

	fmt.Println("\nGDRIVE_REFRESH_TOKEN:")
	fmt.Println(token)
}

// authorize listens on a loopback port for the OAuth redirect and exchanges
// the code for tokens.
func authorize(ctx context.Context, clientID, clientSecret string) (string, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return "", err
	}
	defer ln.Close()

	redirectURL := fmt.Sprintf("http://127.0.0.1:%d/callback", ln.Addr().(*net.TCPAddr).Port)
	// DriveFileScope limits uploads to files the app created.
	conf := &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Endpoint:     google.Endpoint,
		Scopes:       []string{drive.DriveFileScope},
		RedirectURL:  redirectURL,
	}

	state, err := randomState()
	if err != nil {
		return "", err
	}

	codeCh := make(chan string, 1)
	errCh := make(chan error, 1)

	mux := http.NewServeMux()
	mux.HandleFunc("/callback", func(w http.ResponseWriter, r *http.Request) {
		code, err := callbackCode(r, state)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			select {
			case errCh <- err:
			default:
			}
			return
		}
		fmt.Fprintln(w, "Authorized. You can close this window and return to the terminal.")
		select {
		case codeCh <- code:
		default:
		}
	})

	srv := &http.Server{
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	go func() { _ = srv.Serve(ln) }()
	defer srv.Close()

	// prompt=consent forces Google to issue a refresh token again.
	authURL := conf.AuthCodeURL(state,
		oauth2.AccessTypeOffline,
		oauth2.SetAuthURLParam("prompt", "consent"),
	)
	fmt.Println("\nOpen this URL in your browser:")
	fmt.Println(authURL)
	fmt.Println("\nWaiting for authorization on", redirectURL)

	var code string
	select {
	case code = <-codeCh:
	case err := <-errCh:
		return "", err
	case <-time.After(consentTimeout):
		return "", errors.New("timed out waiting for authorization")
	}

	tok, err := conf.Exchange(ctx, code)
	if err != nil {
		return "", fmt.Errorf("exchange code: %w", err)
	}
	return strings.TrimSpace(tok.RefreshToken), nil
}

func callbackCode(r *http.Request, state string) (string, error) {
	q := r.URL.Query()
	if q.Get("state") != state {
		return "", errors.New("invalid state")
	}
	if e := q.Get("error"); e != "" {
		return "", fmt.Errorf("auth error: %s", e)
	}
	code := q.Get("code")
	if code == "" {
		return "", errors.New("missing code")
	}
	return code, nil
}

func randomState() (string, error) {
	b := make([]byte, 18)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
