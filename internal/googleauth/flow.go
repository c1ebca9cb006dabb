package googleauth

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"

	"github.com/google/uuid"
	"golang.org/x/oauth2"
)

// Authorize runs the installed-app consent flow: it prints the consent URL
// to w, waits for Google to redirect to a loopback listener and saves the
// resulting token.
func Authorize(ctx context.Context, cfg Config, w io.Writer) error {
	data, err := os.ReadFile(cfg.CredentialsFile)
	if err != nil {
		return fmt.Errorf("read google credentials: %w", err)
	}
	if isServiceAccount(data) {
		return errors.New("service account credentials need no authorization")
	}
	oc, err := OAuthConfig(data)
	if err != nil {
		return err
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return fmt.Errorf("listen for oauth redirect: %w", err)
	}
	defer ln.Close()
	oc.RedirectURL = "http://" + ln.Addr().String() + "/"

	state := uuid.NewString()
	codes := make(chan string, 1)
	errs := make(chan error, 1)
	srv := &http.Server{Handler: http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("state") != state {
			http.Error(rw, "state mismatch", http.StatusBadRequest)
			return
		}
		if e := q.Get("error"); e != "" {
			errs <- fmt.Errorf("authorization denied: %s", e)
			http.Error(rw, e, http.StatusForbidden)
			return
		}
		codes <- q.Get("code")
		_, _ = io.WriteString(rw, "herald is authorized. You can close this tab.\n")
	})}
	go func() { _ = srv.Serve(ln) }()
	defer srv.Close()

	url := oc.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce)
	fmt.Fprintf(w, "Open this URL in a browser to authorize herald:\n\n%s\n\n", url)

	var code string
	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-errs:
		return err
	case code = <-codes:
	}
	tok, err := oc.Exchange(ctx, code)
	if err != nil {
		return fmt.Errorf("exchange code: %w", err)
	}
	if err := SaveToken(cfg.TokenFile, tok); err != nil {
		return fmt.Errorf("save token: %w", err)
	}
	fmt.Fprintf(w, "Token saved to %s\n", cfg.TokenFile)
	return nil
}
