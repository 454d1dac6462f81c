// Package oauth runs the Facebook embedded-signup flow for connecting
// a WhatsApp Business account: it builds the authorization dialog URL,
// listens on a loopback redirect endpoint for the callback, validates
// the state nonce, and exchanges the authorization code through the
// backend.
package oauth

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/google/uuid"

	"github.com/sanjay8views/whatsapp-bsp-ui-nexus/internal/gateway"
	"github.com/sanjay8views/whatsapp-bsp-ui-nexus/internal/logging"
)

const dialogEndpoint = "https://www.facebook.com/v22.0/dialog/oauth"

// DefaultScopes are the Facebook permissions the embedded signup needs.
const DefaultScopes = "whatsapp_business_management,whatsapp_business_messaging,business_management"

// Exchanger trades an authorization code for a connected account.
// *gateway.Client satisfies it.
type Exchanger interface {
	ExchangeFacebookCode(ctx context.Context, code, redirectURI string) (*gateway.FacebookExchangeResult, error)
}

// Flow is a single connect attempt. It is not reusable: each attempt
// carries a fresh state nonce.
type Flow struct {
	appID     string
	scopes    string
	port      int
	exchanger Exchanger
	logger    *slog.Logger

	// OpenURL presents the authorization URL to the operator. When nil
	// the URL is only logged.
	OpenURL func(url string) error
}

// NewFlow prepares a connect attempt. port 0 selects a random loopback
// port for the redirect endpoint.
func NewFlow(appID string, port int, exchanger Exchanger) *Flow {
	return &Flow{
		appID:     appID,
		scopes:    DefaultScopes,
		port:      port,
		exchanger: exchanger,
		logger:    logging.Auth(),
	}
}

// AuthorizationURL builds the Facebook dialog URL for the given
// redirect endpoint and state nonce.
func AuthorizationURL(appID, redirectURI, scopes, state string) string {
	q := url.Values{}
	q.Set("client_id", appID)
	q.Set("redirect_uri", redirectURI)
	q.Set("state", state)
	q.Set("scope", scopes)
	q.Set("response_type", "code")
	return dialogEndpoint + "?" + q.Encode()
}

// callback is the query payload Facebook delivers to the redirect
// endpoint, either a code grant or an error report.
type callback struct {
	code  string
	state string

	errCode        string
	errReason      string
	errDescription string
}

func parseCallback(q url.Values) callback {
	return callback{
		code:           q.Get("code"),
		state:          q.Get("state"),
		errCode:        q.Get("error"),
		errReason:      q.Get("error_reason"),
		errDescription: q.Get("error_description"),
	}
}

// validate checks the callback against the state nonce issued when the
// dialog URL was built. A mismatched or missing state means the
// callback cannot be tied to this attempt and the code is never
// exchanged.
func validate(cb callback, wantState string) error {
	if cb.errCode != "" {
		reason := cb.errDescription
		if reason == "" {
			reason = cb.errReason
		}
		if reason == "" {
			reason = cb.errCode
		}
		return &gateway.AuthError{Reason: fmt.Sprintf("authorization declined: %s", reason)}
	}
	if cb.state != wantState {
		return &gateway.ValidationError{Field: "state", Message: "state mismatch in OAuth callback"}
	}
	if cb.code == "" {
		return &gateway.ValidationError{Field: "code", Message: "OAuth callback carried no authorization code"}
	}
	return nil
}

// Run executes the flow: it starts the redirect listener, hands the
// dialog URL to the operator, waits for the callback, and exchanges the
// code. It returns when the exchange completes, the callback reports an
// error, or ctx is done.
func (f *Flow) Run(ctx context.Context) (*gateway.FacebookExchangeResult, error) {
	listener, port, err := listenLoopback(f.port)
	if err != nil {
		return nil, err
	}
	defer listener.Close()

	redirectURI := fmt.Sprintf("http://localhost:%d/callback", port)
	state := uuid.NewString()

	callbacks := make(chan callback, 1)
	mux := http.NewServeMux()
	mux.HandleFunc("/callback", func(w http.ResponseWriter, r *http.Request) {
		cb := parseCallback(r.URL.Query())
		select {
		case callbacks <- cb:
		default:
			// A second callback for the same attempt is ignored.
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		if cb.errCode != "" || cb.state != state || cb.code == "" {
			fmt.Fprint(w, "<html><body><p>Connection failed. You can close this window.</p></body></html>")
			return
		}
		fmt.Fprint(w, "<html><body><p>Account connected. You can close this window and return to the terminal.</p></body></html>")
	})

	server := &http.Server{Handler: mux}
	serveErr := make(chan error, 1)
	go func() {
		if err := server.Serve(listener); err != nil && err != http.ErrServerClosed {
			serveErr <- err
		}
	}()
	defer server.Close()

	authURL := AuthorizationURL(f.appID, redirectURI, f.scopes, state)
	f.logger.Info("waiting for authorization", "redirect_uri", redirectURI)
	if f.OpenURL != nil {
		if err := f.OpenURL(authURL); err != nil {
			f.logger.Warn("could not open authorization URL", "error", err)
			f.logger.Info("open this URL to continue", "url", authURL)
		}
	} else {
		f.logger.Info("open this URL to continue", "url", authURL)
	}

	var cb callback
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case err := <-serveErr:
		return nil, fmt.Errorf("redirect listener failed: %w", err)
	case cb = <-callbacks:
	}

	if err := validate(cb, state); err != nil {
		f.logger.Warn("authorization callback rejected", "error", err)
		return nil, err
	}

	result, err := f.exchanger.ExchangeFacebookCode(ctx, cb.code, redirectURI)
	if err != nil {
		return nil, fmt.Errorf("failed to exchange authorization code: %w", err)
	}
	return result, nil
}
