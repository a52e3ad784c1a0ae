// Package auth implements the OAuth client-credentials handshake against
// the ADP token endpoint. ADP requires the exchange to run over mutual TLS:
// the configured certificate pair secures the token request itself, while
// API calls carry only the bearer token.
package auth

import (
	"context"
	"crypto/tls"
	stderrors "errors"
	"net/http"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/ajitpratap0/tap-adp/pkg/config"
	"github.com/ajitpratap0/tap-adp/pkg/errors"
	"github.com/ajitpratap0/tap-adp/pkg/logger"
	"github.com/ajitpratap0/tap-adp/pkg/metrics"
)

// expirySkew is subtracted from the token lifetime so renewal happens well
// before the upstream rejects the token
const expirySkew = 600 * time.Second

// Authenticator fetches and caches the bearer token. Refreshes are
// single-flight: concurrent callers needing a fresh token wait for one
// in-flight exchange instead of issuing their own.
type Authenticator struct {
	cc          *clientcredentials.Config
	tokenClient *http.Client

	mu         sync.Mutex
	cond       *sync.Cond
	refreshing bool
	token      *oauth2.Token
}

// New builds an authenticator from validated configuration. Certificate
// parsing happens here, before any network call, so a bad pair surfaces as
// a configuration error at startup.
func New(cfg *config.Config) (*Authenticator, error) {
	transport := &http.Transport{}
	if cfg.AuthMode == config.AuthModeMutualTLS {
		pair, err := tls.X509KeyPair(
			[]byte(cfg.Credentials.CertPublic),
			[]byte(cfg.Credentials.CertPrivate),
		)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeConfig,
				"client certificate pair is not a valid PEM keypair")
		}
		transport.TLSClientConfig = &tls.Config{
			MinVersion:   tls.VersionTLS12,
			Certificates: []tls.Certificate{pair},
		}
	}

	a := &Authenticator{
		cc: &clientcredentials.Config{
			ClientID:     cfg.Credentials.ClientID,
			ClientSecret: cfg.Credentials.ClientSecret,
			TokenURL:     cfg.AuthURL,
			AuthStyle:    oauth2.AuthStyleInParams,
		},
		tokenClient: &http.Client{
			Transport: transport,
			Timeout:   cfg.Reliability.RequestTimeout,
		},
	}
	a.cond = sync.NewCond(&a.mu)
	return a, nil
}

// Token returns a valid bearer token, refreshing if the cached one is
// missing or inside the expiry skew window.
func (a *Authenticator) Token(ctx context.Context) (string, error) {
	a.mu.Lock()
	for a.refreshing {
		a.cond.Wait()
	}
	if a.valid() {
		token := a.token.AccessToken
		a.mu.Unlock()
		return token, nil
	}
	a.refreshing = true
	a.mu.Unlock()

	token, err := a.fetch(ctx)

	a.mu.Lock()
	a.refreshing = false
	if err == nil {
		a.token = token
	}
	a.cond.Broadcast()
	a.mu.Unlock()

	if err != nil {
		return "", err
	}
	return token.AccessToken, nil
}

// Invalidate discards the cached token so the next caller fetches a fresh
// one. Used when the API rejects a token the cache still considers valid.
func (a *Authenticator) Invalidate() {
	a.mu.Lock()
	a.token = nil
	a.mu.Unlock()
}

// valid reports whether the cached token is usable; callers hold the mutex
func (a *Authenticator) valid() bool {
	if a.token == nil || a.token.AccessToken == "" {
		return false
	}
	if a.token.Expiry.IsZero() {
		return true
	}
	return time.Until(a.token.Expiry) > expirySkew
}

func (a *Authenticator) fetch(ctx context.Context) (*oauth2.Token, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, a.tokenClient)
	token, err := a.cc.Token(ctx)
	if err != nil {
		var retrieve *oauth2.RetrieveError
		if stderrors.As(err, &retrieve) {
			if retrieve.Response != nil && retrieve.Response.StatusCode >= 400 && retrieve.Response.StatusCode < 500 {
				return nil, errors.Wrap(err, errors.ErrorTypeAuthentication,
					"token endpoint rejected the client credentials")
			}
			return nil, errors.Wrap(err, errors.ErrorTypeTransient,
				"token endpoint returned a server error")
		}
		return nil, errors.Wrap(err, errors.ErrorTypeConnection,
			"failed to reach the token endpoint")
	}

	metrics.TokenRefreshes.Inc()
	logger.Get().Debug("obtained fresh access token")
	return token, nil
}
