package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/dl-alexandre/drivesync/internal/errors"
	"golang.org/x/oauth2"
)

// credentialTokenSource adapts a CredentialProvider to oauth2.TokenSource so
// oauth2.Transport can stamp every request with the current bearer token.
type credentialTokenSource struct {
	creds CredentialProvider
}

func (s credentialTokenSource) Token() (*oauth2.Token, error) {
	token, err := s.creds.AccessToken(context.Background())
	if err != nil {
		return nil, &errors.AuthError{Err: err}
	}
	if token == "" {
		return nil, &errors.AuthError{Err: fmt.Errorf("no access token available")}
	}
	return &oauth2.Token{AccessToken: token, TokenType: "Bearer"}, nil
}

// NewHTTPClient returns an HTTP client that authenticates every request with
// the provider's current token. base may be nil or a logging transport.
func NewHTTPClient(creds CredentialProvider, base http.RoundTripper) *http.Client {
	return &http.Client{
		Transport: &oauth2.Transport{
			Source: credentialTokenSource{creds: creds},
			Base:   base,
		},
	}
}
