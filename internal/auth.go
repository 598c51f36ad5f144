package internal

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	pkgerrs "github.com/jamesprial/go-zulip-api-wrapper/pkg/errors"
	"github.com/jamesprial/go-zulip-api-wrapper/pkg/types"
)

// Authenticator exchanges a username (and optionally a password) for an API key.
// Requests go through the session before any credentials are assigned to it.
type Authenticator struct {
	session *Client
}

// NewAuthenticator creates an authenticator bound to session.
func NewAuthenticator(session *Client) *Authenticator {
	return &Authenticator{session: session}
}

// FetchAPIKey performs the password handshake.
func (a *Authenticator) FetchAPIKey(ctx context.Context, username, password string) (types.Credentials, error) {
	form := url.Values{}
	form.Set("username", username)
	form.Set("password", password)

	return a.fetch(ctx, EndpointFetchAPIKey, form)
}

// FetchDevAPIKey performs the development-server handshake, which needs no password.
func (a *Authenticator) FetchDevAPIKey(ctx context.Context, username string) (types.Credentials, error) {
	form := url.Values{}
	form.Set("username", username)

	return a.fetch(ctx, EndpointFetchDevAPIKey, form)
}

func (a *Authenticator) fetch(ctx context.Context, endpoint string, form url.Values) (types.Credentials, error) {
	var resp types.APIKeyResponse
	if err := a.session.Send(ctx, http.MethodPost, endpoint, form, &resp); err != nil {
		return types.Credentials{}, err
	}

	if resp.APIKey == "" {
		zerr := pkgerrs.NewTransport(fmt.Errorf("api key was empty in response"))
		return types.Credentials{}, zerr.WithRequest(http.MethodPost, endpoint)
	}

	identity := resp.Email
	if identity == "" {
		identity = form.Get("username")
	}

	return types.NewCredentials(identity, resp.APIKey), nil
}
