package gatewayws

import (
	"context"
	"encoding/json"

	"github.com/pkg/errors"
	"github.com/valyala/fasthttp"
)

// DefaultAuthURL exchanges developer credentials for a websocket token.
const DefaultAuthURL = "https://ws.tryterra.co/auth/developer"

const (
	headerDeveloperID = "dev-id"
	headerAPIKey      = "x-api-key"
)

type (
	// Authenticator exchanges developer credentials for the token sent in IDENTIFY.
	Authenticator interface {
		FetchToken(ctx context.Context, devID, apiKey string) (string, error)
	}

	AuthenticatorFunc func(ctx context.Context, devID, apiKey string) (string, error)

	tokenResponse struct {
		Token string `json:"token"`
	}

	// HTTPAuthenticator performs the exchange with a single POST. It holds no per-session state
	// and may be shared.
	HTTPAuthenticator struct {
		client *fasthttp.Client
		url    string
		logger Logger
	}
)

func (f AuthenticatorFunc) FetchToken(ctx context.Context, devID, apiKey string) (string, error) {
	return f(ctx, devID, apiKey)
}

func NewHTTPAuthenticator(logger Logger, client *fasthttp.Client, url string) *HTTPAuthenticator {
	if client == nil {
		client = &fasthttp.Client{}
	}
	if url == "" {
		url = DefaultAuthURL
	}
	return &HTTPAuthenticator{
		client: client,
		url:    url,
		logger: logger.WithField("type", "http_authenticator"),
	}
}

// FetchToken never retries. Every failure wraps ErrAuth.
func (a *HTTPAuthenticator) FetchToken(ctx context.Context, devID, apiKey string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", errors.Wrap(ErrAuth, err.Error())
	}

	req := fasthttp.AcquireRequest()
	defer fasthttp.ReleaseRequest(req)
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(a.url)
	req.Header.SetMethod(fasthttp.MethodPost)
	req.Header.Set(headerDeveloperID, devID)
	req.Header.Set(headerAPIKey, apiKey)

	var err error
	if deadline, ok := ctx.Deadline(); ok {
		err = a.client.DoDeadline(req, resp, deadline)
	} else {
		err = a.client.Do(req, resp)
	}
	if err != nil {
		return "", errors.Wrapf(ErrAuth, "request to %s: %s", a.url, err)
	}

	status := resp.StatusCode()
	if status < fasthttp.StatusOK || status >= fasthttp.StatusMultipleChoices {
		return "", errors.Wrapf(ErrAuth, "unexpected status %d: %s", status, resp.Body())
	}

	body := resp.Body()
	if len(body) == 0 {
		return "", errors.Wrap(ErrAuth, "empty response body")
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return "", errors.Wrapf(ErrAuth, "cannot parse response body: %s", err)
	}
	if tr.Token == "" {
		return "", errors.Wrap(ErrAuth, "response carries no token")
	}

	a.logger.Debugf("token fetched from %s", a.url)
	return tr.Token, nil
}
