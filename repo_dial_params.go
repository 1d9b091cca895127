package gatewayws

import (
	"context"
	"net/http"
	"net/url"

	"github.com/pkg/errors"
)

// DefaultConnectURL is where the gateway accepts websocket connections.
const DefaultConnectURL = "wss://ws.tryterra.co/connect"

type (
	DialParams struct {
		URL    url.URL
		Header http.Header
	}

	DialParamsGetter func(ctx context.Context) (DialParams, error)

	// DialParamsRepo resolves where and how a Channel dials each time it is opened.
	DialParamsRepo struct {
		logger Logger
		getter DialParamsGetter
	}
)

func (r DialParamsRepo) Get(
	ctx context.Context,
) (params DialParams, err error) {
	params, err = r.getter(ctx)
	if err != nil {
		r.logger.Errorf("cannot fetch dial params: %s", err)
	}
	return
}

func NewDialParamsRepo(
	logger Logger,
	getter DialParamsGetter,
) DialParamsRepo {
	return DialParamsRepo{getter: getter, logger: logger}
}

// NewStaticDialParamsRepo always dials rawURL with no extra headers.
func NewStaticDialParamsRepo(logger Logger, rawURL string) (DialParamsRepo, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return DialParamsRepo{}, errors.Wrapf(err, "invalid connect url %q", rawURL)
	}
	params := DialParams{URL: *u, Header: http.Header{}}
	return NewDialParamsRepo(logger, func(context.Context) (DialParams, error) {
		return params, nil
	}), nil
}
