package gatewayws

import (
	"context"

	"github.com/stretchr/testify/mock"
)

type mockAuthenticator struct {
	mock.Mock
}

func (m *mockAuthenticator) FetchToken(ctx context.Context, devID, apiKey string) (string, error) {
	args := m.Called(ctx, devID, apiKey)
	return args.String(0), args.Error(1)
}

type mockSink struct {
	mock.Mock

	tapDispatch func(DispatchEvent)
}

func (m *mockSink) Dispatch(ctx context.Context, e DispatchEvent) error {
	args := m.Called(ctx, e)
	if m.tapDispatch != nil {
		m.tapDispatch(e)
	}
	return args.Error(0)
}
