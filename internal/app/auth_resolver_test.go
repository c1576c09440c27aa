package app

import (
	"context"
	"errors"
	"testing"

	"github.com/mjehrhart/viewu-sub000/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tokenOf(token string) domain.TokenProducer {
	return domain.TokenProducerFunc(func(ctx context.Context) (string, error) {
		return token, nil
	})
}

func failingToken(err error) domain.TokenProducer {
	return domain.TokenProducerFunc(func(ctx context.Context) (string, error) {
		return "", err
	})
}

func TestResolveHeaders(t *testing.T) {
	producers := TokenProducers{
		Bearer:       tokenOf("bearer-tok"),
		DeviceSigned: tokenOf("device-tok"),
	}

	tests := []struct {
		name   string
		config domain.AuthConfig
		want   domain.AuthHeaders
	}{
		{
			name:   "none sends only the client identifier",
			config: domain.AuthConfig{Mode: domain.AuthModeNone},
			want:   domain.AuthHeaders{{Name: "User-Agent", Value: "viewu/1.0"}},
		},
		{
			name:   "bearer",
			config: domain.AuthConfig{Mode: domain.AuthModeBearer},
			want:   domain.AuthHeaders{{Name: "Authorization", Value: "Bearer bearer-tok"}},
		},
		{
			name:   "device signed uses its own producer",
			config: domain.AuthConfig{Mode: domain.AuthModeDeviceSigned},
			want:   domain.AuthHeaders{{Name: "Authorization", Value: "Bearer device-tok"}},
		},
		{
			name:   "service token with both values",
			config: domain.AuthConfig{Mode: domain.AuthModeServiceToken, ClientID: "id", ClientSecret: "secret"},
			want: domain.AuthHeaders{
				{Name: "CF-Access-Client-Id", Value: "id"},
				{Name: "CF-Access-Client-Secret", Value: "secret"},
			},
		},
		{
			name:   "service token unconfigured",
			config: domain.AuthConfig{Mode: domain.AuthModeServiceToken},
			want:   domain.AuthHeaders{},
		},
		{
			name:   "service token with only an id",
			config: domain.AuthConfig{Mode: domain.AuthModeServiceToken, ClientID: "id"},
			want:   domain.AuthHeaders{},
		},
		{
			name:   "custom is empty",
			config: domain.AuthConfig{Mode: domain.AuthModeCustom},
			want:   domain.AuthHeaders{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ResolveHeaders(context.Background(), tt.config, producers)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestResolveHeaders_ServiceTokenHasNoAuthorization(t *testing.T) {
	headers, err := ResolveHeaders(context.Background(),
		domain.AuthConfig{Mode: domain.AuthModeServiceToken, ClientID: "id", ClientSecret: "secret"},
		TokenProducers{Bearer: tokenOf("should-not-be-used")})
	require.NoError(t, err)

	assert.Len(t, headers, 2)
	assert.False(t, headers.Has("Authorization"))
	assert.True(t, headers.Has("cf-access-client-id"))
}

func TestResolveHeaders_NoneHasNoCredentials(t *testing.T) {
	headers, err := ResolveHeaders(context.Background(), domain.AuthConfig{Mode: domain.AuthModeNone}, TokenProducers{})
	require.NoError(t, err)

	assert.False(t, headers.Has(domain.HeaderAuthorization))
	assert.False(t, headers.Has(domain.HeaderServiceClientID))
	assert.False(t, headers.Has(domain.HeaderServiceSecret))
}

func TestResolveHeaders_CustomDiffersFromNone(t *testing.T) {
	none, err := ResolveHeaders(context.Background(), domain.AuthConfig{Mode: domain.AuthModeNone}, TokenProducers{})
	require.NoError(t, err)
	custom, err := ResolveHeaders(context.Background(), domain.AuthConfig{Mode: domain.AuthModeCustom}, TokenProducers{})
	require.NoError(t, err)

	assert.NotEqual(t, none, custom)
}

func TestResolveHeaders_ProducerFailure(t *testing.T) {
	cause := errors.New("signer offline")

	tests := []struct {
		name      string
		mode      domain.AuthMode
		producers TokenProducers
	}{
		{"bearer error", domain.AuthModeBearer, TokenProducers{Bearer: failingToken(cause)}},
		{"device error", domain.AuthModeDeviceSigned, TokenProducers{DeviceSigned: failingToken(cause), Bearer: tokenOf("x")}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			headers, err := ResolveHeaders(context.Background(), domain.AuthConfig{Mode: tt.mode}, tt.producers)
			require.Error(t, err)
			assert.Nil(t, headers)
			assert.ErrorIs(t, err, domain.ErrTokenUnavailable)
			assert.ErrorIs(t, err, cause)

			var authErr *domain.AuthError
			require.ErrorAs(t, err, &authErr)
			assert.Equal(t, tt.mode, authErr.Mode)
		})
	}
}

func TestResolveHeaders_MissingOrEmptyToken(t *testing.T) {
	_, err := ResolveHeaders(context.Background(), domain.AuthConfig{Mode: domain.AuthModeBearer}, TokenProducers{})
	assert.ErrorIs(t, err, domain.ErrTokenUnavailable)

	_, err = ResolveHeaders(context.Background(), domain.AuthConfig{Mode: domain.AuthModeBearer}, TokenProducers{Bearer: tokenOf("")})
	assert.ErrorIs(t, err, domain.ErrTokenUnavailable)
}

func TestResolveHeaders_ProducerCalledEveryTime(t *testing.T) {
	calls := 0
	producer := domain.TokenProducerFunc(func(ctx context.Context) (string, error) {
		calls++
		return "tok", nil
	})

	for i := 0; i < 3; i++ {
		_, err := ResolveHeaders(context.Background(), domain.AuthConfig{Mode: domain.AuthModeBearer}, TokenProducers{Bearer: producer})
		require.NoError(t, err)
	}
	assert.Equal(t, 3, calls)
}

func TestResolveHeaders_UnknownMode(t *testing.T) {
	_, err := ResolveHeaders(context.Background(), domain.AuthConfig{Mode: "kerberos"}, TokenProducers{})
	assert.Error(t, err)
}

func TestStaticTokenProducers(t *testing.T) {
	producers := StaticTokenProducers(domain.AuthConfig{BearerToken: "b"})

	token, err := producers.Bearer.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "b", token)

	_, err = producers.DeviceSigned.Token(context.Background())
	assert.ErrorIs(t, err, domain.ErrTokenUnavailable)
}
