package app

import (
	"context"
	"errors"

	"github.com/mjehrhart/viewu-sub000/internal/domain"
)

// TokenProducers holds the credential sources for the token-based modes
type TokenProducers struct {
	Bearer       domain.TokenProducer
	DeviceSigned domain.TokenProducer
}

// ResolveHeaders builds the outbound header set for one request. It is a
// pure function of its inputs apart from the producer calls; results must
// not be cached across requests.
func ResolveHeaders(ctx context.Context, config domain.AuthConfig, producers TokenProducers) (domain.AuthHeaders, error) {
	switch config.Mode {
	case domain.AuthModeNone, "":
		return domain.AuthHeaders{}.Add(domain.HeaderClientIdentifier, domain.DefaultClientIdentifier), nil

	case domain.AuthModeBearer:
		return bearerHeaders(ctx, config.Mode, producers.Bearer)

	case domain.AuthModeDeviceSigned:
		return bearerHeaders(ctx, config.Mode, producers.DeviceSigned)

	case domain.AuthModeServiceToken:
		headers := domain.AuthHeaders{}
		// Both halves or nothing
		if config.ClientID != "" && config.ClientSecret != "" {
			headers = headers.
				Add(domain.HeaderServiceClientID, config.ClientID).
				Add(domain.HeaderServiceSecret, config.ClientSecret)
		}
		return headers, nil

	case domain.AuthModeCustom:
		return domain.AuthHeaders{}, nil

	default:
		return nil, &domain.AuthError{Mode: config.Mode, Err: errors.New("unknown auth mode")}
	}
}

func bearerHeaders(ctx context.Context, mode domain.AuthMode, producer domain.TokenProducer) (domain.AuthHeaders, error) {
	if producer == nil {
		return nil, &domain.AuthError{Mode: mode, Err: errors.New("no token producer configured")}
	}
	token, err := producer.Token(ctx)
	if err != nil {
		return nil, &domain.AuthError{Mode: mode, Err: err}
	}
	if token == "" {
		return nil, &domain.AuthError{Mode: mode, Err: errors.New("empty token")}
	}
	return domain.AuthHeaders{}.Add(domain.HeaderAuthorization, domain.BearerAuthorization(token)), nil
}

// StaticTokenProducers returns producers that hand out the tokens stored in
// config. An empty stored token makes the producer fail.
func StaticTokenProducers(config domain.AuthConfig) TokenProducers {
	return TokenProducers{
		Bearer:       staticToken(config.BearerToken),
		DeviceSigned: staticToken(config.DeviceToken),
	}
}

func staticToken(token string) domain.TokenProducer {
	return domain.TokenProducerFunc(func(ctx context.Context) (string, error) {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		if token == "" {
			return "", domain.ErrTokenUnavailable
		}
		return token, nil
	})
}
