package service

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"
)

// maxResponseBytes caps provider response bodies read into memory.
const maxResponseBytes = 1 << 20

var defaultHTTPClient = &http.Client{Timeout: 2 * time.Minute}

func GetExpiresAt(expiresIn int) time.Time {
	return time.Now().Add(time.Duration(expiresIn) * time.Second)
}

func readBody(resp *http.Response) ([]byte, error) {
	return io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
}

// asProviderError keeps typed errors as they are and files anything else
// (network, context, decode) under transient for provider.
func asProviderError(provider, step string, err error) error {
	if err == nil {
		return nil
	}
	var pe *ProviderError
	if errors.As(err, &pe) {
		return err
	}
	return &ProviderError{
		Provider: provider,
		Step:     step,
		Kind:     ErrProviderTransient,
		Message:  genericFailureMessage,
		Err:      err,
	}
}

// reconnectError reports a credential that cannot be used at all.
func reconnectError(provider string, err error) error {
	return &ProviderError{
		Provider: provider,
		Step:     "token",
		Kind:     ErrAuthExpired,
		Message:  "Your account session has expired. Please reconnect your account and try again.",
		Err:      err,
	}
}

// detach keeps values of ctx but drops its cancellation, for cleanup that
// must finish after the caller gave up.
func detach(ctx context.Context) context.Context {
	return context.WithoutCancel(ctx)
}
