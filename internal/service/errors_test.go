package service

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrorClassification(t *testing.T) {
	cause := errors.New(`{"error":{"code":2}}`)
	cases := []struct {
		name      string
		err       error
		kind      string
		message   string
		transient bool
	}{
		{"provider rejection", &ProviderError{Kind: ErrContentRejected, Message: "Too long.", Err: cause}, "content_rejected", "Too long.", false},
		{"wrapped auth", fmt.Errorf("publish: %w", &ProviderError{Kind: ErrAuthExpired, Message: "Reconnect."}), "auth_expired", "Reconnect.", false},
		{"timeout", &ProviderError{Kind: ErrPollTimeout, Message: "Took too long."}, "timeout", "Took too long.", true},
		{"staging", fmt.Errorf("%w: put object: %w", ErrStaging, cause), "staging", stagingFailureMessage, false},
		{"unknown", cause, "transient", genericFailureMessage, false},
		{"transient kind", &ProviderError{Kind: ErrProviderTransient, Err: cause}, "transient", genericFailureMessage, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ErrorKind(tc.err); got != tc.kind {
				t.Errorf("ErrorKind = %q, want %q", got, tc.kind)
			}
			if got := UserMessage(tc.err); got != tc.message {
				t.Errorf("UserMessage = %q, want %q", got, tc.message)
			}
			if got := IsTransient(tc.err); got != tc.transient {
				t.Errorf("IsTransient = %v, want %v", got, tc.transient)
			}
		})
	}
}

func TestProviderErrorKeepsCause(t *testing.T) {
	cause := errors.New("connection reset")
	err := &ProviderError{Kind: ErrProviderTransient, Message: genericFailureMessage, Err: cause}
	if !errors.Is(err, cause) || !errors.Is(err, ErrProviderTransient) {
		t.Fatal("kind and cause must both unwrap")
	}
	if errorCause(err) != cause {
		t.Fatal("errorCause should return the provider detail")
	}
	if err.Error() != genericFailureMessage {
		t.Fatalf("Error() leaked detail: %q", err.Error())
	}
}
