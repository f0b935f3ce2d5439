package realtime

import (
	"errors"
	"fmt"

	"pulse/cmd/internal/apps"
	"pulse/cmd/security/signature"
)

// AuthVerifier authorizes private and presence subscriptions before they reach the Router.
type AuthVerifier interface {
	VerifySubscription(app apps.App, socketID, channel, auth, channelData string) error
}

// HMACVerifier checks the signature an app backend issues from its secret.
type HMACVerifier struct{}

// VerifySubscription returns an error wrapping ErrUnauthorized on any mismatch.
// channel_data only takes part in the signature for presence channels.
func (HMACVerifier) VerifySubscription(app apps.App, socketID, channel, auth, channelData string) error {
	if auth == "" {
		return fmt.Errorf("%w: missing auth", ErrUnauthorized)
	}
	if KindOf(channel) != KindPresence {
		channelData = ""
	}
	if err := signature.VerifyChannelAuth(app.Key, app.Secret, auth, socketID, channel, channelData); err != nil {
		return errors.Join(ErrUnauthorized, err)
	}
	return nil
}
