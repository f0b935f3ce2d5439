package realtime

import (
	"pulse/cmd/internal/apps"
	v1 "pulse/shared/contracts/pusher/v1"
)

// The checks below are pure: they read the app snapshot and the request, and
// return the first violation found or nil (allowed). They never touch registry state.

// CheckChannelName rejects names longer than ChannelLimits.MaxNameLength.
func CheckChannelName(app apps.App, channel string) *LimitViolation {
	if max := app.ChannelLimits.MaxNameLength; max > 0 && len(channel) > max {
		return subscriptionLimit(v1.CodeChannelNameTooLong,
			"The channel name is longer than the allowed %d characters.", max)
	}
	return nil
}

// CheckClientEvent evaluates, in order: client messaging enabled, event name
// length, payload size.
func CheckClientEvent(app apps.App, event string, payload []byte) *LimitViolation {
	if !app.EnableClientMessages {
		return clientEventRejected("The app does not have client messaging enabled.")
	}
	if max := app.EventLimits.MaxNameLength; max > 0 && len(event) > max {
		return clientEventRejected("Event name is too long. Maximum allowed size is %d.", max)
	}
	if max := app.EventLimits.MaxPayloadInKB; max > 0 && kilobytes(len(payload)) > max {
		return clientEventRejected("The event data should be less than %s KB.", formatKB(max))
	}
	return nil
}

// CheckPresenceMember evaluates, in order: member payload size, then member count.
// A user already present in the roster (another device) bypasses the count limit.
func CheckPresenceMember(app apps.App, m Member, members int, known bool) *LimitViolation {
	if max := app.PresenceLimits.MaxMemberSizeInKB; max > 0 && kilobytes(m.sizeBytes()) > max {
		return subscriptionLimit(v1.CodeClientEventRejected,
			"The maximum size for a channel member is %s KB.", formatKB(max))
	}
	if max := app.PresenceLimits.MaxMembersPerChannel; max > 0 && !known && members >= max {
		return subscriptionLimit(v1.CodeMemberLimitReached,
			"The maximum members per presence channel limit was reached")
	}
	return nil
}

func kilobytes(n int) float64 { return float64(n) / 1024 }
