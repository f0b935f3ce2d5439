package realtime

import (
	"encoding/json"
	"sort"

	v1 "pulse/shared/contracts/pusher/v1"

	"github.com/samber/lo"
)

// Member is the presence identity a connection holds on one channel.
type Member struct {
	UserID   string
	UserInfo json.RawMessage
}

// ParseMember decodes the channel_data of a presence subscribe.
func ParseMember(channelData string) (Member, error) {
	var cd v1.ChannelData
	if err := json.Unmarshal([]byte(channelData), &cd); err != nil {
		return Member{}, err
	}
	if cd.UserID == "" {
		return Member{}, errMissingUserID
	}
	return Member{UserID: string(cd.UserID), UserInfo: cd.UserInfo}, nil
}

// payload is the member_added / member_removed body.
func (m Member) payload(withInfo bool) v1.MemberPayload {
	p := v1.MemberPayload{UserID: m.UserID}
	if withInfo {
		p.UserInfo = m.UserInfo
	}
	return p
}

// sizeBytes is the serialized size counted against the member size limit.
func (m Member) sizeBytes() int {
	b, err := json.Marshal(m.payload(true))
	if err != nil {
		return len(m.UserID) + len(m.UserInfo)
	}
	return len(b)
}

// roster is the presence extension of a channel.
//
// Members are keyed by user id; a user may hold several connections (devices).
// The member count is the number of distinct users. Guarded by the owning channel's mu.
type roster struct {
	bySocket map[string]string // socket id -> user id
	users    map[string]*presenceUser
}

type presenceUser struct {
	info  json.RawMessage
	conns int
}

func newRoster() *roster {
	return &roster{
		bySocket: make(map[string]string),
		users:    make(map[string]*presenceUser),
	}
}

func (r *roster) count() int { return len(r.users) }

func (r *roster) hasUser(userID string) bool {
	_, ok := r.users[userID]
	return ok
}

// join records m for socketID. It returns true when m.UserID is new to the roster.
// The latest join wins for user info.
func (r *roster) join(socketID string, m Member) bool {
	if prev, ok := r.bySocket[socketID]; ok {
		if prev == m.UserID {
			r.users[prev].info = m.UserInfo
			return false
		}
		r.leave(socketID)
	}

	r.bySocket[socketID] = m.UserID
	u, ok := r.users[m.UserID]
	if !ok {
		r.users[m.UserID] = &presenceUser{info: m.UserInfo, conns: 1}
		return true
	}
	u.info = m.UserInfo
	u.conns++
	return false
}

// leave removes socketID's member record. gone is true when the user's last
// connection left the roster.
func (r *roster) leave(socketID string) (m Member, gone bool) {
	userID, ok := r.bySocket[socketID]
	if !ok {
		return Member{}, false
	}
	delete(r.bySocket, socketID)

	u := r.users[userID]
	m = Member{UserID: userID, UserInfo: u.info}
	u.conns--
	if u.conns > 0 {
		return m, false
	}
	delete(r.users, userID)
	return m, true
}

// ids returns the user ids in the roster, sorted.
func (r *roster) ids() []string {
	ids := lo.Keys(r.users)
	sort.Strings(ids)
	return ids
}

// snapshot renders the roster as carried by subscription_succeeded.
func (r *roster) snapshot() v1.PresenceData {
	hash := lo.MapValues(r.users, func(u *presenceUser, _ string) json.RawMessage {
		if len(u.info) == 0 {
			return json.RawMessage("null")
		}
		return u.info
	})
	return v1.PresenceData{IDs: r.ids(), Hash: hash, Count: len(r.users)}
}

// members returns the roster as Member values sorted by user id.
func (r *roster) members() []Member {
	return lo.Map(r.ids(), func(id string, _ int) Member {
		return Member{UserID: id, UserInfo: r.users[id].info}
	})
}
