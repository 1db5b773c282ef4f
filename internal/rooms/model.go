package rooms

import (
	"time"

	"roomleader/internal/db"
	"roomleader/internal/session"
)

type Member struct {
	UserID      string
	DisplayName string
	AvatarRef   string
	Role        string
}

// CanManage reports whether the member may drive the election.
func (m Member) CanManage() bool {
	return m.Role == db.RoleHost || m.Role == db.RoleLeader
}

type Room struct {
	ID        string
	Stage     string
	Members   []Member
	FetchedAt time.Time
}

func (r *Room) Member(userID string) (Member, bool) {
	for _, m := range r.Members {
		if m.UserID == userID {
			return m, true
		}
	}
	return Member{}, false
}

func (r *Room) Electing() bool {
	return r.Stage == db.StageElectingLeader
}

// Participants converts the member list into the roster snapshot an
// election session keeps.
func (r *Room) Participants() []session.Participant {
	out := make([]session.Participant, 0, len(r.Members))
	for _, m := range r.Members {
		out = append(out, session.Participant{
			UserID:      m.UserID,
			DisplayName: m.DisplayName,
			AvatarRef:   m.AvatarRef,
		})
	}
	return out
}
