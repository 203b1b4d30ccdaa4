package invites

import (
	"time"

	"github.com/propview/viewings/backend/internal/records"
)

// Status enumerates the lifecycle of an invite.
type Status string

const (
	// StatusSendEmail marks a freshly created invite awaiting dispatch.
	StatusSendEmail Status = "send_email"
	// StatusInvited marks an invite whose confirmation email was dispatched.
	StatusInvited Status = "invited"
	// StatusAccepted marks an invite confirmed by the lead.
	StatusAccepted Status = "accepted"
	// StatusAttended marks a lead who showed up, set administratively.
	StatusAttended Status = "attended"
	// StatusDidNotShow marks an invited lead who never confirmed or attended.
	StatusDidNotShow Status = "did_not_show"
)

// legalNext captures the forward transitions of the state machine. The public
// confirmation path never skips a state.
var legalNext = map[Status][]Status{
	StatusSendEmail: {StatusInvited},
	StatusInvited:   {StatusAccepted, StatusDidNotShow},
	StatusAccepted:  {StatusAttended},
}

// Valid reports whether the value is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusSendEmail, StatusInvited, StatusAccepted, StatusAttended, StatusDidNotShow:
		return true
	}
	return false
}

// CanAdvance reports whether moving from s to next is a legal forward
// transition.
func (s Status) CanAdvance(next Status) bool {
	for _, allowed := range legalNext[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Invite is the join record tracking one lead's status relative to one
// viewing. The (viewing_id, lead_id) pair is the primary key, so a pair can
// never be invited twice. Rows cascade away with either parent.
type Invite struct {
	ViewingID string `gorm:"column:viewing_id;primaryKey;size:64" json:"viewing_id"`
	LeadID    string `gorm:"column:lead_id;primaryKey;size:64" json:"lead_id"`
	Status    Status `gorm:"column:status;not null;default:send_email" json:"status"`

	Viewing records.Viewing `gorm:"foreignKey:ViewingID;constraint:OnDelete:CASCADE" json:"-"`
	Lead    records.Lead    `gorm:"foreignKey:LeadID;constraint:OnDelete:CASCADE" json:"-"`
}

// TableName provides the explicit table binding for GORM.
func (Invite) TableName() string {
	return "property_invites"
}

// Summary is the per-lead status slice returned to the dashboard.
type Summary struct {
	LeadID string `json:"lead_id"`
	Status Status `json:"status"`
}

// Detail joins an invite with both parents, as rendered into the
// confirmation email and its preview.
type Detail struct {
	FirstName   string    `json:"first_name"`
	LastName    string    `json:"last_name"`
	Email       string    `json:"email"`
	ViewingName string    `json:"viewing_name"`
	Location    string    `json:"location"`
	DateAndTime time.Time `json:"date_and_time"`
}
