package records

import (
	"errors"
	"time"
)

// ErrNotFound indicates that an edit or delete matched no persisted row.
var ErrNotFound = errors.New("records: row not found")

// Viewing models a scheduled property showing with a capacity cap. The
// attending counter is mutated only by the confirmation protocol; the
// 0 <= attending <= max_attendees invariant is enforced by the conditional
// update statement, never by application reads.
type Viewing struct {
	ID           string    `gorm:"column:id;primaryKey;size:64" json:"id"`
	Name         string    `gorm:"column:name" json:"name"`
	Location     string    `gorm:"column:location" json:"location"`
	DateAndTime  time.Time `gorm:"column:date_and_time" json:"date_and_time"`
	MaxAttendees int       `gorm:"column:max_attendees;not null" json:"max_attendees"`
	Attending    int       `gorm:"column:attending;not null;default:0" json:"attending"`
}

// TableName provides the explicit table binding for GORM.
func (Viewing) TableName() string {
	return "property_viewings"
}

// Lead models a prospective attendee.
type Lead struct {
	ID        string `gorm:"column:id;primaryKey;size:64" json:"id"`
	FirstName string `gorm:"column:first_name" json:"first_name"`
	LastName  string `gorm:"column:last_name" json:"last_name"`
	Email     string `gorm:"column:email" json:"email"`
}

// TableName provides the explicit table binding for GORM.
func (Lead) TableName() string {
	return "property_leads"
}
