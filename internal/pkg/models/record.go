package models

import "time"

// SessionRecord is the persisted audit entry of one controller/target pairing
type SessionRecord struct {
	ID           string     `json:"id" gorm:"type:varchar(36);primaryKey"`
	ControllerID string     `json:"controller_id" gorm:"type:varchar(64);index;not null"`
	TargetID     string     `json:"target_id" gorm:"type:varchar(64);index;not null"`
	ControllerIP string     `json:"controller_ip" gorm:"type:varchar(64)"`
	StartedAt    time.Time  `json:"started_at"`
	EndedAt      *time.Time `json:"ended_at,omitempty"`
	EndedBy      string     `json:"ended_by,omitempty" gorm:"type:varchar(64)"`
}

// Active reports whether the session has not ended yet
func (r *SessionRecord) Active() bool {
	return r.EndedAt == nil
}

// ConnectAttempt records one connect-request and its outcome
type ConnectAttempt struct {
	ID           uint      `json:"id" gorm:"primaryKey;autoIncrement"`
	ControllerID string    `json:"controller_id" gorm:"type:varchar(64);index"`
	TargetID     string    `json:"target_id" gorm:"type:varchar(64);index"`
	RemoteIP     string    `json:"remote_ip" gorm:"type:varchar(64)"`
	Success      bool      `json:"success"`
	Reason       string    `json:"reason" gorm:"type:varchar(128)"`
	CreatedAt    time.Time `json:"created_at"`
}
