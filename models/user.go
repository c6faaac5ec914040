package models

import "time"

// User is the slice of the external user record the signaling core reads
// and writes: activation and online bookkeeping only.
type User struct {
	ID       string     `json:"id" gorm:"primaryKey"`
	Name     string     `json:"name"`
	Email    string     `json:"email"`
	IsActive bool       `json:"is_active" gorm:"default:true"`
	IsOnline bool       `json:"is_online" gorm:"default:false;index"`
	LastSeen *time.Time `json:"last_seen" gorm:"index"`
}

func (User) TableName() string {
	return "users"
}
