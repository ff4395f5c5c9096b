package models

import "strings"

const (
	RoleInvestor = "investor"
	RoleStartup  = "startup"
)

// User is the subset of the platform user record this service reads.
type User struct {
	ID        int64  `json:"id"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Email     string `json:"email"`
}

func (u *User) DisplayName() string {
	name := strings.TrimSpace(u.FirstName + " " + u.LastName)
	if name == "" {
		return u.Email
	}
	return name
}

type StartupProfile struct {
	ID     int64  `json:"id"`
	UserID int64  `json:"user_id"`
	Name   string `json:"name"`
}

type InvestorProfile struct {
	ID     int64 `json:"id"`
	UserID int64 `json:"user_id"`
}

type Project struct {
	ID        int64  `json:"id"`
	StartupID int64  `json:"startup_id"`
	Title     string `json:"title"`
}
