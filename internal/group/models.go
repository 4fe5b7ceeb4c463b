package group

import "time"

const (
	RoleAdmin  = "admin"
	RoleMember = "member"

	StatusPending  = "pending"
	StatusApproved = "approved"
)

type Group struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedBy string    `json:"createdBy"`
	CreatedAt time.Time `json:"createdAt"`
}

type Member struct {
	GroupID     string    `json:"groupId"`
	UserID      string    `json:"userId"`
	DisplayName string    `json:"displayName,omitempty"`
	Role        string    `json:"role"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"createdAt"`
}
