package entity

import (
	"time"
)

// User is the aggregate root for the user domain.
// Password always holds a bcrypt hash, never the plaintext.
// VerificationToken and VerificationExpires are set only while the email is
// unverified; both are cleared on successful verification and never reused.
type User struct {
	ID                  string
	Name                string
	Email               string
	Password            string
	ProfileImageURL     string
	EmailVerified       bool
	VerificationToken   string
	VerificationExpires *time.Time
	SubscriptionPlan    string
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// Public is the subset of a User safe to return to clients.
type Public struct {
	ID               string    `json:"id"`
	Name             string    `json:"name"`
	Email            string    `json:"email"`
	ProfileImageURL  string    `json:"profile_image_url,omitempty"`
	EmailVerified    bool      `json:"email_verified"`
	SubscriptionPlan string    `json:"subscription_plan"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// ToPublic strips the password hash and verification token.
func (u *User) ToPublic() Public {
	return Public{
		ID:               u.ID,
		Name:             u.Name,
		Email:            u.Email,
		ProfileImageURL:  u.ProfileImageURL,
		EmailVerified:    u.EmailVerified,
		SubscriptionPlan: u.SubscriptionPlan,
		CreatedAt:        u.CreatedAt,
		UpdatedAt:        u.UpdatedAt,
	}
}
