package model

// UnknownUserName is shown when a counterpart profile cannot be loaded.
const UnknownUserName = "Unknown User"

// Profile is the display subset of a user profile.
type Profile struct {
	ID        string `json:"id"`
	FullName  string `json:"full_name,omitempty"`
	Email     string `json:"email,omitempty"`
	AvatarURL string `json:"avatar_url,omitempty"`
}

// PlaceholderProfile is used when the profile lookup fails.
func PlaceholderProfile(userID string) Profile {
	return Profile{ID: userID, FullName: UnknownUserName}
}

// DisplayName prefers the full name, then the email.
func (p Profile) DisplayName() string {
	switch {
	case p.FullName != "":
		return p.FullName
	case p.Email != "":
		return p.Email
	default:
		return "User"
	}
}
