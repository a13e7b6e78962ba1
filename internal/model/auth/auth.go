package auth

// Credentials is the body of a login call.
type Credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Profile is returned by a successful login and kept for the session.
type Profile struct {
	Token string `json:"token"`
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone,omitempty"`
}

// User is a backend account.
type User struct {
	Username     string
	PasswordHash []byte
	Name         string
	Email        string
	Phone        string
}

// ProfileKey is the session-storage key of the logged-in profile.
const ProfileKey = "nova.auth.profile"
