package backend

// Roles that grant privileged access.
const (
	RoleAdmin = "admin"
	RoleUser  = "user"
)

// Profile is the current user as returned by GET /api/v1/auth/me.
type Profile struct {
	ID          string `json:"id"`
	Email       string `json:"email"`
	FullName    string `json:"full_name,omitempty"`
	Role        string `json:"role"`
	IsActive    bool   `json:"is_active"`
	IsSuperuser bool   `json:"is_superuser"`
}

// IsPrivileged reports whether the user is an administrator or superuser.
func (p *Profile) IsPrivileged() bool {
	return p != nil && (p.Role == RoleAdmin || p.IsSuperuser)
}

// DisplayName returns the full name, falling back to the email address.
func (p *Profile) DisplayName() string {
	if p == nil {
		return ""
	}
	if p.FullName != "" {
		return p.FullName
	}
	return p.Email
}

// Credentials is the login request body.
type Credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// RegisterRequest is the account creation request body.
type RegisterRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	FullName string `json:"full_name,omitempty"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}
