package models

type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type LoginResponse struct {
	Token        string `json:"token"`
	RefreshToken string `json:"refreshToken"`
	UserType     string `json:"userType"`
	FullName     string `json:"fullName"`
}

// RegisterAdminRequest is the super-admin-only admin creation payload.
type RegisterAdminRequest struct {
	Email    string `json:"email" validate:"required,email"`
	FullName string `json:"fullName" validate:"required"`
	Password string `json:"password" validate:"required,min=8"`
	Role     string `json:"role,omitempty"`
}
