package dto

type RegisterDTO struct {
	Username string `form:"username" json:"username" validate:"required,alphanum,min=3,max=20"`
	Email    string `form:"email"    json:"email"    validate:"required,email"`
	Password string `form:"password" json:"password" validate:"required,strongpwd"`
	FullName string `form:"fullName" json:"fullName" validate:"max=64"`

	// Filled by the transport layer from the multipart upload, never
	// bound from the client directly.
	AvatarLocalPath     string `form:"-" json:"-" validate:"required"`
	CoverImageLocalPath string `form:"-" json:"-"`
}

type LoginDTO struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password" validate:"required"`
}

type RefreshDTO struct {
	RefreshToken string `json:"refreshToken"`
}

type ChangePasswordDTO struct {
	OldPassword string `json:"oldPassword" validate:"required"`
	NewPassword string `json:"newPassword" validate:"required,strongpwd"`
}

type UpdateAccountDTO struct {
	FullName string `json:"fullName" validate:"required,max=64"`
	Email    string `json:"email"    validate:"required,email"`
}
