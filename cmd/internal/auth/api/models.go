package authapi

// loginRequest authenticates with either a username/password pair or a
// third-party authorization code, never both.
type loginRequest struct {
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
	Code     string `json:"code,omitempty"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token,omitempty"`
}

// sessionResponse carries the issued token pair. Expiries are epoch
// milliseconds. RefreshToken is blanked when the cookie transport is on.
type sessionResponse struct {
	AccessToken     string `json:"access_token"`
	AccessExpiresAt int64  `json:"access_expires_at_ms"`

	RefreshToken     string `json:"refresh_token,omitempty"`
	RefreshExpiresAt int64  `json:"refresh_expires_at_ms"`
}

type principalResponse struct {
	ID          string   `json:"id"`
	DisplayName string   `json:"display_name,omitempty"`
	Roles       []string `json:"roles,omitempty"`
}

type loginResponse struct {
	Principal principalResponse `json:"principal"`
	Session   sessionResponse   `json:"session"`
}

type refreshResponse struct {
	Session sessionResponse `json:"session"`
}

type meResponse struct {
	Principal principalResponse `json:"principal"`
	Anonymous bool              `json:"anonymous,omitempty"`
}
