package jwt

type Role int

type TokenResponse struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken,omitempty"`
}

type Agent struct {
	Id    string `json:"id"`
	Email string `json:"email"`
}
