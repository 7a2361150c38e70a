package domain

// PermissionAdmin grants every admin API route
const PermissionAdmin = "encodefarm.admin"

type AuthPayload struct {
	Username   string   `json:"username"`
	Permission []string `json:"permission"`
}

// Can reports whether the payload carries permission p
func (a AuthPayload) Can(p string) bool {
	for _, have := range a.Permission {
		if have == p {
			return true
		}
	}
	return false
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	Token     string `json:"token"`
	ExpiresAt int64  `json:"expires_at"`
}
