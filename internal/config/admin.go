package config

// AdminConfig is the single operator credential for the admin API.
// PasswordHash is a bcrypt hash; a plain Password is hashed at startup
// when no hash is configured.
type AdminConfig struct {
	Username     string
	PasswordHash string
	Password     string
}

func NewAdminConfig() *AdminConfig {
	return &AdminConfig{
		Username:     getEnv("ADMIN_USERNAME", "admin"),
		PasswordHash: getEnv("ADMIN_PASSWORD_HASH", ""),
		Password:     getEnv("ADMIN_PASSWORD", ""),
	}
}
