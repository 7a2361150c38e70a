package config

import "time"

type AppConfig struct {
	DebugMode      bool
	Persistence    bool
	Master         *MasterConfig
	ScheduleSvcCfg *ScheduleSvcCfg
	RedisConfig    *RedisConfig
	PostgresConfig *PostgresConfig
	JwtConfig      *JwtConfig
	AdminConfig    *AdminConfig
	LogConfig      *LogConfig
}

func NewSystemConfig() *AppConfig {
	return &AppConfig{
		DebugMode:      getBoolEnv("DEBUG_MODE", false),
		Persistence:    getBoolEnv("PERSISTENCE_ENABLED", true),
		Master:         NewMasterConfig(),
		ScheduleSvcCfg: NewScheduleSvcCfg(),
		RedisConfig:    NewRedisConfig(),
		PostgresConfig: NewPostgresConfig(),
		JwtConfig:      NewJwtConfig(),
		AdminConfig:    NewAdminConfig(),
		LogConfig:      NewLogConfig(),
	}
}

// MasterConfig holds the master's listeners and network timeouts
type MasterConfig struct {
	ListenAddr      string
	AdminPort       int
	DispatchTimeout time.Duration
}

func NewMasterConfig() *MasterConfig {
	return &MasterConfig{
		ListenAddr:      getEnv("MASTER_LISTEN_ADDR", ":6000"),
		AdminPort:       getIntEnv("ADMIN_PORT", 8082),
		DispatchTimeout: getSecondsEnv("DISPATCH_TIMEOUT_SEC", 10),
	}
}
