package config

// LogConfig selects level, encoding and sink of the zap logger
type LogConfig struct {
	Level      string // debug, info, warn, error
	Format     string // json, console
	Output     string // stdout, file, both
	FilePath   string
	MaxSize    int // MB
	MaxBackups int
	MaxAge     int // days
}

func NewLogConfig() *LogConfig {
	return &LogConfig{
		Level:      getEnv("LOG_LEVEL", "info"),
		Format:     getEnv("LOG_FORMAT", "json"),
		Output:     getEnv("LOG_OUTPUT", "stdout"),
		FilePath:   getEnv("LOG_FILE", ""),
		MaxSize:    getIntEnv("LOG_MAX_SIZE_MB", 100),
		MaxBackups: getIntEnv("LOG_MAX_BACKUPS", 5),
		MaxAge:     getIntEnv("LOG_MAX_AGE_DAYS", 30),
	}
}
