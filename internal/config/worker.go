package config

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// WorkerConfig describes one encoding node
type WorkerConfig struct {
	Name           string
	Host           string // address advertised to the master; the master prefers the observed one
	ListenPort     int
	MasterHost     string
	MasterPort     int
	Unid           string
	FFmpegPath     string
	Threads        int
	Codecs         []string
	StatusInterval time.Duration
	MasterTimeout  time.Duration
	ReconnectDelay time.Duration
	KillGrace      time.Duration
	EnvFile        string
}

const workerUnidKey = "WORKER_UNID"

func NewWorkerConfig() *WorkerConfig {
	host, _ := os.Hostname()
	return &WorkerConfig{
		Name:           getEnv("WORKER_NAME", host),
		Host:           getEnv("WORKER_HOST", ""),
		ListenPort:     getIntEnv("WORKER_PORT", 6001),
		MasterHost:     getEnv("MASTER_HOST", "localhost"),
		MasterPort:     getIntEnv("MASTER_PORT", 6000),
		Unid:           getEnv(workerUnidKey, ""),
		FFmpegPath:     getEnv("FFMPEG_PATH", "ffmpeg"),
		Threads:        getIntEnv("WORKER_THREADS", runtime.NumCPU()),
		Codecs:         splitList(getEnv("WORKER_CODECS", "")),
		StatusInterval: getSecondsEnv("STATUS_INTERVAL_SEC", 15),
		MasterTimeout:  getSecondsEnv("MASTER_TIMEOUT_SEC", 10),
		ReconnectDelay: getSecondsEnv("RECONNECT_DELAY_SEC", 5),
		KillGrace:      getSecondsEnv("KILL_GRACE_SEC", 5),
	}
}

// MasterAddr returns host:port of the master
func (c *WorkerConfig) MasterAddr() string {
	return fmt.Sprintf("%s:%d", c.MasterHost, c.MasterPort)
}

// SaveWorkerIdentity writes the unid assigned by the master back into the
// env file so the next start reconnects under the same identity.
func (c *WorkerConfig) SaveWorkerIdentity(unid string) error {
	c.Unid = unid
	if c.EnvFile == "" {
		return nil
	}
	values, err := godotenv.Read(c.EnvFile)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("failed to read %s: %w", c.EnvFile, err)
		}
		values = map[string]string{}
	}
	values[workerUnidKey] = unid
	if err := godotenv.Write(values, c.EnvFile); err != nil {
		return fmt.Errorf("failed to write %s: %w", c.EnvFile, err)
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
