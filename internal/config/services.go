package config

import (
	"time"
)

// ScheduleSvcCfg drives the master's background tickers
type ScheduleSvcCfg struct {
	ReevaluateInterval time.Duration
	CheckNodesInterval time.Duration
	CheckpointInterval time.Duration
}

func NewScheduleSvcCfg() *ScheduleSvcCfg {
	return &ScheduleSvcCfg{
		ReevaluateInterval: getSecondsEnv("REEVALUATE_INTERVAL_SEC", 30),
		CheckNodesInterval: getSecondsEnv("CHECK_NODES_INTERVAL_SEC", 60),
		CheckpointInterval: getSecondsEnv("CHECKPOINT_INTERVAL_SEC", 120),
	}
}
