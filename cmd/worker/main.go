package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"gitlab.com/encodefarm.net/internal/adapter/encoder"
	"gitlab.com/encodefarm.net/internal/adapter/logging"
	"gitlab.com/encodefarm.net/internal/config"
	"gitlab.com/encodefarm.net/internal/core/services/worker"
	"gitlab.com/encodefarm.net/internal/tcp"
	"gitlab.com/encodefarm.net/internal/tcp/handlers"
	"gitlab.com/encodefarm.net/internal/tcp/publishers"
)

var (
	envFile    string
	name       string
	listenPort int
	masterHost string
	masterPort int
	threads    int
	codecs     string
	ffmpegPath string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "encodefarm-worker",
	Short: "Encoding node for an encodefarm master",
	Example: `  # connect to a master on another host
  encodefarm-worker --master-host encoder-master --master-port 6000

  # keep the assigned identity in worker.env across restarts
  encodefarm-worker --env-file worker.env --threads 4 --codecs H264,AAC,FLAC`,
	SilenceUsage: true,
	RunE:         runWorker,
}

func init() {
	rootCmd.Flags().StringVar(&envFile, "env-file", "", "env file to load; the assigned node id is written back to it")
	rootCmd.Flags().StringVar(&name, "name", "", "node name shown on the master")
	rootCmd.Flags().IntVar(&listenPort, "port", 6001, "port the master reaches this node on")
	rootCmd.Flags().StringVar(&masterHost, "master-host", "localhost", "master host")
	rootCmd.Flags().IntVar(&masterPort, "master-port", 6000, "master port")
	rootCmd.Flags().IntVar(&threads, "threads", 0, "audio slots; defaults to the CPU count")
	rootCmd.Flags().StringVar(&codecs, "codecs", "", "comma separated codecs this node encodes; defaults to all")
	rootCmd.Flags().StringVar(&ffmpegPath, "ffmpeg", "", "path to the ffmpeg binary")
	rootCmd.Flags().StringVar(&logLevel, "log-level", "", "debug, info, warn or error")
	rootCmd.CompletionOptions.DisableDefaultCmd = true
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runWorker(cmd *cobra.Command, args []string) error {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("failed to load %s: %w", envFile, err)
		}
	}

	cfg := config.NewWorkerConfig()
	cfg.EnvFile = envFile
	applyFlags(cmd, cfg)

	logCfg := config.NewLogConfig()
	if logLevel != "" {
		logCfg.Level = logLevel
	}
	logger := logging.NewZapLogger(logCfg)
	defer logger.Sync()

	if _, err := net.LookupHost(cfg.MasterHost); err != nil {
		return fmt.Errorf("cannot resolve master host %q: %w", cfg.MasterHost, err)
	}

	master := publishers.NewMasterClient(cfg.MasterAddr(), cfg.MasterTimeout, logger)
	converter := encoder.NewFFmpegConverter(cfg.FFmpegPath, cfg.KillGrace, logger)
	agent := worker.NewAgent(cfg, master, converter, logger, worker.WithIdentityStore(cfg.SaveWorkerIdentity))

	tcpServer := tcp.NewTCPServer(handlers.WorkerHandlers(agent, logger), logger, tcp.WithAddress(fmt.Sprintf(":%d", cfg.ListenPort)))
	if err := tcpServer.Start(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("Starting encoding node", "name", cfg.Name, "master", cfg.MasterAddr(), "port", cfg.ListenPort)
	runErr := agent.Run(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := tcpServer.Stop(shutdownCtx); err != nil {
		logger.Error("TCP server forced to shutdown", "error", err)
	}
	logger.Info("Encoding node stopped")
	return runErr
}

// applyFlags lets explicitly set flags win over the environment
func applyFlags(cmd *cobra.Command, cfg *config.WorkerConfig) {
	flags := cmd.Flags()
	if flags.Changed("name") {
		cfg.Name = name
	}
	if flags.Changed("port") {
		cfg.ListenPort = listenPort
	}
	if flags.Changed("master-host") {
		cfg.MasterHost = masterHost
	}
	if flags.Changed("master-port") {
		cfg.MasterPort = masterPort
	}
	if flags.Changed("threads") && threads > 0 {
		cfg.Threads = threads
	}
	if flags.Changed("codecs") {
		cfg.Codecs = strings.Split(codecs, ",")
	}
	if flags.Changed("ffmpeg") {
		cfg.FFmpegPath = ffmpegPath
	}
}
