package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/jmoiron/sqlx"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"

	"gitlab.com/encodefarm.net/internal/adapter/crypto"
	"gitlab.com/encodefarm.net/internal/adapter/logging"
	"gitlab.com/encodefarm.net/internal/adapter/postgres/jobrepository"
	"gitlab.com/encodefarm.net/internal/adapter/redis/nodeport"
	"gitlab.com/encodefarm.net/internal/config"
	"gitlab.com/encodefarm.net/internal/core/ports/secondary"
	auth2 "gitlab.com/encodefarm.net/internal/core/services/auth"
	"gitlab.com/encodefarm.net/internal/core/services/coordinator"
	"gitlab.com/encodefarm.net/internal/core/services/job"
	"gitlab.com/encodefarm.net/internal/core/services/registry"
	"gitlab.com/encodefarm.net/internal/core/services/schedule"
	http2 "gitlab.com/encodefarm.net/internal/http"
	"gitlab.com/encodefarm.net/internal/schedulerengine"
	"gitlab.com/encodefarm.net/internal/tcp"
	"gitlab.com/encodefarm.net/internal/tcp/handlers"
	"gitlab.com/encodefarm.net/internal/tcp/publishers"
)

func main() {
	InitReader()
	// Set up graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	sysCfg := config.NewSystemConfig()
	logger := logging.NewZapLogger(sysCfg.LogConfig)
	defer logger.Sync()
	logger.Info("Starting encoding master")

	ctxBg, cancel := context.WithCancel(context.Background())
	defer cancel()

	// SECONDARY PORTS
	var (
		nodeRepo secondary.NodeRepository
		jobRepo  secondary.JobRepository
	)
	if sysCfg.Persistence {
		db, err := setupDatabase(sysCfg.PostgresConfig)
		if err != nil {
			logger.Error("Failed to set up database", "error", err)
			os.Exit(1)
		}
		defer db.Close()

		redisClient := redis.NewClient(&redis.Options{
			Addr:     sysCfg.RedisConfig.Url,
			Password: sysCfg.RedisConfig.Password,
			DB:       sysCfg.RedisConfig.DB,
		})
		defer redisClient.Close()

		jobs := jobrepository.NewJobRepository(db, logger)
		if err := jobs.Migrate(ctxBg); err != nil {
			logger.Error("Failed to migrate job tables", "error", err)
			os.Exit(1)
		}
		jobRepo = jobs
		nodeRepo = nodeport.NewNodeRepository(redisClient, logger)
	}

	//primary ports
	jwtProvider := crypto.NewJWTService(sysCfg.JwtConfig)

	//services
	nodes := registry.NewNodeRegistry(logger)
	scheduler := schedule.NewSchedulerService(nodes, logger)
	dispatcher := publishers.NewTaskDispatcher(sysCfg.Master.DispatchTimeout, logger)
	coord := coordinator.NewMasterCoordinator(nodes, scheduler, dispatcher, nodeRepo, jobRepo, sysCfg.Master, logger)
	if err := coord.Restore(ctxBg); err != nil {
		logger.Error("Failed to restore checkpoint", "error", err)
	}

	jobSvc := job.NewJobService(coord, logger)
	localAuth, err := auth2.NewLocalAuthService(ctxBg, sysCfg.AdminConfig, jwtProvider, logger)
	if err != nil {
		logger.Error("Failed to set up admin auth", "error", err)
		os.Exit(1)
	}
	serviceProvider := http2.NewServiceProvider(coord, jobSvc, localAuth, jwtProvider)

	//server
	tcpServer := tcp.NewTCPServer(handlers.MasterHandlers(coord, logger), logger, tcp.WithAddress(sysCfg.Master.ListenAddr))
	httServer := http2.NewServer(sysCfg.Master.AdminPort, "encodefarm", *serviceProvider, logger)
	if err := httServer.Init(); err != nil {
		panic(err)
	}
	serveErrs := make(chan error, 1)
	httServer.Start(ctxBg, serveErrs)
	if err := tcpServer.Start(); err != nil {
		logger.Error("Failed to start TCP server", "error", err)
		os.Exit(1)
	}

	engine := schedulerengine.NewSchedulerEngine(sysCfg.ScheduleSvcCfg, coord, logger)
	if !sysCfg.DebugMode {
		engine.StartJobScheduleEngine(ctxBg)
	}

	select {
	case <-quit:
	case err := <-serveErrs:
		logger.Error("Admin server stopped", "error", err)
	}
	logger.Info("Shutting down server...")

	cancel()
	ctx, cacel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cacel()
	if err := httServer.Stop(ctx); err != nil {
		logger.Error("Admin server forced to shutdown", "error", err)
	}
	if err := tcpServer.Stop(ctx); err != nil {
		logger.Error("TCP server forced to shutdown", "error", err)
	}
	engine.Wait()
	coord.WaitDispatches()
	if err := coord.Checkpoint(ctx); err != nil {
		logger.Error("Final checkpoint failed", "error", err)
	}

	logger.Info("successfully shutdown server")
}

// setupDatabase sets up the PostgreSQL connection
func setupDatabase(cfg *config.PostgresConfig) (*sqlx.DB, error) {
	db, err := sqlx.Open("postgres", cfg.Url)
	if err != nil {
		return nil, err
	}

	// Test the connection
	if err := db.Ping(); err != nil {
		return nil, err
	}

	return db, nil
}

// InitReader loads <env>.env named by the first argument
func InitReader() {
	environment := ""
	if len(os.Args) < 2 {
		log.Fatalf("Env not supplied in argument")
	} else {
		environment = os.Args[1]
	}

	err := godotenv.Load(environment + ".env")
	if err != nil {
		log.Fatalf("Error loading %s.env file", environment)
	}
}
