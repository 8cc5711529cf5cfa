package main

import (
	"context"
	"errors"
	"io"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/natefinch/lumberjack"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"gathering-service/internal/clock"
	"gathering-service/internal/config"
	"gathering-service/internal/db"
	"gathering-service/internal/directory"
	"gathering-service/internal/gathering"
	"gathering-service/internal/handlers"
	"gathering-service/internal/middleware"
	"gathering-service/internal/observability"
	"gathering-service/internal/rabbitmq"
	"gathering-service/internal/repositories"
	"gathering-service/internal/sweeper"
	"gathering-service/internal/telemetry"
	"gathering-service/internal/ws"
)

type store interface {
	repositories.GatheringRepository
	repositories.GatheringMessageRepository
}

type storeBundle struct {
	repositories.GatheringRepository
	repositories.GatheringMessageRepository
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if cfg.LogFile != "" {
		log.SetOutput(io.MultiWriter(os.Stdout, &lumberjack.Logger{
			Filename:   cfg.LogFile,
			MaxSize:    50,
			MaxBackups: 5,
			MaxAge:     14,
		}))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.SetupTracing(ctx, cfg.ServiceName, cfg.OTLPEndpoint)
	if err != nil {
		log.Printf("tracing disabled: %v", err)
	}

	var (
		gatherings store
		names      *directory.Cache
	)
	switch cfg.Store {
	case "memory":
		gatherings = repositories.NewMemoryStore()
		names = directory.NewCache(nil)
	default:
		database, err := db.Connect(ctx, cfg.DSN)
		if err != nil {
			log.Fatalf("failed to connect to db: %v", err)
		}
		defer database.Close()
		gatherings = storeBundle{
			GatheringRepository:        repositories.NewGatheringRepo(database),
			GatheringMessageRepository: repositories.NewGatheringMessageRepo(database),
		}
		names = directory.NewCache(directory.NewSQLDirectory(database))
	}

	publisher := rabbitmq.NewPublisher(cfg.AMQPURL, cfg.AMQPExchange)
	defer publisher.Close()
	log.Printf("amqp publisher: mode=%s reason=%s", rabbitmq.PublisherMode(publisher), rabbitmq.PublisherNoopReason(publisher))
	observability.SetPublisher(publisher)
	audit := telemetry.NewAuditEmitter(publisher, cfg.AuditRouting, cfg.ServiceName, cfg.Environment)
	events := telemetry.NewEventEmitter(publisher, cfg.ServiceName)

	hub := ws.NewHub()
	coordinator := gathering.NewCoordinator(gatherings, gatherings, names, hub, events, clock.System{})
	verifier := middleware.NewVerifier(cfg.JWTSecret)

	gatheringHandler := handlers.NewGatheringHandler(coordinator, names, audit)
	gatheringWS := ws.NewGatheringWebSocketHandler(hub, coordinator, verifier, names)

	router := gin.New()
	router.Use(gin.Logger(), gin.Recovery())
	router.Use(otelgin.Middleware(cfg.ServiceName))
	router.Use(middleware.RequestID())
	router.Use(observability.HTTPMetricsMiddleware())

	router.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	router.GET("/metrics", observability.MetricsHandler())
	router.GET("/ws/gatherings", gatheringWS.Handle)

	api := router.Group("/gatherings", middleware.AuthMiddleware(verifier, names))
	api.POST("", gatheringHandler.CreateGathering)
	api.GET("", gatheringHandler.ListGatherings)
	api.GET("/:id", gatheringHandler.GetGathering)
	api.DELETE("/:id", gatheringHandler.DeleteGathering)
	api.POST("/:id/join", gatheringHandler.JoinGathering)
	api.POST("/:id/leave", gatheringHandler.LeaveGathering)
	api.POST("/:id/kick", gatheringHandler.KickParticipant)
	api.POST("/:id/acknowledge-kick", gatheringHandler.AcknowledgeKick)
	api.POST("/:id/acknowledge-delete", gatheringHandler.AcknowledgeDelete)
	api.GET("/:id/messages", gatheringHandler.GetMessages)
	api.POST("/:id/messages", gatheringHandler.PostMessage)

	handlers.RegisterDebugRoutes(router, audit, hub, cfg.DebugRoutes)

	httpServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	grpcServer := grpc.NewServer(
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.UnaryInterceptor(observability.GRPCServerMetricsUnaryInterceptor()),
	)
	healthServer := health.NewServer()
	healthServer.SetServingStatus(cfg.ServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(grpcServer, healthServer)

	sweep := sweeper.New(gatherings, clock.System{}, events, cfg.SweepInterval, cfg.Retention)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Printf("http listening on :%s", cfg.Port)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		lis, err := net.Listen("tcp", ":"+cfg.GRPCPort)
		if err != nil {
			return err
		}
		log.Printf("grpc health listening on :%s", cfg.GRPCPort)
		return grpcServer.Serve(lis)
	})
	g.Go(func() error {
		return sweep.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		healthServer.Shutdown()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		grpcServer.GracefulStop()
		err := httpServer.Shutdown(shutdownCtx)
		if terr := shutdownTracing(shutdownCtx); terr != nil {
			log.Printf("tracing shutdown: %v", terr)
		}
		return err
	})

	if err := g.Wait(); err != nil {
		log.Fatalf("server error: %v", err)
	}
	log.Println("gathering service stopped")
}
