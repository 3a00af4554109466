package server

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/opentracing/opentracing-go"
	"github.com/opentracing/opentracing-go/ext"
	"gorm.io/gorm"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"

	"github.com/customeros/sendstack/api"
	"github.com/customeros/sendstack/config"
	"github.com/customeros/sendstack/internal/cron"
	"github.com/customeros/sendstack/internal/listeners"
	"github.com/customeros/sendstack/internal/logger"
	"github.com/customeros/sendstack/internal/repository"
	"github.com/customeros/sendstack/internal/tracing"
	"github.com/customeros/sendstack/services"
	"github.com/customeros/sendstack/services/events"
)

type Server struct {
	config       *config.Config
	httpServer   *http.Server
	router       *gin.Engine
	services     *services.Services
	repositories *repository.Repositories
	subscriber   *events.RabbitMQSubscriber
	cronManager  *cron.CronManager
	tracerCloser io.Closer
}

func NewServer(cfg *config.Config, sendstackDB *gorm.DB) (*Server, error) {
	// Initialize logger
	appLogger := logger.NewAppLogger(cfg.Logger)
	appLogger.InitLogger()

	// Initialize tracing
	tracer, closer, err := tracing.NewJaegerTracer(cfg.Tracing, appLogger)
	if err != nil {
		log.Fatalf("Could not initialize jaeger tracer: %s", err.Error())
	}
	opentracing.SetGlobalTracer(tracer)

	// Initialize repositories
	repos := repository.InitRepositories(sendstackDB)

	// Initialize services
	svcs, err := services.InitServices(cfg, appLogger, repos)
	if err != nil {
		return nil, err
	}

	// Subscribe the webhook fan-out listener to delivery lifecycle events
	subscriber, err := events.NewRabbitMQSubscriber(cfg.AppConfig.RabbitMQURL, appLogger, nil)
	if err != nil {
		return nil, err
	}
	subscriber.RegisterListener(listeners.NewDeliveryLifecycleListener(appLogger, svcs.WebhookService))

	// Cron manager runs the sweepers; leader election keeps a single
	// scheduler across replicas
	cronManager := cron.NewCronManager(cfg, appLogger, newKubernetesClient(appLogger), repos, svcs.WorkerPool)

	// Initialize Gin
	gin.SetMode(gin.ReleaseMode)
	router := gin.Default()

	return &Server{
		config:       cfg,
		router:       router,
		services:     svcs,
		repositories: repos,
		subscriber:   subscriber,
		cronManager:  cronManager,
		tracerCloser: closer,
		httpServer: &http.Server{
			Addr:    ":" + cfg.AppConfig.APIPort,
			Handler: router,
		},
	}, nil
}

// newKubernetesClient returns nil outside a cluster, which makes the cron
// manager fall back to local mode.
func newKubernetesClient(appLogger logger.Logger) kubernetes.Interface {
	k8sConfig, err := rest.InClusterConfig()
	if err != nil {
		appLogger.Infof("No in-cluster kubernetes config, cron runs in local mode: %v", err)
		return nil
	}
	client, err := kubernetes.NewForConfig(k8sConfig)
	if err != nil {
		appLogger.Warnf("Could not create kubernetes client, cron runs in local mode: %v", err)
		return nil
	}
	return client
}

func (s *Server) Initialize(ctx context.Context) error {
	// Setup API routes
	api.RegisterRoutes(ctx, s.router, s.services, s.repositories, s.config.AppConfig.APIKey)

	return nil
}

func (s *Server) recoverWithJaeger(name string) {
	if r := recover(); r != nil {
		span := opentracing.GlobalTracer().StartSpan(
			fmt.Sprintf("panic.%s", name),
		)
		defer span.Finish()

		ext.Error.Set(span, true)

		span.LogKV(
			"event", "panic",
			"process", name,
			"error", fmt.Sprintf("%v", r),
			"stack", string(debug.Stack()),
		)

		log.Printf("❌ Panic in %s: %v\n%s", name, r, debug.Stack())
	}
}

func (s *Server) wrapGoroutine(name string, fn func()) {
	defer s.recoverWithJaeger(name)
	fn()
}

func (s *Server) Run() error {
	// Create root context for the application
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize server components
	if err := s.Initialize(ctx); err != nil {
		return err
	}

	// Start delivery workers
	log.Println("Starting delivery worker pool...")
	if err := s.services.WorkerPool.Start(ctx); err != nil {
		return err
	}
	log.Println("✅ Delivery worker pool started successfully")

	// Start webhook dispatchers
	log.Println("Starting webhook dispatcher pool...")
	if err := s.services.DispatcherPool.Start(ctx); err != nil {
		return err
	}
	log.Println("✅ Webhook dispatcher pool started successfully")

	// Start consuming delivery lifecycle events with panic recovery
	go s.wrapGoroutine("lifecycle_subscriber", func() {
		if err := s.subscriber.ListenQueue(events.QueueDeliveryLifecycle); err != nil {
			log.Printf("❌ Lifecycle subscriber error: %v", err)
		}
	})
	log.Println("✅ Lifecycle subscriber started successfully")

	// Start the cron sweepers
	podName := os.Getenv("POD_NAME")
	if podName == "" {
		podName = "local"
	}
	namespace := os.Getenv("POD_NAMESPACE")
	if namespace == "" {
		namespace = "default"
	}
	if err := s.cronManager.Start(podName, namespace); err != nil {
		return err
	}
	log.Println("✅ Cron manager started successfully")

	// Start HTTP server in a goroutine with panic recovery
	go s.wrapGoroutine("http_server", func() {
		log.Println("Starting HTTP server")
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("❌ HTTP server error: %v", err)
		}
	})
	log.Println("✅ HTTP server started successfully")
	log.Println("SendStack is now running. Press Ctrl+C to exit.")

	return s.waitForShutdown()
}

func (s *Server) waitForShutdown() error {
	defer s.recoverWithJaeger("shutdown")

	// Set up signal handling for graceful shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	// Wait for termination signal
	<-stop
	log.Println("Shutting down...")

	// Create a context with timeout for shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	// Shut down HTTP server first so no new work arrives
	log.Println("Shutting down HTTP server...")
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("❌ HTTP server shutdown error: %v", err)
	} else {
		log.Println("✅ HTTP server shut down successfully")
	}

	// Stop background workers, leased jobs are reclaimed by the sweeper
	log.Println("Stopping background workers...")
	stopDone := make(chan struct{})
	go s.wrapGoroutine("worker_shutdown", func() {
		defer close(stopDone)
		s.cronManager.Stop()
		s.services.WorkerPool.Stop()
		s.services.DispatcherPool.Stop()
		s.services.EventsService.Close()
	})

	select {
	case <-stopDone:
		log.Println("✅ Background workers stopped successfully")
	case <-time.After(10 * time.Second):
		log.Println("⚠️ Worker shutdown timed out, forcing exit")
	}

	if s.tracerCloser != nil {
		s.tracerCloser.Close()
	}

	return nil
}
