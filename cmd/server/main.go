package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"whatsapp-crm/internal/api"
	"whatsapp-crm/internal/attribution"
	"whatsapp-crm/internal/automation"
	"whatsapp-crm/internal/config"
	"whatsapp-crm/internal/database"
	"whatsapp-crm/internal/events"
	"whatsapp-crm/internal/logger"
	"whatsapp-crm/internal/media"
	"whatsapp-crm/internal/outbound"
	"whatsapp-crm/internal/scheduler"
	"whatsapp-crm/internal/store"
	"whatsapp-crm/internal/telemetry"
	"whatsapp-crm/internal/webhook"
	"whatsapp-crm/internal/whatsapp"
	"whatsapp-crm/internal/ws"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

const initialFollowUpDelay = 10 * time.Second

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg := config.LoadConfig()

	tel, err := telemetry.Setup(ctx, cfg.OTel)
	if err != nil {
		os.Stderr.WriteString("failed to initialize otel: " + err.Error() + "\n")
		os.Exit(1)
	}
	logger.Setup(cfg)
	if cfg.VerifyToken == "" {
		slog.Warn("VERIFY_TOKEN is empty; webhook verification will always fail")
	}

	db, err := database.Open(cfg)
	if err != nil {
		slog.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	st := store.New(db)

	hub := ws.NewHub()
	go hub.Run(ctx)

	var publisher events.Publisher = hub
	if cfg.RedisURL != "" {
		client, err := connectRedis(ctx, cfg.RedisURL)
		if err != nil {
			slog.Error("failed to connect to redis", "error", err)
			os.Exit(1)
		}
		defer client.Close()
		publisher = events.NewRedisPublisher(client, cfg.RedisChannel)
		go func() {
			if err := events.Relay(ctx, client, cfg.RedisChannel, hub); err != nil {
				slog.Error("event relay stopped", "error", err)
			}
		}()
	}

	graph := whatsapp.NewClient(cfg)
	sender := outbound.NewSender(graph, st, publisher)
	engine := automation.NewEngine(st, sender, automation.Options{
		CoolOff:          cfg.CoolOff,
		LeadNotifyNumber: cfg.LeadNotifyNumber,
	})
	attributor := attribution.New(st, cfg.KeywordWindow, cfg.RecencyWindow)

	var uploader media.Uploader
	if cfg.CloudinaryURL != "" {
		cld, err := media.NewCloudinaryUploader(cfg.CloudinaryURL)
		if err != nil {
			slog.Error("failed to configure cloudinary", "error", err)
			os.Exit(1)
		}
		uploader = cld
	} else {
		slog.Info("CLOUDINARY_URL not set; inbound media keeps provider references only")
	}
	rehoster := media.NewRehoster(graph, uploader, cfg.MediaFolder)

	webhookHandler := webhook.NewHandler(cfg, st, sender, attributor, rehoster, publisher, engine)

	sched := scheduler.New()
	followUp := scheduler.NewFollowUp(st, sender, scheduler.FollowUpOptions{
		StuckAfter:    cfg.StuckAfter,
		StuckCooldown: cfg.StuckCooldown,
		TimeoutAfter:  cfg.TimeoutAfter,
		ReviewAfter:   cfg.ReviewAfter,
	})
	if err := sched.AddJob(scheduler.EveryMinute, "followup", followUp); err != nil {
		slog.Error("failed to schedule follow-ups", "error", err)
		os.Exit(1)
	}
	closer := scheduler.NewInactivityCloser(st, cfg.InactivityAfter)
	if err := sched.AddJob(scheduler.EveryMinute, "inactivity", closer); err != nil {
		slog.Error("failed to schedule inactivity closer", "error", err)
		os.Exit(1)
	}
	sched.Start()
	sched.RunAfter(initialFollowUpDelay, "followup", followUp)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	if cfg.OTel.Enabled() {
		r.Use(otelgin.Middleware(cfg.OTel.ServiceName))
	}
	r.Use(gin.Recovery(), gin.Logger(), cors())

	r.GET("/webhook", webhookHandler.VerifyWebhook)
	r.POST("/webhook", webhookHandler.HandleMessage)
	r.GET("/ws", func(c *gin.Context) { hub.ServeWs(c.Writer, c.Request) })
	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok", "sockets": hub.ClientCount()}) })
	api.RegisterRoutes(r, st)

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	go func() {
		slog.Info("server starting", "port", cfg.Port, "env", cfg.Environment)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("http server error", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("http server shutdown error", "error", err)
	}
	sched.Stop()
	// Pending bursts are dispatched before exit.
	webhookHandler.Close()
	if err := tel.Shutdown(shutdownCtx); err != nil {
		slog.Error("otel shutdown error", "error", err)
	}
	slog.Info("shutdown complete")
}

func connectRedis(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, err
	}
	slog.Info("redis connected")
	return client, nil
}

func cors() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, PATCH, DELETE")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
