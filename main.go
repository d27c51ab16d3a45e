package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"quest-engine/config"
	"quest-engine/handlers"
	"quest-engine/middleware"
	"quest-engine/models"
	"quest-engine/services"
	"quest-engine/utils"
	"quest-engine/workers"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("failed to load config: ", err)
	}

	logger, err := utils.NewLogger(cfg.Log)
	if err != nil {
		log.Fatal("failed to build logger: ", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := gorm.Open(postgres.Open(cfg.DatabaseURL), &gorm.Config{})
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}

	if err := db.AutoMigrate(
		&models.Member{},
		&models.ProgressRecord{},
		&models.BadgeDefinition{},
		&models.BadgeAward{},
		&models.RewardGrant{},
		&models.Notification{},
		&models.NotificationOutbox{},
		&models.ActivityLog{},
	); err != nil {
		logger.Fatal("failed to migrate database", zap.Error(err))
	}

	loc, err := cfg.Quest.Location()
	if err != nil {
		logger.Fatal("invalid quest timezone", zap.Error(err))
	}
	resetHour, resetMinute, err := cfg.Quest.ResetClock()
	if err != nil {
		logger.Fatal("invalid reset time", zap.Error(err))
	}

	progressionService := services.NewProgressionService(db, cfg.Quest, loc, logger.Named("progress"))
	progressionService.Timeout = cfg.StoreTimeout
	progressionService.ResetTimeout = cfg.ResetTimeout

	lifetime := services.NewTableLifetimeCounter(db, cfg.UpvotesTable, cfg.CommentsTable)
	badgeService := services.NewBadgeService(db, lifetime, logger.Named("badges"))
	badgeService.Timeout = cfg.StoreTimeout
	if err := badgeService.SeedDefinitions(ctx, models.DefaultBadgeDefinitions); err != nil {
		logger.Fatal("failed to seed badge definitions", zap.Error(err))
	}

	notificationService := services.NewNotificationService(db, logger.Named("notifications"))
	memberService := services.NewMemberService(db, logger.Named("members"))

	assets, err := utils.NewAssetStore(ctx, cfg.R2)
	if err != nil {
		logger.Fatal("failed to initialize R2 client", zap.Error(err))
	}
	if assets == nil {
		logger.Warn("⚠️ R2 not configured, badge icon uploads disabled")
	}

	// --- Notification sinks ---
	sinks := services.MultiNotifier{services.NewInAppNotifier(db)}
	if brokers := cfg.KafkaBrokers(); len(brokers) > 0 {
		kafkaNotifier := services.NewKafkaNotifier(brokers, cfg.Kafka.Topic)
		defer func() { _ = kafkaNotifier.Close() }()
		sinks = append(sinks, kafkaNotifier)
		logger.Info("Kafka notification sink enabled", zap.Strings("brokers", brokers), zap.String("topic", cfg.Kafka.Topic))
	}
	workers.NewNotificationDispatcher(db, sinks, cfg.Outbox, logger.Named("outbox")).Start(ctx)

	if cfg.Sync.ServiceURL != "" {
		workers.NewMemberSyncWorker(db, cfg.Sync.ServiceURL, cfg.Sync.EndpointPath, cfg.ServiceToken,
			cfg.Sync.Interval, logger.Named("member-sync")).Start(ctx)
	} else {
		logger.Warn("⚠️ SYNC_SERVICE_URL not set, member sync disabled")
	}

	// --- Daily reset ---
	var locker gocron.Locker
	redisClient, err := utils.NewRedisClient(ctx, cfg.Redis)
	if err != nil {
		logger.Fatal("failed to connect to Redis", zap.Error(err))
	}
	if redisClient != nil {
		defer func() { _ = redisClient.Close() }()
		locker = utils.NewRedisLocker(redisClient, time.Minute)
	}
	scheduler, err := progressionService.StartDailyResetScheduler(resetHour, resetMinute, locker)
	if err != nil {
		logger.Fatal("failed to start scheduler", zap.Error(err))
	}

	app := fiber.New(fiber.Config{
		BodyLimit: 5 * 1024 * 1024, // badge icons
	})

	// 🔐❗ GLOBAL: Only Gateway requests allowed
	app.Use(middleware.GatewayAuthMiddleware(cfg.ServiceToken, logger.Named("gateway")))
	app.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.Origins(),
		AllowMethods:     "GET,POST,PUT,DELETE,OPTIONS,PATCH,HEAD",
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization, X-Requested-With, X-Request-ID, Cache-Control, X-Service-Token, X-User-ID, X-User-Roles",
		ExposeHeaders:    "Content-Length, Content-Type, X-Request-ID",
		AllowCredentials: true,
		MaxAge:           86400, // 24 hours
	}))

	handlers.SetupProgressionRoutes(app, progressionService, badgeService, logger.Named("http"))
	handlers.SetupNotificationRoutes(app, notificationService, logger.Named("http"))
	handlers.SetupAdminRoutes(app, badgeService, memberService, assets, logger.Named("http"))

	go func() {
		if err := app.Listen(":" + cfg.Port); err != nil {
			logger.Error("server error", zap.Error(err))
			stop()
		}
	}()

	logger.Info("✅ Server running", zap.String("port", cfg.Port))
	logger.Info("✅ Daily reset scheduled", zap.String("reset_at", cfg.Quest.ResetAt), zap.String("timezone", loc.String()))
	logger.Info("✅ CORS configured", zap.String("origins", cfg.Origins()))

	<-ctx.Done()
	logger.Info("Shutting down server...")

	if err := scheduler.Shutdown(); err != nil {
		logger.Warn("scheduler shutdown", zap.Error(err))
	}
	if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
		logger.Warn("server shutdown", zap.Error(err))
	}
}
