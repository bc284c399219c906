package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"access_service/internal/config"
	"access_service/internal/database/mongo"
	"access_service/internal/database/redis"
	"access_service/internal/events"
	"access_service/internal/handlers"
	"access_service/internal/identity"
	"access_service/internal/repository"
	"access_service/internal/service"
	"access_service/pkg/discovery"

	"github.com/gofiber/fiber/v3"
)

func setupLogging() (*os.File, error) {
	logDir := filepath.Join("/evolvia", "log", "access_service")
	err := os.MkdirAll(logDir, 0755)
	if err != nil {
		return nil, fmt.Errorf("failed to create log directory: %v", err)
	}

	currentTime := time.Now()
	logFileName := fmt.Sprintf("log_%s.log", currentTime.Format("2006-01-02"))
	logFile := filepath.Join(logDir, logFileName)

	file, err := os.OpenFile(logFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %v", err)
	}

	log.SetOutput(file)
	log.SetFlags(log.Ldate | log.Ltime | log.Lshortfile)

	return file, nil
}

func main() {
	logFile, err := setupLogging()
	if err != nil {
		log.Fatalf("Failed to set up logging: %v", err)
	}
	defer logFile.Close()

	cfg := config.ServiceConfig

	app := fiber.New(fiber.Config{
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	})

	// Initialize repositories
	permissionRepo := repository.NewPermissionRepository(mongo.Mongo_Database)
	roleRepo := repository.NewRoleRepository(mongo.Mongo_Database)
	userRoleRepo := repository.NewUserRoleRepository(mongo.Mongo_Database)
	grantRepo := repository.NewGrantRepository(mongo.Mongo_Database)
	agreementRepo := repository.NewAgreementRepository(mongo.Mongo_Database)
	auditRepo := repository.NewAuditRepository(mongo.Mongo_Database)
	permissionCache := repository.NewRedisRepo(redis.Redis_Client, cfg.Access.PermissionCacheTTL)

	// Create database indexes
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	if err := permissionRepo.CreateIndexes(ctx); err != nil {
		log.Printf("Warning: Failed to create permission indexes: %v", err)
	}
	if err := roleRepo.CreateIndexes(ctx); err != nil {
		log.Printf("Warning: Failed to create role indexes: %v", err)
	}
	if err := userRoleRepo.CreateIndexes(ctx); err != nil {
		log.Printf("Warning: Failed to create user role indexes: %v", err)
	}
	if err := grantRepo.CreateIndexes(ctx); err != nil {
		log.Printf("Warning: Failed to create grant indexes: %v", err)
	}
	if err := agreementRepo.CreateIndexes(ctx); err != nil {
		log.Printf("Warning: Failed to create agreement indexes: %v", err)
	}
	if err := auditRepo.CreateIndexes(ctx); err != nil {
		log.Printf("Warning: Failed to create audit indexes: %v", err)
	}
	cancel()

	// Initialize event publisher
	eventPublisher, err := events.NewEventPublisher(cfg.RabbitMQ.URI)
	if err != nil {
		log.Printf("Warning: Failed to initialize event publisher: %v", err)
		eventPublisher = events.NewDisabledPublisher()
	}

	// Initialize services
	permissionService := service.NewPermissionService(permissionRepo)
	roleService := service.NewRoleService(roleRepo)
	userRoleService := service.NewUserRoleService(userRoleRepo, roleRepo, permissionCache)
	grantService := service.NewGrantService(grantRepo, auditRepo, eventPublisher)
	agreementService := service.NewAgreementService(agreementRepo, grantRepo, auditRepo, userRoleService, eventPublisher, cfg.Access.NDATTLDays)
	authorizeService := service.NewAuthorizeService(permissionService, userRoleService, grantService, auditRepo)
	auditService := service.NewAuditService(auditRepo)

	// Seed the permission catalog and the built-in roles
	ctx, cancel = context.WithTimeout(context.Background(), 30*time.Second)
	if err := permissionService.SeedCatalog(ctx); err != nil {
		log.Fatalf("Failed to seed permission catalog: %v", err)
	}
	if err := roleService.SeedRoles(ctx); err != nil {
		log.Fatalf("Failed to seed roles: %v", err)
	}
	cancel()

	// Consume content lifecycle events so grants die with their resource
	eventConsumer, err := events.NewEventConsumer(cfg.RabbitMQ.URI, agreementService)
	if err != nil {
		log.Printf("Warning: Failed to initialize event consumer: %v", err)
	} else {
		if err := eventConsumer.Start(); err != nil {
			log.Printf("Warning: Failed to start event consumer: %v", err)
			eventConsumer.Close()
			eventConsumer = nil
		} else {
			log.Println("Successfully started content event consumer")
		}
	}

	// Initialize and register handlers
	resolver := identity.NewResolver(cfg.Server.JWTSecret)

	authorizeHandler := handlers.NewAuthorizeHandler(authorizeService, resolver)
	authorizeHandler.RegisterRoutes(app)
	agreementHandler := handlers.NewAgreementHandler(agreementService, resolver)
	agreementHandler.RegisterRoutes(app)
	grantHandler := handlers.NewGrantHandler(grantService, authorizeService, agreementRepo, time.Duration(cfg.Access.NDATTLDays)*24*time.Hour, resolver)
	grantHandler.RegisterRoutes(app)
	roleHandler := handlers.NewRoleHandler(roleService, userRoleService, authorizeService, resolver)
	roleHandler.RegisterRoutes(app)
	auditHandler := handlers.NewAuditHandler(auditService, authorizeService, resolver)
	auditHandler.RegisterRoutes(app)
	permissionHandler := handlers.NewPermissionHandler(permissionService)
	permissionHandler.RegisterRoutes(app)

	if err := discovery.ServiceDiscovery.Register(); err != nil {
		log.Printf("Warning: Failed to register with service discovery: %v", err)
	}

	shutdownChan := make(chan os.Signal, 1)
	doneChan := make(chan bool, 1)

	signal.Notify(shutdownChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		log.Printf("Starting server on port %s", cfg.Server.Port)
		if err := app.Listen(fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port)); err != nil {
			log.Fatalf("Error starting server: %v", err)
		}
		doneChan <- true
	}()

	<-shutdownChan
	log.Println("Shutting down server...")

	ctx, cancel = context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(ctx); err != nil {
		log.Printf("Error shutting down HTTP server: %v", err)
	}

	if eventPublisher != nil {
		if err := eventPublisher.Close(); err != nil {
			log.Printf("Error closing event publisher: %v", err)
		}
	}

	if eventConsumer != nil {
		if err := eventConsumer.Close(); err != nil {
			log.Printf("Error closing event consumer: %v", err)
		}
	}

	mongo.DisconnectMongo()

	if discovery.ServiceDiscovery != nil {
		if err := discovery.ServiceDiscovery.Deregister(); err != nil {
			log.Printf("Error deregistering from service discovery: %v", err)
		}
	}

	<-doneChan
	log.Println("Server shutdown complete")
}
