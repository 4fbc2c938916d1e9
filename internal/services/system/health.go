// Package system provides system-level services for monitoring and health
// reporting.
package system

import (
	"context"
	"runtime"
	"sync"
	"time"

	"github.com/peppy/osu-server-spectator/internal/db/mongo"
	"github.com/peppy/osu-server-spectator/internal/db/redis"
	"github.com/peppy/osu-server-spectator/internal/utils"
)

// HealthStatus represents the health status of a component.
type HealthStatus string

const (
	// StatusUp indicates the component is healthy.
	StatusUp HealthStatus = "up"
	// StatusDown indicates the component is unhealthy.
	StatusDown HealthStatus = "down"
	// StatusDegraded indicates the component is functioning but with issues.
	StatusDegraded HealthStatus = "degraded"
)

// ComponentHealth represents the health of a system component.
type ComponentHealth struct {
	Name        string       `json:"name"`
	Status      HealthStatus `json:"status"`
	Description string       `json:"description,omitempty"`
	Latency     int64        `json:"latency_ms,omitempty"`
	LastChecked time.Time    `json:"last_checked"`
}

// SystemHealth represents the overall health of the server.
type SystemHealth struct {
	Status      HealthStatus      `json:"status"`
	Components  []ComponentHealth `json:"components"`
	Version     string            `json:"version"`
	Environment string            `json:"environment"`
	Uptime      int64             `json:"uptime_seconds"`
	StartTime   time.Time         `json:"start_time"`
	GoVersion   string            `json:"go_version"`
	GoRoutines  int               `json:"go_routines"`
}

// HealthService provides health checking functionality.
type HealthService struct {
	mongoClient *mongo.Client
	redisClient *redis.Client
	logger      *utils.Logger
	startTime   time.Time
	version     string
	environment string

	cacheMutex     sync.RWMutex
	componentCache map[string]ComponentHealth
	checkInterval  time.Duration
}

// HealthServiceConfig contains configuration for the health service.
type HealthServiceConfig struct {
	Version     string
	Environment string
}

// NewHealthService creates a new health service.
func NewHealthService(mongoClient *mongo.Client, redisClient *redis.Client, logger *utils.Logger, config HealthServiceConfig) *HealthService {
	return &HealthService{
		mongoClient:    mongoClient,
		redisClient:    redisClient,
		logger:         logger.Named("health_service"),
		startTime:      time.Now(),
		version:        config.Version,
		environment:    config.Environment,
		componentCache: make(map[string]ComponentHealth),
		checkInterval:  30 * time.Second,
	}
}

// Start begins periodic health checks until the context is cancelled.
func (s *HealthService) Start(ctx context.Context) {
	s.CheckHealth(ctx)

	go func() {
		ticker := time.NewTicker(s.checkInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.CheckHealth(ctx)
			}
		}
	}()
}

// CheckHealth performs a health check on all backing services.
func (s *HealthService) CheckHealth(ctx context.Context) {
	s.checkMongoDB(ctx)
	s.checkRedis(ctx)
}

// GetHealth returns the current health status of the server.
func (s *HealthService) GetHealth(ctx context.Context) SystemHealth {
	s.cacheMutex.RLock()
	defer s.cacheMutex.RUnlock()

	components := make([]ComponentHealth, 0, len(s.componentCache))
	for _, component := range s.componentCache {
		components = append(components, component)
	}

	status := StatusUp
	for _, component := range components {
		if component.Status == StatusDown {
			status = StatusDown
			break
		} else if component.Status == StatusDegraded && status != StatusDown {
			status = StatusDegraded
		}
	}

	return SystemHealth{
		Status:      status,
		Components:  components,
		Version:     s.version,
		Environment: s.environment,
		Uptime:      int64(time.Since(s.startTime).Seconds()),
		StartTime:   s.startTime,
		GoVersion:   runtime.Version(),
		GoRoutines:  runtime.NumGoroutine(),
	}
}

func (s *HealthService) checkMongoDB(ctx context.Context) {
	start := time.Now()

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	err := s.mongoClient.Ping(pingCtx)
	latency := time.Since(start).Milliseconds()

	status := StatusUp
	description := "MongoDB connection is healthy"
	if err != nil {
		status = StatusDown
		description = "Failed to connect to MongoDB: " + err.Error()
		s.logger.Error("MongoDB health check failed", err)
	}

	s.updateComponentHealth("mongodb", status, description, latency)
}

func (s *HealthService) checkRedis(ctx context.Context) {
	start := time.Now()

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	err := s.redisClient.Ping(pingCtx)
	latency := time.Since(start).Milliseconds()

	status := StatusUp
	description := "Redis connection is healthy"
	if err != nil {
		status = StatusDown
		description = "Failed to connect to Redis: " + err.Error()
		s.logger.Error("Redis health check failed", err)
	}

	s.updateComponentHealth("redis", status, description, latency)
}

func (s *HealthService) updateComponentHealth(name string, status HealthStatus, description string, latency int64) {
	s.cacheMutex.Lock()
	defer s.cacheMutex.Unlock()

	s.componentCache[name] = ComponentHealth{
		Name:        name,
		Status:      status,
		Description: description,
		Latency:     latency,
		LastChecked: time.Now(),
	}
}
