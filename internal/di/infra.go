package di

import (
	"context"
	"time"

	"github.com/flourineV/cinemas-backend-sub000/pkg/config"
	"github.com/flourineV/cinemas-backend-sub000/pkg/database"
	"github.com/flourineV/cinemas-backend-sub000/pkg/kafka"
	pkgredis "github.com/flourineV/cinemas-backend-sub000/pkg/redis"
)

// ConnectPostgres opens the booking database pool
func ConnectPostgres(ctx context.Context, cfg *config.Config) (*database.PostgresDB, error) {
	return database.NewPostgres(ctx, &database.PostgresConfig{
		Host:            cfg.Database.Host,
		Port:            cfg.Database.Port,
		User:            cfg.Database.User,
		Password:        cfg.Database.Password,
		Database:        cfg.Database.DBName,
		SSLMode:         cfg.Database.SSLMode,
		MaxConns:        int32(cfg.Database.MaxOpenConns),
		MinConns:        int32(cfg.Database.MaxIdleConns),
		MaxConnLifetime: cfg.Database.ConnMaxLifetime,
		MaxConnIdleTime: cfg.Database.ConnMaxIdleTime,
		ConnectTimeout:  10 * time.Second,
		MaxRetries:      3,
		RetryInterval:   2 * time.Second,
		EnableTracing:   cfg.OTel.Enabled,
	})
}

// ConnectRedis opens the lock store client
func ConnectRedis(ctx context.Context, cfg *config.Config) (*pkgredis.Client, error) {
	return pkgredis.NewClient(ctx, &pkgredis.Config{
		Host:          cfg.Redis.Host,
		Port:          cfg.Redis.Port,
		Password:      cfg.Redis.Password,
		DB:            cfg.Redis.DB,
		PoolSize:      cfg.Redis.PoolSize,
		MinIdleConns:  cfg.Redis.MinIdleConns,
		DialTimeout:   cfg.Redis.DialTimeout,
		ReadTimeout:   cfg.Redis.ReadTimeout,
		WriteTimeout:  cfg.Redis.WriteTimeout,
		PoolTimeout:   4 * time.Second,
		MaxRetries:    3,
		RetryInterval: 2 * time.Second,
	})
}

// ConnectKafka creates the shared producer
func ConnectKafka(ctx context.Context, cfg *config.Config, clientID string) (*kafka.Producer, error) {
	return kafka.NewProducer(ctx, &kafka.ProducerConfig{
		Brokers:       cfg.Kafka.Brokers,
		ClientID:      clientID,
		MaxRetries:    cfg.Kafka.MaxRetries,
		RetryInterval: 100 * time.Millisecond,
	})
}
