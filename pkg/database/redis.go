// Package database 负责初始化入库台账使用的 MySQL 和重试计数使用的 Redis。
package database

import (
	"context"
	"fmt"

	"github.com/go-redis/redis/v8"

	"prepdocs-go/pkg/log"
)

// InitRedis 初始化 Redis 客户端连接
func InitRedis(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	// 测试连接
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	log.Info("Redis client connected successfully")
	return rdb, nil
}
