package blackboard

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// RedisDocStore persists whiteboard documents in Redis hashes, one hash
// per document path.
type RedisDocStore struct {
	client *redis.Client
	prefix string
}

// RedisConfig configures the Redis document store
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Prefix   string // key prefix (default "whiteboard:")
}

// NewRedisDocStore connects and verifies the Redis backend
func NewRedisDocStore(config RedisConfig) (*RedisDocStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     config.Addr,
		Password: config.Password,
		DB:       config.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	if config.Prefix == "" {
		config.Prefix = "whiteboard:"
	}

	log.Info().Str("addr", config.Addr).Str("prefix", config.Prefix).Msg("Redis document store initialized")
	return &RedisDocStore{client: client, prefix: config.Prefix}, nil
}

func (s *RedisDocStore) key(path string) string {
	return s.prefix + path
}

// Get fetches a document by path
func (s *RedisDocStore) Get(ctx context.Context, path string) (*Document, error) {
	fields, err := s.client.HGetAll(ctx, s.key(path)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to fetch document: %w", err)
	}
	if len(fields) == 0 {
		return nil, ErrNotFound
	}

	version, _ := strconv.ParseInt(fields["version"], 10, 64)
	updatedNano, _ := strconv.ParseInt(fields["updated_at"], 10, 64)

	return &Document{
		Path:           path,
		Content:        fields["content"],
		Version:        version,
		LastModifiedBy: fields["last_modified_by"],
		UpdatedAt:      time.Unix(0, updatedNano),
	}, nil
}

// Put stores a document under its path
func (s *RedisDocStore) Put(ctx context.Context, doc *Document) error {
	err := s.client.HSet(ctx, s.key(doc.Path), map[string]interface{}{
		"content":          doc.Content,
		"version":          strconv.FormatInt(doc.Version, 10),
		"last_modified_by": doc.LastModifiedBy,
		"updated_at":       strconv.FormatInt(doc.UpdatedAt.UnixNano(), 10),
	}).Err()
	if err != nil {
		return fmt.Errorf("failed to store document: %w", err)
	}
	return nil
}

// Close releases the Redis connection
func (s *RedisDocStore) Close() error {
	return s.client.Close()
}
