package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
)

// RoomReserver guarantees media room names are never reused while referenced.
// Reservations are permanent; archived sessions keep pointing at their room
// name for history.
type RoomReserver interface {
	Reserve(ctx context.Context, roomName string) error
}

var ErrRoomTaken = errors.New("session: room name already reserved")

const roomKeyPrefix = "voicelink:room:"

// RedisRoomReserver reserves room names atomically across all engine
// instances sharing the Redis deployment.
type RedisRoomReserver struct {
	rdb *redis.Client
}

func NewRedisRoomReserver(rdb *redis.Client) *RedisRoomReserver {
	return &RedisRoomReserver{rdb: rdb}
}

func (r *RedisRoomReserver) Reserve(ctx context.Context, roomName string) error {
	if roomName == "" {
		return errors.New("session: room name required")
	}
	// No TTL: room names are never recycled.
	ok, err := r.rdb.SetNX(ctx, roomKeyPrefix+roomName, "1", 0).Result()
	if err != nil {
		return fmt.Errorf("session: room reserve: %w", err)
	}
	if !ok {
		return ErrRoomTaken
	}
	return nil
}

// MemoryRoomReserver is a single-process reserver for tests and local runs.
type MemoryRoomReserver struct {
	mu    sync.Mutex
	taken map[string]bool
}

func NewMemoryRoomReserver() *MemoryRoomReserver {
	return &MemoryRoomReserver{taken: make(map[string]bool)}
}

func (r *MemoryRoomReserver) Reserve(ctx context.Context, roomName string) error {
	if roomName == "" {
		return errors.New("session: room name required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.taken[roomName] {
		return ErrRoomTaken
	}
	r.taken[roomName] = true
	return nil
}
