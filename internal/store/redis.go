package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/Tyrowin/roomchat/internal/chat"
)

// RedisRooms keeps room metadata in Redis so several relay processes can
// share one directory. Each room is a hash; a SETNX'd name key enforces
// name uniqueness.
type RedisRooms struct {
	client *redis.Client
	prefix string
}

var _ RoomStore = (*RedisRooms)(nil)

// NewRedisRooms wraps client. Keys are namespaced by prefix.
func NewRedisRooms(client *redis.Client, prefix string) *RedisRooms {
	if prefix == "" {
		prefix = "roomchat"
	}
	return &RedisRooms{client: client, prefix: prefix}
}

// OpenRedisRooms connects to addr and verifies the server answers.
func OpenRedisRooms(ctx context.Context, addr string) (*RedisRooms, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis at %s: %w", addr, err)
	}
	return NewRedisRooms(client, ""), nil
}

// Close closes the client.
func (s *RedisRooms) Close() error {
	return s.client.Close()
}

func (s *RedisRooms) roomKey(id string) string { return s.prefix + ":room:" + id }
func (s *RedisRooms) nameKey(name string) string { return s.prefix + ":room-name:" + name }
func (s *RedisRooms) indexKey() string { return s.prefix + ":rooms" }

func (s *RedisRooms) CreateRoom(ctx context.Context, room chat.Room) error {
	ok, err := s.client.SetNX(ctx, s.nameKey(room.Name), room.ID, 0).Result()
	if err != nil {
		return fmt.Errorf("reserve room name: %w", err)
	}
	if !ok {
		return ErrAlreadyExists
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, s.roomKey(room.ID), map[string]any{
			"id":         room.ID,
			"name":       room.Name,
			"creator":    room.Creator,
			"created_at": toMillis(room.CreatedAt),
		})
		pipe.SAdd(ctx, s.indexKey(), room.ID)
		return nil
	})
	if err != nil {
		s.client.Del(ctx, s.nameKey(room.Name))
		return fmt.Errorf("create room: %w", err)
	}
	return nil
}

func (s *RedisRooms) RoomByName(ctx context.Context, name string) (chat.Room, error) {
	id, err := s.client.Get(ctx, s.nameKey(name)).Result()
	if errors.Is(err, redis.Nil) {
		return chat.Room{}, ErrNotFound
	}
	if err != nil {
		return chat.Room{}, fmt.Errorf("get room %q: %w", name, err)
	}
	return s.roomByID(ctx, id)
}

func (s *RedisRooms) roomByID(ctx context.Context, id string) (chat.Room, error) {
	fields, err := s.client.HGetAll(ctx, s.roomKey(id)).Result()
	if err != nil {
		return chat.Room{}, fmt.Errorf("get room %s: %w", id, err)
	}
	if len(fields) == 0 {
		return chat.Room{}, ErrNotFound
	}
	return roomFromHash(fields)
}

func (s *RedisRooms) ListRooms(ctx context.Context) ([]chat.Room, error) {
	ids, err := s.client.SMembers(ctx, s.indexKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("list rooms: %w", err)
	}

	cmds := make([]*redis.MapStringStringCmd, len(ids))
	_, err = s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, id := range ids {
			cmds[i] = pipe.HGetAll(ctx, s.roomKey(id))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list rooms: %w", err)
	}

	rooms := make([]chat.Room, 0, len(ids))
	for _, cmd := range cmds {
		fields := cmd.Val()
		if len(fields) == 0 {
			continue
		}
		room, err := roomFromHash(fields)
		if err != nil {
			return nil, err
		}
		rooms = append(rooms, room)
	}
	sortRooms(rooms)
	return rooms, nil
}

func (s *RedisRooms) DeleteRoom(ctx context.Context, id string) error {
	room, err := s.roomByID(ctx, id)
	if err != nil {
		return err
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.roomKey(id), s.nameKey(room.Name))
		pipe.SRem(ctx, s.indexKey(), id)
		return nil
	})
	if err != nil {
		return fmt.Errorf("delete room: %w", err)
	}
	return nil
}

func roomFromHash(fields map[string]string) (chat.Room, error) {
	createdAt, err := strconv.ParseInt(fields["created_at"], 10, 64)
	if err != nil {
		return chat.Room{}, fmt.Errorf("room %s created_at: %w", fields["id"], err)
	}
	return chat.Room{
		ID:        fields["id"],
		Name:      fields["name"],
		Creator:   fields["creator"],
		CreatedAt: fromMillis(createdAt),
	}, nil
}
