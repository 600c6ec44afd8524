// Package redisstore 是 store.Store 的 Redis 实现。
// 每个房间根路径对应一个 Redis Hash，扁平字段即 Hash field；
// 变更通过 Pub/Sub 频道通知，订阅者收到通知后重新读取完整 Hash。
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"

	"github.com/Spike1990AI/party-games/internal/store"
)

// PresenceTTL 是会话存活标记的有效期。标记过期且补偿更新仍挂着，
// 后台清理即判定连接消失并执行补偿。
const PresenceTTL = 90 * time.Second

// Store 是基于 Redis 的实时存储适配器。
type Store struct {
	client    *redis.Client
	keyPrefix string
}

// New 创建 Redis 存储实例。keyPrefix 为空时默认 "pg:"。
func New(client *redis.Client, keyPrefix string) *Store {
	if client == nil {
		panic("redis client cannot be nil for redisstore.Store")
	}
	if keyPrefix == "" {
		keyPrefix = "pg:"
	}
	return &Store{client: client, keyPrefix: keyPrefix}
}

// --- Key Generation Helpers ---

func (s *Store) dataKey(root string) string {
	return s.keyPrefix + "data:" + root
}

func (s *Store) changeChannel(root string) string {
	return s.keyPrefix + "chan:" + root
}

func (s *Store) patchKey(sessionID string) string {
	return s.keyPrefix + "patch:" + sessionID
}

func (s *Store) presenceKey(sessionID string) string {
	return s.keyPrefix + "presence:" + sessionID
}

// wrap 把底层错误翻译为适配器错误：连接类故障映射为 ErrUnavailable，
// 让上层走有界重试；其余原样包装。
func wrap(op string, err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("redis: %s: %w: %v", op, store.ErrUnavailable, err)
	}
	return fmt.Errorf("redis: %s: %w", op, err)
}

func (s *Store) ReadOnce(ctx context.Context, root string) (store.Fields, error) {
	key := s.dataKey(root)
	fields, err := s.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, wrap(fmt.Sprintf("failed to read %s", key), err)
	}
	if len(fields) == 0 {
		// HGetAll 对不存在的 key 返回空 map，这里统一映射为未找到
		return nil, store.ErrNotFound
	}
	return store.Fields(fields), nil
}

func (s *Store) Subscribe(ctx context.Context, root string) (<-chan store.Fields, func(), error) {
	pubsub := s.client.Subscribe(ctx, s.changeChannel(root))
	// 确认订阅建立，避免错过紧随其后的变更通知
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, nil, wrap(fmt.Sprintf("failed to subscribe to %s", root), err)
	}

	out := make(chan store.Fields, 16)
	done := make(chan struct{})
	var once sync.Once
	cancel := func() {
		once.Do(func() {
			close(done)
			_ = pubsub.Close()
		})
	}

	go func() {
		defer close(out)
		msgCh := pubsub.Channel()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				cancel()
				return
			case msg, ok := <-msgCh:
				if !ok {
					return
				}
				if msg.Payload == "deleted" {
					select {
					case out <- nil:
					case <-done:
						return
					}
					continue
				}
				fields, err := s.ReadOnce(ctx, root)
				if err != nil {
					if errors.Is(err, store.ErrNotFound) {
						select {
						case out <- nil:
						case <-done:
							return
						}
						continue
					}
					logrus.WithField("root", root).WithError(err).Warn("Subscribe re-read failed, skipping notification")
					continue
				}
				select {
				case out <- fields:
				case <-done:
					return
				default:
					// 消费者落后时丢弃本条，下一条通知仍会触发完整重读
				}
			}
		}
	}()
	return out, cancel, nil
}

func (s *Store) WriteSubtree(ctx context.Context, root string, fields store.Fields) error {
	key := s.dataKey(root)
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, key)
	if len(fields) > 0 {
		args := make([]interface{}, 0, len(fields)*2)
		for k, v := range fields {
			args = append(args, k, v)
		}
		pipe.HSet(ctx, key, args...)
	}
	pipe.Publish(ctx, s.changeChannel(root), "changed")
	if _, err := pipe.Exec(ctx); err != nil {
		return wrap(fmt.Sprintf("failed to write subtree %s", key), err)
	}
	return nil
}

func (s *Store) MergeFields(ctx context.Context, root string, fields store.Fields) error {
	if len(fields) == 0 {
		return nil
	}
	key := s.dataKey(root)
	args := make([]interface{}, 0, len(fields)*2)
	for k, v := range fields {
		args = append(args, k, v)
	}
	pipe := s.client.Pipeline()
	pipe.HSet(ctx, key, args...)
	pipe.Publish(ctx, s.changeChannel(root), "changed")
	if _, err := pipe.Exec(ctx); err != nil {
		return wrap(fmt.Sprintf("failed to merge fields into %s", key), err)
	}
	return nil
}

func (s *Store) IncrField(ctx context.Context, root, field string, delta int64) (int64, error) {
	key := s.dataKey(root)
	pipe := s.client.Pipeline()
	incrCmd := pipe.HIncrBy(ctx, key, field, delta)
	pipe.Publish(ctx, s.changeChannel(root), "changed")
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, wrap(fmt.Sprintf("failed to increment %s/%s", key, field), err)
	}
	return incrCmd.Val(), nil
}

func (s *Store) DeleteSubtree(ctx context.Context, root string) error {
	key := s.dataKey(root)
	pipe := s.client.Pipeline()
	pipe.Del(ctx, key)
	pipe.Publish(ctx, s.changeChannel(root), "deleted")
	if _, err := pipe.Exec(ctx); err != nil {
		return wrap(fmt.Sprintf("failed to delete subtree %s", key), err)
	}
	return nil
}

func (s *Store) DeletePrefix(ctx context.Context, root, prefix string) error {
	key := s.dataKey(root)
	fields, err := s.client.HKeys(ctx, key).Result()
	if err != nil {
		return wrap(fmt.Sprintf("failed to list fields of %s", key), err)
	}
	var matched []string
	for _, f := range fields {
		if strings.HasPrefix(f, prefix) {
			matched = append(matched, f)
		}
	}
	if len(matched) == 0 {
		return nil
	}
	pipe := s.client.Pipeline()
	pipe.HDel(ctx, key, matched...)
	pipe.Publish(ctx, s.changeChannel(root), "changed")
	if _, err := pipe.Exec(ctx); err != nil {
		return wrap(fmt.Sprintf("failed to delete prefix %s from %s", prefix, key), err)
	}
	return nil
}

func (s *Store) ListRoots(ctx context.Context, prefix string) ([]string, error) {
	pattern := s.dataKey(prefix) + "*"
	var roots []string
	var cursor uint64
	for {
		keys, next, err := s.client.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return nil, wrap(fmt.Sprintf("failed to scan pattern %s", pattern), err)
		}
		for _, key := range keys {
			roots = append(roots, strings.TrimPrefix(key, s.keyPrefix+"data:"))
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return roots, nil
}

func (s *Store) RegisterDisconnectPatch(ctx context.Context, sessionID, root string, fields store.Fields) error {
	key := s.patchKey(sessionID)
	// 每条补偿更新编码为 "root\x00field\x00value" 的列表项，执行时按序合并
	pipe := s.client.Pipeline()
	for f, v := range fields {
		pipe.RPush(ctx, key, root+"\x00"+f+"\x00"+v)
	}
	pipe.Expire(ctx, key, store.PatchRetention)
	if _, err := pipe.Exec(ctx); err != nil {
		return wrap(fmt.Sprintf("failed to register disconnect patch for session %s", sessionID), err)
	}
	return nil
}

func (s *Store) ClearDisconnectPatches(ctx context.Context, sessionID string) error {
	pipe := s.client.Pipeline()
	pipe.Del(ctx, s.patchKey(sessionID))
	pipe.Del(ctx, s.presenceKey(sessionID))
	if _, err := pipe.Exec(ctx); err != nil {
		return wrap(fmt.Sprintf("failed to clear disconnect patches for session %s", sessionID), err)
	}
	return nil
}

func (s *Store) RunDisconnectPatches(ctx context.Context, sessionID string) error {
	key := s.patchKey(sessionID)
	entries, err := s.client.LRange(ctx, key, 0, -1).Result()
	if err != nil {
		return wrap(fmt.Sprintf("failed to load disconnect patches for session %s", sessionID), err)
	}
	grouped := make(map[string]store.Fields)
	for _, entry := range entries {
		parts := strings.SplitN(entry, "\x00", 3)
		if len(parts) != 3 {
			logrus.WithField("session_id", sessionID).Warnf("malformed disconnect patch entry: %q", entry)
			continue
		}
		root, field, value := parts[0], parts[1], parts[2]
		if grouped[root] == nil {
			grouped[root] = make(store.Fields)
		}
		grouped[root][field] = value
	}
	for root, fields := range grouped {
		// 房间已删除时 MergeFields 会重建一个孤儿 Hash，先确认存在
		exists, err := s.client.Exists(ctx, s.dataKey(root)).Result()
		if err != nil {
			return wrap(fmt.Sprintf("failed to check room %s before patch", root), err)
		}
		if exists == 0 {
			continue
		}
		if err := s.MergeFields(ctx, root, fields); err != nil {
			return err
		}
	}
	return s.ClearDisconnectPatches(ctx, sessionID)
}

func (s *Store) TouchPresence(ctx context.Context, sessionID string) error {
	key := s.presenceKey(sessionID)
	if err := s.client.Set(ctx, key, "1", PresenceTTL).Err(); err != nil {
		return wrap(fmt.Sprintf("failed to touch presence for session %s", sessionID), err)
	}
	return nil
}

// StaleSessions 扫描挂有补偿更新但存活标记已过期的会话，清理任务调用。
func (s *Store) StaleSessions(ctx context.Context) ([]string, error) {
	pattern := s.keyPrefix + "patch:*"
	var stale []string
	var cursor uint64
	for {
		keys, next, err := s.client.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return nil, wrap(fmt.Sprintf("failed to scan pattern %s", pattern), err)
		}
		for _, key := range keys {
			sessionID := strings.TrimPrefix(key, s.keyPrefix+"patch:")
			alive, err := s.client.Exists(ctx, s.presenceKey(sessionID)).Result()
			if err != nil {
				return nil, wrap(fmt.Sprintf("failed to check presence for session %s", sessionID), err)
			}
			if alive == 0 {
				stale = append(stale, sessionID)
			}
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return stale, nil
}
