// Package memstore 提供 store.Store 的内存实现，语义与 Redis 实现对齐，
// 供单元测试和本地开发使用。
package memstore

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/Spike1990AI/party-games/internal/store"
)

type subscriber struct {
	root string
	ch   chan store.Fields
}

type patch struct {
	root   string
	fields store.Fields
}

// Store 是纯内存的实时存储。所有方法并发安全。
type Store struct {
	mu       sync.Mutex
	roots    map[string]store.Fields
	subs     map[*subscriber]struct{}
	patches  map[string][]patch // sessionID -> 补偿更新
	presence map[string]time.Time
}

// New 创建一个空的内存存储。
func New() *Store {
	return &Store{
		roots:    make(map[string]store.Fields),
		subs:     make(map[*subscriber]struct{}),
		patches:  make(map[string][]patch),
		presence: make(map[string]time.Time),
	}
}

func (s *Store) ReadOnce(_ context.Context, root string) (store.Fields, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fields, ok := s.roots[root]
	if !ok {
		return nil, store.ErrNotFound
	}
	return copyFields(fields), nil
}

func (s *Store) Subscribe(_ context.Context, root string) (<-chan store.Fields, func(), error) {
	sub := &subscriber{root: root, ch: make(chan store.Fields, 16)}
	s.mu.Lock()
	s.subs[sub] = struct{}{}
	s.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, sub)
			s.mu.Unlock()
			close(sub.ch)
		})
	}
	return sub.ch, cancel, nil
}

func (s *Store) WriteSubtree(_ context.Context, root string, fields store.Fields) error {
	s.mu.Lock()
	s.roots[root] = copyFields(fields)
	s.notifyLocked(root)
	s.mu.Unlock()
	return nil
}

func (s *Store) MergeFields(_ context.Context, root string, fields store.Fields) error {
	s.mu.Lock()
	current, ok := s.roots[root]
	if !ok {
		current = make(store.Fields)
		s.roots[root] = current
	}
	for k, v := range fields {
		current[k] = v
	}
	s.notifyLocked(root)
	s.mu.Unlock()
	return nil
}

func (s *Store) IncrField(_ context.Context, root, field string, delta int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.roots[root]
	if !ok {
		current = make(store.Fields)
		s.roots[root] = current
	}
	v, _ := strconv.ParseInt(current[field], 10, 64)
	v += delta
	current[field] = strconv.FormatInt(v, 10)
	s.notifyLocked(root)
	return v, nil
}

func (s *Store) DeleteSubtree(_ context.Context, root string) error {
	s.mu.Lock()
	delete(s.roots, root)
	s.notifyDeletedLocked(root)
	s.mu.Unlock()
	return nil
}

func (s *Store) DeletePrefix(_ context.Context, root, prefix string) error {
	s.mu.Lock()
	if current, ok := s.roots[root]; ok {
		for k := range current {
			if strings.HasPrefix(k, prefix) {
				delete(current, k)
			}
		}
		s.notifyLocked(root)
	}
	s.mu.Unlock()
	return nil
}

func (s *Store) ListRoots(_ context.Context, prefix string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var roots []string
	for root := range s.roots {
		if strings.HasPrefix(root, prefix) {
			roots = append(roots, root)
		}
	}
	return roots, nil
}

func (s *Store) RegisterDisconnectPatch(_ context.Context, sessionID, root string, fields store.Fields) error {
	s.mu.Lock()
	s.patches[sessionID] = append(s.patches[sessionID], patch{root: root, fields: copyFields(fields)})
	s.mu.Unlock()
	return nil
}

func (s *Store) ClearDisconnectPatches(_ context.Context, sessionID string) error {
	s.mu.Lock()
	delete(s.patches, sessionID)
	delete(s.presence, sessionID)
	s.mu.Unlock()
	return nil
}

func (s *Store) RunDisconnectPatches(_ context.Context, sessionID string) error {
	s.mu.Lock()
	pending := s.patches[sessionID]
	delete(s.patches, sessionID)
	delete(s.presence, sessionID)
	for _, p := range pending {
		current, ok := s.roots[p.root]
		if !ok {
			continue // 房间已删除，补偿更新失去意义
		}
		for k, v := range p.fields {
			current[k] = v
		}
		s.notifyLocked(p.root)
	}
	s.mu.Unlock()
	return nil
}

func (s *Store) TouchPresence(_ context.Context, sessionID string) error {
	s.mu.Lock()
	s.presence[sessionID] = time.Now()
	s.mu.Unlock()
	return nil
}

// StaleSessions 返回存活标记早于 cutoff 且仍挂有补偿更新的会话，测试及清理任务使用。
func (s *Store) StaleSessions(cutoff time.Time) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var stale []string
	for sessionID := range s.patches {
		if seen, ok := s.presence[sessionID]; !ok || seen.Before(cutoff) {
			stale = append(stale, sessionID)
		}
	}
	return stale
}

// notifyLocked 把 root 的最新字段集合推送给所有订阅者。调用方必须持有锁。
func (s *Store) notifyLocked(root string) {
	fields, ok := s.roots[root]
	if !ok {
		return
	}
	snapshot := copyFields(fields)
	for sub := range s.subs {
		if sub.root != root {
			continue
		}
		select {
		case sub.ch <- snapshot:
		default: // 消费者落后时丢弃旧通知，下一次推送仍是完整快照
		}
	}
}

func (s *Store) notifyDeletedLocked(root string) {
	for sub := range s.subs {
		if sub.root != root {
			continue
		}
		select {
		case sub.ch <- nil:
		default:
		}
	}
}

func copyFields(fields store.Fields) store.Fields {
	out := make(store.Fields, len(fields))
	for k, v := range fields {
		out[k] = v
	}
	return out
}
