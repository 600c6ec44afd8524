// Package store 抽象房间协议依赖的远端实时键值存储。
// 存储以"房间根路径 + 扁平字段"组织数据，提供一次性读取、变更订阅、
// 子树覆盖、字段合并、原子自增、删除，以及断线补偿更新的登记。
// 跨客户端的写入顺序不做任何保证，上层协议必须对并发写保持幂等或可交换。
package store

import (
	"context"
	"errors"
	"time"
)

// PatchRetention 是未执行的断线补偿更新在存储里的最长保留时间。
// 超过它仍未触发，说明房间早已过了保留期，补偿已无意义。
const PatchRetention = time.Hour

var (
	// ErrNotFound 表示目标路径下没有数据。
	ErrNotFound = errors.New("store: not found")
	// ErrUnavailable 表示后端暂时不可用，调用方可以有界重试。
	ErrUnavailable = errors.New("store: unavailable")
)

// Fields 是一个子树的扁平字段集合：子路径 -> 编码后的标量值。
type Fields map[string]string

// Store 是实时存储适配器。所有方法都是异步边界，可能任意延迟或失败。
type Store interface {
	// ReadOnce 读取 root 下的全部字段。路径不存在时返回 ErrNotFound。
	ReadOnce(ctx context.Context, root string) (Fields, error)

	// Subscribe 订阅 root 下的变更。每次变更后投递一份完整字段集合
	// (允许合并抖动，消费者总是以最新一份为准)；root 被删除时投递 nil。
	// 返回的取消函数幂等，调用后通道关闭。
	Subscribe(ctx context.Context, root string) (<-chan Fields, func(), error)

	// WriteSubtree 用 fields 整体替换 root 下的内容。
	WriteSubtree(ctx context.Context, root string, fields Fields) error

	// MergeFields 合并写入部分字段，未提及的字段保持不变。
	// 单个字段的并发写为 last-write-wins。
	MergeFields(ctx context.Context, root string, fields Fields) error

	// IncrField 原子地把一个整数字段加上 delta，返回新值。
	// 计分等真正的读改写必须走这里，而不是读出整个文档再写回。
	IncrField(ctx context.Context, root, field string, delta int64) (int64, error)

	// DeleteSubtree 删除 root 下的全部内容并通知订阅者。
	DeleteSubtree(ctx context.Context, root string) error

	// DeletePrefix 删除 root 下指定前缀的字段 (例如回合切换时清空 submissions/)。
	DeletePrefix(ctx context.Context, root, prefix string) error

	// ListRoots 列出具有给定前缀的全部根路径，供过期清理扫描。
	ListRoots(ctx context.Context, prefix string) ([]string, error)

	// RegisterDisconnectPatch 登记一条补偿更新：当 sessionID 对应的连接
	// 消失时，由存储侧把 fields 合并到 root。同一会话可以登记多条。
	RegisterDisconnectPatch(ctx context.Context, sessionID, root string, fields Fields) error

	// ClearDisconnectPatches 撤销某个会话登记的全部补偿更新 (正常离开时)。
	ClearDisconnectPatches(ctx context.Context, sessionID string) error

	// RunDisconnectPatches 立即执行并清除某个会话的补偿更新。
	// 会话的 Teardown 调用它；对已消失的会话由后台清理执行。
	RunDisconnectPatches(ctx context.Context, sessionID string) error

	// TouchPresence 刷新会话的存活标记。标记过期而补偿更新仍在，
	// 即判定连接已消失。
	TouchPresence(ctx context.Context, sessionID string) error
}
