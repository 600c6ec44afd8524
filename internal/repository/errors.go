// Package repository 定义持久化层的接口与通用错误。
// 具体实现位于 internal/infra 下，服务层只依赖这里的抽象。
package repository

import "errors"

var (
	// ErrNotFound 表示目标记录不存在。
	ErrNotFound = errors.New("repository: record not found")
	// ErrDuplicateEntry 表示唯一约束冲突。
	ErrDuplicateEntry = errors.New("repository: duplicate entry")
)
