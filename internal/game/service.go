// Package game 实现房间生命周期与回合同步协议：
// 创建/加入/离开房间、成员与房主管理、阶段状态机、推进守卫和会话拆除。
// 所有共享状态都存放在远端实时存储里，本包的职责是让任意数量的客户端
// 在无服务端裁决的前提下对同一份房间文档达成一致。
package game

import (
	"time"

	"github.com/Spike1990AI/party-games/internal/repository"
	"github.com/Spike1990AI/party-games/internal/store"
)

// RoomRootPrefix 是实时存储中所有房间根路径的公共前缀。
const RoomRootPrefix = "rooms/"

// RoomRoot 返回指定房间码的存储根路径。
func RoomRoot(code string) string {
	return RoomRootPrefix + code
}

// Service 聚合房间协议的全部操作。
// 它是无状态的：同一个实例可以服务任意多个房间，房间文档只活在存储里。
type Service struct {
	store   store.Store
	archive repository.RoomArchive
	now     func() time.Time // 测试注入用
}

// NewService 创建协议服务。archive 为 nil 时跳过战绩登记 (协议正确性不依赖它)。
func NewService(st store.Store, archive repository.RoomArchive) *Service {
	if st == nil {
		panic("store cannot be nil for game.Service")
	}
	return &Service{
		store:   st,
		archive: archive,
		now:     time.Now,
	}
}
