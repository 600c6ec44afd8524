// Package tasks 定义后台任务的类型与负载。
package tasks

import "encoding/json"

// 任务类型常量。
const (
	// TypeRoomSweep 是周期性清理任务：删除超过保留期的房间、
	// 强制结算截止已过的回合、执行失联会话的断线补偿。
	TypeRoomSweep = "room:sweep"
)

// RoomSweepPayload 是清理任务的负载。周期任务不需要携带参数，保留结构体便于扩展。
type RoomSweepPayload struct{}

// NewRoomSweepTask 序列化清理任务的负载。
func NewRoomSweepTask() ([]byte, error) {
	return json.Marshal(RoomSweepPayload{})
}
