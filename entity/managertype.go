package entity

import (
	mapv2 "git.fiblab.net/sim/protos/v2/go/city/map/v2"
	"git.fiblab.net/sim/syncer/v3"
	"github.com/tsinghua-fib-lab/coopsignal/utils/config"
)

// Manager依赖倒置

// entity/lane/manager.go的依赖倒置
type ILaneManager interface {
	Init(pbs []*mapv2.Lane) // 初始化

	// 输入Lane ID，查找Lane，如果不存在则panic
	Get(id int32) ILane
	// 输入Lane ID，查找Lane，如果不存在则返回error
	GetOrError(id int32) (ILane, error)

	Prepare() // 准备阶段
}

// entity/road/manager.go的依赖倒置
type IRoadManager interface {
	Init(pbs []*mapv2.Road, laneManager ILaneManager) // 初始化

	// 输入Road ID，查找Road，如果不存在则panic
	Get(id int32) IRoad
	// 输入Road ID，查找Road，如果不存在则返回error
	GetOrError(id int32) (IRoad, error)
}

// entity/junction/manager.go的依赖倒置
type IJunctionManager interface {
	Init(pbs []*mapv2.Junction, laneManager ILaneManager, roadManager IRoadManager) // 初始化
	Register(sidecar *syncer.Sidecar)                                               // 注册到Sidecar

	// 输入Junction ID，查找Junction，如果不存在则panic
	Get(id int32) IJunction
	// 输入Junction ID，查找Junction，如果不存在则返回error
	GetOrError(id int32) (IJunction, error)
	// 获取所有Junction
	Junctions() []IJunction

	Prepare()          // 准备阶段
	Update(dt float64) // 更新阶段
}

// entity/vehicle/manager.go的依赖倒置
type IVehicleManager interface {
	Init(demand config.Demand, roadManager IRoadManager) // 初始化发车计划

	// 输入Vehicle ID，查找Vehicle，如果不存在则返回error
	GetOrError(id int32) (IVehicle, error)
	// 获取当前活跃车辆（上一个Prepare之后的快照集合）
	Vehicles() []IVehicle

	Prepare()          // 准备阶段
	Update(dt float64) // 更新阶段
}
