package road

import (
	"fmt"

	mapv2 "git.fiblab.net/sim/protos/v2/go/city/map/v2"
	"github.com/samber/lo"
	"github.com/tsinghua-fib-lab/coopsignal/entity"
)

// Road 道路实体
// 功能：表示路网中的一段道路，由一组平行车道组成
type Road struct {
	ctx entity.ITaskContext

	id   int32
	name string

	lanes        map[int32]entity.ILane // 车道映射表
	laneList     []entity.ILane         // 车道列表（从左到右排序）
	drivingLanes []entity.ILane         // 行车道列表（从左到右排序）

	// 延迟初始化缓存，路口初始化完成后才可用

	drivingPredecessor entity.IJunction
	drivingSuccessor   entity.IJunction
}

// newRoad 创建并初始化一个新的Road实例
// 功能：根据基础数据创建Road对象并建立车道关联关系
// 参数：ctx-任务上下文，base-基础Road数据，laneManager-车道管理器
// 返回：初始化完成的Road实例
func newRoad(ctx entity.ITaskContext, base *mapv2.Road, laneManager entity.ILaneManager) *Road {
	r := &Road{
		ctx:   ctx,
		id:    base.Id,
		name:  base.Name,
		lanes: make(map[int32]entity.ILane),
	}
	for offset, laneID := range base.LaneIds {
		lane := laneManager.Get(laneID)
		lane.SetParentRoadWhenInit(r, offset)
		r.lanes[laneID] = lane
		r.laneList = append(r.laneList, lane)
		if lane.Type() == mapv2.LaneType_LANE_TYPE_DRIVING {
			r.drivingLanes = append(r.drivingLanes, lane)
		}
	}
	if len(r.drivingLanes) == 0 {
		log.Panicf("road %d has no driving lane", r.id)
	}
	return r
}

// String 获取Road的字符串表示
func (r *Road) String() string {
	return fmt.Sprintf("Road %d %s", r.id, r.name)
}

// ID 获取Road ID
func (r *Road) ID() int32 {
	return r.id
}

// Name 获取Road名称
func (r *Road) Name() string {
	return r.name
}

// Lanes 获取Road的所有Lane(ID -> Lane)
func (r *Road) Lanes() map[int32]entity.ILane {
	return r.lanes
}

// DrivingLanes 获取行车道（从左到右排序）
func (r *Road) DrivingLanes() []entity.ILane {
	return r.drivingLanes
}

// RightestDrivingLane 获取最右侧的行车道（最靠近路边）
func (r *Road) RightestDrivingLane() entity.ILane {
	return r.drivingLanes[len(r.drivingLanes)-1]
}

// DrivingPredecessor 获取前驱Junction
// 说明：通过行车道的前驱路口内车道反查，要求路口初始化已完成；
// 道路为路网入口时返回nil
func (r *Road) DrivingPredecessor() entity.IJunction {
	if r.drivingPredecessor == nil {
		for _, conn := range r.RightestDrivingLane().Predecessors() {
			if conn.Lane.InJunction() {
				r.drivingPredecessor = conn.Lane.ParentJunction()
				break
			}
		}
	}
	return r.drivingPredecessor
}

// DrivingSuccessor 获取后继Junction
// 说明：通过行车道的后继路口内车道反查，要求路口初始化已完成；
// 道路为路网出口时返回nil
func (r *Road) DrivingSuccessor() entity.IJunction {
	if r.drivingSuccessor == nil {
		for _, conn := range r.RightestDrivingLane().Successors() {
			if conn.Lane.InJunction() {
				r.drivingSuccessor = conn.Lane.ParentJunction()
				break
			}
		}
	}
	return r.drivingSuccessor
}

// MaxV 获取道路限速（取行车道限速最大值）
func (r *Road) MaxV() float64 {
	return lo.Max(lo.Map(r.drivingLanes, func(l entity.ILane, _ int) float64 {
		return l.MaxV()
	}))
}
