package lane

import (
	"fmt"
	"sync"

	"git.fiblab.net/general/common/v2/geometry"
	"git.fiblab.net/general/common/v2/mathutil"
	geov2 "git.fiblab.net/sim/protos/v2/go/city/geo/v2"
	mapv2 "git.fiblab.net/sim/protos/v2/go/city/map/v2"
	"github.com/samber/lo"
	"github.com/tsinghua-fib-lab/coopsignal/entity"
)

const (
	// 排队判定速度阈值(m/s)，低于该速度的车辆视为排队
	queueSpeedThreshold = 0.1
)

// laneList 车道上的车辆链表
// 功能：包装有序链表，提供缓冲的增删操作
// 说明：增删操作在Update阶段写入buffer，Prepare阶段统一生效，
// 同时修复因车辆前进导致的顺序扰动
type laneList struct {
	list         entity.VehicleList
	addBuffer    []*entity.VehicleNode
	removeBuffer []*entity.VehicleNode
	mtx          sync.Mutex
}

func newLaneList(id string) *laneList {
	return &laneList{list: entity.VehicleList{ID: id}}
}

// add 缓冲添加车辆节点
func (l *laneList) add(node *entity.VehicleNode) {
	l.mtx.Lock()
	defer l.mtx.Unlock()
	l.addBuffer = append(l.addBuffer, node)
}

// remove 缓冲移除车辆节点
func (l *laneList) remove(node *entity.VehicleNode) {
	l.mtx.Lock()
	defer l.mtx.Unlock()
	l.removeBuffer = append(l.removeBuffer, node)
}

// applyRemoves 应用移除缓冲区
// 说明：跨车道移动的节点必须先从旧车道移除才能插入新车道，
// 因此移除与插入分两个阶段执行
func (l *laneList) applyRemoves() {
	for _, node := range l.removeBuffer {
		l.list.Remove(node)
	}
	l.removeBuffer = l.removeBuffer[:0]
}

// applyAdds 应用添加缓冲区并恢复链表有序性
func (l *laneList) applyAdds() {
	adds := append(l.list.PopUnsorted(), l.addBuffer...)
	l.list.Merge(adds)
	l.addBuffer = l.addBuffer[:0]
}

// Lane 车道实体
// 功能：表示地图中的车道，包含拓扑信息、信号灯状态、车辆管理等功能
type Lane struct {
	ctx entity.ITaskContext

	id int32

	// 初始化临时变量

	initPredecessors []*mapv2.LaneConnection
	initSuccessors   []*mapv2.LaneConnection

	typ               mapv2.LaneType              // 车道类型
	turn              mapv2.LaneTurn              // 转向类型
	maxV              float64                     // 车道限速
	parentJunction    entity.IJunction            // 所在路口
	parentRoad        entity.IRoad                // 所在道路
	parentID          int32                       // 父对象ID
	offsetInRoad      int                         // 在道路中的索引，0为最左侧车道
	predecessors      map[int32]entity.Connection // 前驱车道映射表
	successors        map[int32]entity.Connection // 后继车道映射表
	uniquePredecessor entity.ILane                // 唯一前驱
	uniqueSuccessor   entity.ILane                // 唯一后继
	length            float64                     // 以中心线的长度为车道长度

	vehicles *laneList // 车道上的车辆（按S升序）

	lightState              mapv2.LightState // 车道信号灯状态
	lightStateTotalTime     float64          // 车道信号灯本相位总时长
	lightStateRemainingTime float64          // 车道信号灯下一次切换时间
}

// newLane 创建并初始化一个新的Lane实例
// 功能：根据基础数据创建Lane对象，计算几何长度并初始化信号灯状态
// 参数：ctx-任务上下文，base-基础Lane数据
// 返回：初始化完成的Lane实例
// 说明：无信控写入时车道保持全绿
func newLane(ctx entity.ITaskContext, base *mapv2.Lane) *Lane {
	l := &Lane{
		ctx:                     ctx,
		id:                      base.Id,
		initPredecessors:        base.Predecessors,
		initSuccessors:          base.Successors,
		typ:                     base.Type,
		turn:                    base.Turn,
		maxV:                    base.MaxSpeed,
		predecessors:            make(map[int32]entity.Connection),
		successors:              make(map[int32]entity.Connection),
		lightState:              mapv2.LightState_LIGHT_STATE_GREEN,
		lightStateTotalTime:     mathutil.INF,
		lightStateRemainingTime: mathutil.INF,
	}
	line := lo.Map(base.CenterLine.Nodes, func(node *geov2.XYPosition, _ int) geometry.Point {
		return geometry.NewPointFromPb(node)
	})
	lineLengths := geometry.GetPolylineLengths2D(line)
	l.length = lineLengths[len(lineLengths)-1]

	switch l.typ {
	case mapv2.LaneType_LANE_TYPE_DRIVING:
		l.vehicles = newLaneList(fmt.Sprintf("lane %d vehicles", l.id))
	case mapv2.LaneType_LANE_TYPE_WALKING:
	default:
		log.Panicf("bad type %v for lane %d", l.typ, l.id)
	}
	return l
}

// initWithManager 在管理器初始化后建立Lane的连接关系
// 功能：根据初始化数据建立前驱、后继等拓扑关系
// 参数：laneManager-车道管理器
func (l *Lane) initWithManager(laneManager entity.ILaneManager) {
	for _, conn := range l.initPredecessors {
		lane := laneManager.Get(conn.Id)
		l.predecessors[conn.Id] = entity.Connection{Lane: lane, Type: conn.Type}
	}
	if len(l.predecessors) == 1 {
		for _, conn := range l.predecessors {
			l.uniquePredecessor = conn.Lane
			break
		}
	}
	for _, conn := range l.initSuccessors {
		lane := laneManager.Get(conn.Id)
		l.successors[conn.Id] = entity.Connection{Lane: lane, Type: conn.Type}
	}
	if len(l.successors) == 1 {
		for _, conn := range l.successors {
			l.uniqueSuccessor = conn.Lane
			break
		}
	}
	l.initPredecessors = nil
	l.initSuccessors = nil
}

// prepareRemoves 准备阶段第一步，应用车辆链表的移除缓冲区
func (l *Lane) prepareRemoves() {
	if l.vehicles != nil {
		l.vehicles.applyRemoves()
	}
}

// prepareAdds 准备阶段第二步，应用添加缓冲区并恢复有序性
func (l *Lane) prepareAdds() {
	if l.vehicles != nil {
		l.vehicles.applyAdds()
	}
}

// SetParentRoadWhenInit 设置lane所在road的指针与偏移量
func (l *Lane) SetParentRoadWhenInit(parent entity.IRoad, offset int) {
	l.parentRoad = parent
	l.parentID = parent.ID()
	l.offsetInRoad = offset
}

// SetParentJunctionWhenInit 设置lane所在junction
func (l *Lane) SetParentJunctionWhenInit(parent entity.IJunction) {
	l.parentJunction = parent
	l.parentID = parent.ID()
}

// String 获取Lane的字符串表示
func (l *Lane) String() string {
	return fmt.Sprintf("Lane %d", l.id)
}

// ID 获取Lane ID
func (l *Lane) ID() int32 {
	return l.id
}

// Length 获取Lane长度
func (l *Lane) Length() float64 {
	return l.length
}

// Type 获取Lane类型
func (l *Lane) Type() mapv2.LaneType {
	return l.typ
}

// Turn 获取Lane转向类型
func (l *Lane) Turn() mapv2.LaneTurn {
	return l.turn
}

// ParentID 获取Lane的父对象(road/junction)的ID
func (l *Lane) ParentID() int32 {
	return l.parentID
}

// OffsetInRoad 获取Lane在Road中的偏移量
func (l *Lane) OffsetInRoad() int {
	return l.offsetInRoad
}

// Predecessors 获取Lane的所有前驱Lane与连接关系
func (l *Lane) Predecessors() map[int32]entity.Connection {
	return l.predecessors
}

// Successors 获取Lane的所有后继Lane与连接关系
func (l *Lane) Successors() map[int32]entity.Connection {
	return l.successors
}

// UniquePredecessor 查询唯一前驱
// 返回：唯一前驱Lane，如果前驱不唯一则返回error
func (l *Lane) UniquePredecessor() (entity.ILane, error) {
	if l.uniquePredecessor == nil {
		return nil, fmt.Errorf("lane %d has no unique predecessor", l.id)
	}
	return l.uniquePredecessor, nil
}

// UniqueSuccessor 查询唯一后继
// 返回：唯一后继Lane，如果后继不唯一则返回error
func (l *Lane) UniqueSuccessor() (entity.ILane, error) {
	if l.uniqueSuccessor == nil {
		return nil, fmt.Errorf("lane %d has no unique successor", l.id)
	}
	return l.uniqueSuccessor, nil
}

// InRoad 检查Lane是否为Road Lane
func (l *Lane) InRoad() bool {
	return l.parentRoad != nil
}

// InJunction 检查Lane是否为Junction Lane
func (l *Lane) InJunction() bool {
	return l.parentJunction != nil
}

// ParentRoad 获取Lane所在的Road
func (l *Lane) ParentRoad() entity.IRoad {
	return l.parentRoad
}

// ParentJunction 获取Lane所在的Junction
func (l *Lane) ParentJunction() entity.IJunction {
	return l.parentJunction
}

// MaxV 获取车道限速
func (l *Lane) MaxV() float64 {
	return l.maxV
}

// Light 获取信号灯状态
// 返回：灯色、本相位总时长、剩余时长
func (l *Lane) Light() (mapv2.LightState, float64, float64) {
	return l.lightState, l.lightStateTotalTime, l.lightStateRemainingTime
}

// SetLight 设置信号灯状态
// 说明：由信控在Prepare阶段写入
func (l *Lane) SetLight(state mapv2.LightState, totalTime float64, remainingTime float64) {
	l.lightState = state
	l.lightStateTotalTime = totalTime
	l.lightStateRemainingTime = remainingTime
}

// IsWalkLane 检查是否是人行道
func (l *Lane) IsWalkLane() bool {
	return l.typ == mapv2.LaneType_LANE_TYPE_WALKING
}

// IsNoEntry 检查车道是否不能通行（不是绿灯）
func (l *Lane) IsNoEntry() bool {
	return l.lightState != mapv2.LightState_LIGHT_STATE_GREEN
}

// FirstVehicle 获取第一辆车（S最小）
func (l *Lane) FirstVehicle() *entity.VehicleNode {
	if l.vehicles == nil {
		return nil
	}
	return l.vehicles.list.First()
}

// LastVehicle 获取最后一辆车（S最大）
func (l *Lane) LastVehicle() *entity.VehicleNode {
	if l.vehicles == nil {
		return nil
	}
	return l.vehicles.list.Last()
}

// Vehicles 获取车道上的车辆链表
func (l *Lane) Vehicles() *entity.VehicleList {
	if l.vehicles == nil {
		return nil
	}
	return &l.vehicles.list
}

// VehicleCount 统计车辆数
func (l *Lane) VehicleCount() int32 {
	if l.vehicles == nil {
		return 0
	}
	return int32(l.vehicles.list.Len())
}

// QueueCount 统计排队车辆数
// 功能：统计车道上近似停止的车辆数，用于基于排队长度的信控策略
func (l *Lane) QueueCount() int32 {
	if l.vehicles == nil {
		return 0
	}
	count := int32(0)
	for node := l.vehicles.list.First(); node != nil; node = node.Next() {
		if node.Value.V() < queueSpeedThreshold {
			count++
		}
	}
	return count
}

// AddVehicle 向Lane链表中添加车辆（Prepare后生效）
func (l *Lane) AddVehicle(node *entity.VehicleNode) {
	if l.vehicles == nil {
		log.Panicf("add vehicle to non-driving lane %d", l.id)
	}
	l.vehicles.add(node)
}

// RemoveVehicle 从Lane链表中移除车辆（Prepare后生效）
func (l *Lane) RemoveVehicle(node *entity.VehicleNode) {
	if l.vehicles == nil {
		log.Panicf("remove vehicle from non-driving lane %d", l.id)
	}
	l.vehicles.remove(node)
}
