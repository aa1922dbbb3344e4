package entity

import (
	mapv2 "git.fiblab.net/sim/protos/v2/go/city/map/v2"
	"github.com/tsinghua-fib-lab/coopsignal/utils/container"
)

// Lane连接关系
type Connection struct {
	Lane ILane                    // 连接到的Lane
	Type mapv2.LaneConnectionType // 连接类型
}

// 车辆链表节点类型
type VehicleNode = container.ListNode[IVehicle]

// 车辆链表类型
type VehicleList = container.List[IVehicle]

// SignalDistance 车辆前方的信控路口与到达距离
// 说明：Distance总是有限值，表示沿当前路径到该路口停止线的距离；
// 不可达的路口不会出现在链中，以此表达"无界距离"
type SignalDistance struct {
	Junction IJunction // 前方信控路口
	Distance float64   // 到停止线的距离（米）
}

// entity/lane/lane.go的依赖倒置
type ILane interface {
	// 初始化

	SetParentRoadWhenInit(parent IRoad, offset int) // 设置lane所在road的指针与偏移量
	SetParentJunctionWhenInit(parent IJunction)     // 设置lane所在junction

	// Print

	String() string

	// getter

	ID() int32            // 获取Lane ID
	Length() float64      // 获取Lane长度
	Type() mapv2.LaneType // 获取Lane类型
	Turn() mapv2.LaneTurn // 获取Lane转向类型
	ParentID() int32      // 获取Lane的父对象(road/junction)的ID
	OffsetInRoad() int    // Road Lane在Road中的偏移量，最左侧为0，往右侧递增

	Predecessors() map[int32]Connection // 获取Lane的所有前驱Lane与连接关系
	Successors() map[int32]Connection   // 获取Lane的所有后继Lane与连接关系
	// 查询唯一前驱，仅限于车道类型为DRIVING的路口内车道
	UniquePredecessor() (ILane, error)
	// 查询唯一后继，仅限于车道类型为DRIVING的路口内车道
	UniqueSuccessor() (ILane, error)
	InRoad() bool     // 检查Lane是否为Road Lane
	InJunction() bool // 检查Lane是否为Junction Lane

	// 所在道路/路口

	ParentRoad() IRoad         // 获取Lane所在的Road
	ParentJunction() IJunction // 获取Lane所在的Junction

	// 车道状态

	MaxV() float64 // 获取车道限速
	// 获取信号灯状态
	Light() (state mapv2.LightState, totalTime float64, remainingTime float64)
	// 设置信号灯状态（由信控写入）
	SetLight(state mapv2.LightState, totalTime float64, remainingTime float64)
	IsWalkLane() bool // 检查是否是人行道
	IsNoEntry() bool  // 检查车道是否不能通行（不是绿灯）

	// 车辆管理

	FirstVehicle() *VehicleNode // 获取第一辆车（S最小）
	LastVehicle() *VehicleNode  // 获取最后一辆车（S最大）
	Vehicles() *VehicleList     // 获取车道上的车辆
	VehicleCount() int32        // 统计车辆数
	QueueCount() int32          // 统计排队（近似停止）车辆数

	// Lane链表操作

	AddVehicle(node *VehicleNode)    // 向Lane链表中添加车辆（Prepare后生效）
	RemoveVehicle(node *VehicleNode) // 从Lane链表中移除车辆（Prepare后生效）
}

// entity/road/road.go的依赖倒置
type IRoad interface {
	String() string

	ID() int32                     // 获取Road ID
	Name() string                  // 获取Road名称
	Lanes() map[int32]ILane        // 获取Road的所有Lane(ID -> Lane)
	DrivingLanes() []ILane         // 获取行车道（从左到右排序）
	RightestDrivingLane() ILane    // 获取最右侧的行车道（最靠近路边）
	DrivingPredecessor() IJunction // 获取前驱Junction
	DrivingSuccessor() IJunction   // 获取后继Junction

	MaxV() float64 // 获取道路限速
}

// entity/junction/junction.go的依赖倒置
type IJunction interface {
	ID() int32              // 获取Junction ID
	Lanes() map[int32]ILane // 获取Junction内的所有车道（Lane ID -> Lane）

	// 信控

	HasSignal() bool // 判断路口是否带有信号灯控制器
	Signal() ISignal // 获取信号灯控制器，无信控时返回nil

	// 信控相位表对应的受控车道（与相位状态串下标对齐）
	ControlledLanes() []ILane
	// 进入本路口的行车道（受控行车道的前驱，去重）
	IncomingLanes() []ILane

	// 根据(入道路, 出道路) 获取Junction内的行车道组
	DrivingLaneGroup(inRoad, outRoad IRoad) (lanes []ILane, ok bool)
}

// entity/vehicle/vehicle.go的依赖倒置
type IVehicle interface {
	String() string

	ID() int32       // 获取车辆ID
	V() float64      // 获取当前速度
	Length() float64 // 获取车长
	Lane() ILane     // 获取所在车道
	S() float64      // 获取在车道上的S坐标

	// 获取前方信控路口链（按距离从近到远，最多两个）
	NextSignals() []SignalDistance
}
