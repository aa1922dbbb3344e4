package vehicle

import (
	"flag"
	"fmt"
	"math"

	"git.fiblab.net/general/common/v2/mathutil"
	"github.com/tsinghua-fib-lab/coopsignal/entity"
	"github.com/tsinghua-fib-lab/coopsignal/utils/container"
)

var (
	vehicleLength   = flag.Float64("veh.length", 5, "vehicle length (m)")
	maxAcceleration = flag.Float64("veh.max_acceleration", 3, "vehicle max acceleration (m/s^2)")
)

const (
	// 跟车最小间距（米）
	minGap = 2.0
	// 红灯停车线与车道末端的距离（米）
	stopLineMargin = 1.0
	// 前方信控路口链的最大长度
	maxNextSignals = 2
)

// vehicleRuntime 车辆运行时状态
type vehicleRuntime struct {
	pathIndex int     // 当前车道在路径中的下标
	s         float64 // 车道上的S坐标
	v         float64 // 速度
}

// Vehicle 车辆实体
// 功能：沿预先展开的车道路径行驶，受前车与信号灯约束
// 算法说明：采用快照-运行时机制，Update阶段并行推进各车辆的运行时状态，
// 读取其他车辆时只访问上一个Prepare产生的快照
type Vehicle struct {
	container.IncrementalItemBase

	id     int32
	length float64

	path []entity.ILane     // 车道路径（道路车道与路口车道交替）
	node entity.VehicleNode // 车道链表节点，Value指向本车

	snapshot vehicleRuntime
	runtime  vehicleRuntime
}

// newVehicle 创建车辆实例
// 参数：id-车辆ID，path-车道路径，s-初始S坐标
func newVehicle(id int32, path []entity.ILane, s float64) *Vehicle {
	v := &Vehicle{
		id:     id,
		length: *vehicleLength,
		path:   path,
	}
	v.runtime = vehicleRuntime{pathIndex: 0, s: s, v: 0}
	v.snapshot = v.runtime
	v.node.S = s
	v.node.Value = v
	return v
}

// prepare 准备阶段，更新快照与链表节点键值
func (v *Vehicle) prepare() {
	v.node.S = v.runtime.s
	v.snapshot = v.runtime
}

// update 更新阶段，推进车辆运动
// 功能：按最大加速度提速并受限速、前车与红灯约束，
// 到达车道末端后沿路径进入下一车道
// 参数：dt-时间步长
// 返回：车辆到达路径终点时返回true，此时已从车道链表移除
func (v *Vehicle) update(dt float64) (done bool) {
	lane := v.path[v.runtime.pathIndex]
	speed := math.Min(v.runtime.v+*maxAcceleration*dt, lane.MaxV())
	maxS := mathutil.INF
	// 前车约束
	if ahead := v.node.Next(); ahead != nil {
		maxS = math.Min(maxS, ahead.Value.S()-ahead.Value.Length()-minGap)
	}
	// 信号灯约束：下一车道为路口车道且不可通行时在停车线前停车
	if next := v.nextLane(v.runtime.pathIndex); next != nil && next.InJunction() && next.IsNoEntry() {
		maxS = math.Min(maxS, lane.Length()-stopLineMargin)
	}
	s := v.runtime.s + speed*dt
	if s > maxS {
		s = math.Max(maxS, v.runtime.s)
	}
	speed = (s - v.runtime.s) / dt

	// 跨车道推进
	index := v.runtime.pathIndex
	for s >= v.path[index].Length() {
		if index+1 >= len(v.path) {
			done = true
			break
		}
		s -= v.path[index].Length()
		index++
	}
	if done {
		v.path[v.runtime.pathIndex].RemoveVehicle(&v.node)
		return true
	}
	if index != v.runtime.pathIndex {
		v.path[v.runtime.pathIndex].RemoveVehicle(&v.node)
		v.path[index].AddVehicle(&v.node)
	}
	v.runtime = vehicleRuntime{pathIndex: index, s: s, v: speed}
	return false
}

// nextLane 获取路径中指定下标之后的车道
func (v *Vehicle) nextLane(index int) entity.ILane {
	if index+1 >= len(v.path) {
		return nil
	}
	return v.path[index+1]
}

// String 获取车辆的字符串表示
func (v *Vehicle) String() string {
	return fmt.Sprintf("Vehicle %d", v.id)
}

// ID 获取车辆ID
func (v *Vehicle) ID() int32 {
	return v.id
}

// V 获取当前速度
func (v *Vehicle) V() float64 {
	return v.snapshot.v
}

// Length 获取车长
func (v *Vehicle) Length() float64 {
	return v.length
}

// Lane 获取所在车道
func (v *Vehicle) Lane() entity.ILane {
	return v.path[v.snapshot.pathIndex]
}

// S 获取在车道上的S坐标
func (v *Vehicle) S() float64 {
	return v.snapshot.s
}

// NextSignals 获取前方信控路口链
// 功能：沿剩余路径累计距离，收集前方带信号灯的路口及到其停车线的距离
// 返回：按距离从近到远排列，最多maxNextSignals个；
// 不在路径上的路口视为不可达，不会出现在结果中
func (v *Vehicle) NextSignals() []entity.SignalDistance {
	var out []entity.SignalDistance
	lane := v.path[v.snapshot.pathIndex]
	d := lane.Length() - v.snapshot.s
	for i := v.snapshot.pathIndex + 1; i < len(v.path) && len(out) < maxNextSignals; i++ {
		next := v.path[i]
		if next.InJunction() {
			if j := next.ParentJunction(); j.HasSignal() {
				out = append(out, entity.SignalDistance{Junction: j, Distance: d})
			}
		}
		d += next.Length()
	}
	return out
}
