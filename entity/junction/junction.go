package junction

import (
	"errors"

	mapv2 "git.fiblab.net/sim/protos/v2/go/city/map/v2"
	"github.com/samber/lo"
	"github.com/tsinghua-fib-lab/coopsignal/entity"
	"github.com/tsinghua-fib-lab/coopsignal/entity/junction/signal"
	"google.golang.org/protobuf/proto"
)

var (
	ErrNoSignal = errors.New("no traffic signal for the junction")
)

const (
	// 相位时长缺失或非法时的兜底值（秒）
	defaultPhaseDuration = 30.0
)

type laneGroupKey struct {
	InRoad  entity.IRoad
	OutRoad entity.IRoad
}

// Junction 路口实体
// 功能：表示路网中的路口，管理路口内车道、车道组与信号灯
type Junction struct {
	ctx entity.ITaskContext

	id                int32
	lanes             map[int32]entity.ILane // 车道id->车道指针映射表
	controlledLanes   []entity.ILane         // 受控车道，与相位状态串下标对齐
	drivingLanes      []entity.ILane         // 行车道
	drivingLaneGroups map[laneGroupKey][]entity.ILane
	incomingLanes     []entity.ILane // 进入本路口的行车道（去重）

	signal entity.ISignal // 信号灯，无定周期程序时为nil
}

// newJunction 创建并初始化一个新的Junction实例
// 功能：根据基础数据创建Junction对象，初始化车道、车道组与信号灯
// 参数：ctx-任务上下文，base-基础Junction数据，laneManager-车道管理器，roadManager-道路管理器
// 返回：初始化完成的Junction实例
// 说明：携带定周期程序的路口创建信号灯，程序中非正的相位时长
// 替换为兜底值后写入
func newJunction(
	ctx entity.ITaskContext,
	base *mapv2.Junction,
	laneManager entity.ILaneManager,
	roadManager entity.IRoadManager,
) *Junction {
	j := &Junction{
		ctx:               ctx,
		id:                base.Id,
		lanes:             make(map[int32]entity.ILane),
		drivingLaneGroups: make(map[laneGroupKey][]entity.ILane),
	}

	// 初始化车道映射，受控车道按LaneIds顺序与相位状态串对齐
	for _, laneID := range base.LaneIds {
		lane := laneManager.Get(laneID)
		lane.SetParentJunctionWhenInit(j)
		j.lanes[laneID] = lane
		j.controlledLanes = append(j.controlledLanes, lane)
		if lane.Type() == mapv2.LaneType_LANE_TYPE_DRIVING {
			j.drivingLanes = append(j.drivingLanes, lane)
		}
	}

	// 初始化车道组映射
	for _, g := range base.DrivingLaneGroups {
		inRoad := roadManager.Get(g.InRoadId)
		outRoad := roadManager.Get(g.OutRoadId)
		key := laneGroupKey{InRoad: inRoad, OutRoad: outRoad}
		j.drivingLaneGroups[key] = lo.Map(g.LaneIds, func(laneID int32, _ int) entity.ILane {
			return j.lanes[laneID]
		})
	}

	// 初始化进入本路口的行车道
	for _, l := range j.drivingLanes {
		pre, err := l.UniquePredecessor()
		if err != nil {
			log.Panicf("get unique predecessor error: %v", err)
		}
		if pre.InRoad() {
			j.incomingLanes = append(j.incomingLanes, pre)
		}
	}
	j.incomingLanes = lo.Uniq(j.incomingLanes)

	// 信号灯初始化
	if base.FixedProgram != nil && len(base.FixedProgram.Phases) > 0 {
		program := proto.Clone(base.FixedProgram).(*mapv2.TrafficLight)
		for _, phase := range program.Phases {
			if phase.Duration <= 0 {
				phase.Duration = defaultPhaseDuration
			}
		}
		j.signal = signal.New(j.id, j.controlledLanes)
		if err := j.signal.Set(program); err != nil {
			log.Errorf("junction %d: set fixed program error: %v", j.id, err)
			j.signal = nil
		}
	}

	return j
}

// prepare 准备阶段
// 功能：执行信号灯的准备工作，应用写入缓冲区并将灯色写入受控车道
func (j *Junction) prepare() {
	if j.signal != nil {
		j.signal.Prepare()
	}
}

// update 更新阶段
// 功能：推进信号灯相位时间
// 参数：dt-时间步长
func (j *Junction) update(dt float64) {
	if j.signal != nil {
		j.signal.Update(dt)
	}
}

// ID 获取Junction ID
func (j *Junction) ID() int32 {
	if j == nil {
		return -1
	}
	return j.id
}

// Lanes 获取Junction内的所有车道（Lane ID -> Lane）
func (j *Junction) Lanes() map[int32]entity.ILane {
	return j.lanes
}

// HasSignal 判断是否有信号灯
func (j *Junction) HasSignal() bool {
	return j.signal != nil
}

// Signal 获取信号灯控制器，无信控时返回nil
func (j *Junction) Signal() entity.ISignal {
	return j.signal
}

// ControlledLanes 获取信控相位表对应的受控车道（与相位状态串下标对齐）
func (j *Junction) ControlledLanes() []entity.ILane {
	return j.controlledLanes
}

// IncomingLanes 获取进入本路口的行车道（受控行车道的前驱，去重）
func (j *Junction) IncomingLanes() []entity.ILane {
	return j.incomingLanes
}

// DrivingLaneGroup 根据(入道路, 出道路)获取Junction内的行车道组
// 参数：inRoad-入道路，outRoad-出道路
// 返回：车道列表、是否找到
func (j *Junction) DrivingLaneGroup(inRoad, outRoad entity.IRoad) (lanes []entity.ILane, ok bool) {
	lanes, ok = j.drivingLaneGroups[laneGroupKey{InRoad: inRoad, OutRoad: outRoad}]
	return
}

// setSignal 替换信控程序
// 返回：无信号灯时返回错误
func (j *Junction) setSignal(tl *mapv2.TrafficLight) error {
	if j.signal == nil {
		return ErrNoSignal
	}
	return j.signal.Set(tl)
}

// unsetSignal 删除信控程序（全绿）
// 返回：无信号灯时返回错误
func (j *Junction) unsetSignal() error {
	if j.signal == nil {
		return ErrNoSignal
	}
	j.signal.Unset()
	return nil
}

// setPhase 设置信号灯到指定相位与剩余时间
// 返回：无信号灯时返回错误
func (j *Junction) setPhase(offset int32, remainingTime float64) error {
	if j.signal == nil {
		return ErrNoSignal
	}
	j.signal.SetPhase(offset, remainingTime)
	return nil
}

// setStatus 设置信号灯开关状态
// 返回：无信号灯时返回错误
func (j *Junction) setStatus(ok bool) error {
	if j.signal == nil {
		return ErrNoSignal
	}
	j.signal.SetOk(ok)
	return nil
}
