package vehicle

import (
	"fmt"
	"sync"

	"git.fiblab.net/general/common/v2/parallel"
	"github.com/samber/lo"
	"github.com/sirupsen/logrus"
	"github.com/tsinghua-fib-lab/coopsignal/entity"
	"github.com/tsinghua-fib-lab/coopsignal/utils/config"
	"github.com/tsinghua-fib-lab/coopsignal/utils/container"
	"github.com/tsinghua-fib-lab/coopsignal/utils/randengine"
)

var log = logrus.WithField("module", "vehicle")

const (
	// 起点被占用时的发车重试间隔（秒）
	spawnRetryInterval = 1.0
)

// spawnEvent 发车事件
type spawnEvent struct {
	flow *config.Flow
}

// VehicleManager 车辆管理器
// 功能：按需求配置生成车辆，管理活跃车辆集合并推进车辆运动
type VehicleManager struct {
	ctx entity.ITaskContext

	data     map[int32]*Vehicle
	dataMtx  sync.Mutex
	vehicles *container.IncrementalArray[*Vehicle]
	schedule *container.PriorityQueue[*spawnEvent]

	roadManager entity.IRoadManager
	generator   *randengine.Engine
	nextID      int32
}

// NewManager 创建车辆管理器实例
// 参数：ctx-任务上下文
func NewManager(ctx entity.ITaskContext) *VehicleManager {
	return &VehicleManager{
		ctx:      ctx,
		data:     make(map[int32]*Vehicle),
		vehicles: container.NewIncrementalArray[*Vehicle](),
		schedule: container.NewPriorityQueue[*spawnEvent](),
	}
}

// Init 初始化发车计划
// 功能：根据需求配置构造发车事件队列
// 参数：demand-车流需求配置，roadManager-道路管理器
// 说明：每条车流按发车间隔等距排布，叠加[0, MaxJitter)的随机扰动
func (m *VehicleManager) Init(demand config.Demand, roadManager entity.IRoadManager) {
	m.roadManager = roadManager
	m.generator = randengine.New(uint64(len(demand.Flows)))
	for i := range demand.Flows {
		flow := &demand.Flows[i]
		if len(flow.Routes) == 0 {
			log.Panicf("flow %d has no route", i)
		}
		if len(flow.Weights) != 0 && len(flow.Weights) != len(flow.Routes) {
			log.Panicf("flow %d has %d weights but %d routes", i, len(flow.Weights), len(flow.Routes))
		}
		for k := 0; k < flow.Count; k++ {
			t := flow.Start + float64(k)*flow.Headway
			if flow.MaxJitter > 0 {
				t += m.generator.Float64() * flow.MaxJitter
			}
			m.schedule.Push(&spawnEvent{flow: flow}, t)
		}
	}
	m.schedule.Heapify()
	log.Infof("vehicle manager: %d spawn events scheduled", m.schedule.Len())
}

// GetOrError 根据ID获取车辆实例（带错误处理）
// 参数：id-车辆的唯一标识符
// 返回：车辆实例和错误信息，如果不存在则返回nil和错误
func (m *VehicleManager) GetOrError(id int32) (entity.IVehicle, error) {
	m.dataMtx.Lock()
	defer m.dataMtx.Unlock()
	if v, ok := m.data[id]; !ok {
		return nil, fmt.Errorf("no id %d in vehicle data", id)
	} else {
		return v, nil
	}
}

// Vehicles 获取当前活跃车辆
func (m *VehicleManager) Vehicles() []entity.IVehicle {
	return lo.Map(m.vehicles.Data(), func(v *Vehicle, _ int) entity.IVehicle {
		return v
	})
}

// Prepare 准备阶段
// 功能：应用活跃车辆集合的增删，更新所有车辆的快照
func (m *VehicleManager) Prepare() {
	m.vehicles.Prepare()
	parallel.GoFor(m.vehicles.Data(), func(v *Vehicle) { v.prepare() })
}

// Update 更新阶段
// 功能：并行推进所有活跃车辆，回收到达终点的车辆，处理到期的发车事件
// 参数：dt-时间步长
func (m *VehicleManager) Update(dt float64) {
	parallel.GoFor(m.vehicles.Data(), func(v *Vehicle) {
		if v.update(dt) {
			m.vehicles.Remove(v)
			m.dataMtx.Lock()
			delete(m.data, v.id)
			m.dataMtx.Unlock()
		}
	})

	t := m.ctx.Clock().T
	for m.schedule.Len() > 0 && m.schedule.FirstPriority() <= t {
		event, _ := m.schedule.HeapPop()
		m.spawn(event, t)
	}
}

// spawn 处理一个发车事件
// 功能：选择路线并在起点车道生成车辆，起点被占用时延后重试
// 参数：event-发车事件，t-当前时刻
func (m *VehicleManager) spawn(event *spawnEvent, t float64) {
	flow := event.flow
	routeIndex := int32(0)
	if len(flow.Routes) > 1 {
		if len(flow.Weights) > 0 {
			routeIndex = m.generator.DiscreteDistribution(flow.Weights)
		} else {
			routeIndex = int32(m.generator.Intn(len(flow.Routes)))
		}
	}
	path, err := m.buildPath(flow.Routes[routeIndex])
	if err != nil {
		log.Errorf("drop spawn event: %v", err)
		return
	}
	// 起点被占用时延后重试
	if first := path[0].FirstVehicle(); first != nil && first.S < first.Value.Length()+minGap {
		m.schedule.HeapPush(event, t+spawnRetryInterval)
		return
	}
	v := newVehicle(m.nextID, path, 0)
	m.nextID++
	m.dataMtx.Lock()
	m.data[v.id] = v
	m.dataMtx.Unlock()
	m.vehicles.Add(v)
	path[0].AddVehicle(&v.node)
}

// buildPath 将道路序列展开为车道路径
// 功能：为路线上相邻的两条道路选择路口内的连接车道，
// 生成道路车道与路口车道交替的行驶路径
// 参数：roadIDs-道路ID序列
// 返回：车道路径和错误信息
// 算法说明：
// 1. 根据第一个路口的车道组确定起始道路上的行驶车道，
// 单一道路的路线使用最右侧行车道
// 2. 此后优先选择前驱为当前车道的路口车道，不存在时
// 取车道组第一条（视为在停车线前完成了换道）
func (m *VehicleManager) buildPath(roadIDs []int32) ([]entity.ILane, error) {
	if len(roadIDs) == 0 {
		return nil, fmt.Errorf("empty route")
	}
	roads := make([]entity.IRoad, len(roadIDs))
	for i, id := range roadIDs {
		road, err := m.roadManager.GetOrError(id)
		if err != nil {
			return nil, err
		}
		roads[i] = road
	}
	var path []entity.ILane
	cur := roads[0].RightestDrivingLane()
	for i := 0; i+1 < len(roads); i++ {
		junction := roads[i].DrivingSuccessor()
		if junction == nil {
			return nil, fmt.Errorf("road %d has no successor junction", roads[i].ID())
		}
		group, ok := junction.DrivingLaneGroup(roads[i], roads[i+1])
		if !ok || len(group) == 0 {
			return nil, fmt.Errorf(
				"no driving lane group from road %d to road %d in junction %d",
				roads[i].ID(), roads[i+1].ID(), junction.ID(),
			)
		}
		junctionLane := group[0]
		for _, l := range group {
			if pre, err := l.UniquePredecessor(); err == nil && pre == cur {
				junctionLane = l
				break
			}
		}
		if i == 0 {
			// 起始车道改为与路口车道衔接的车道
			if pre, err := junctionLane.UniquePredecessor(); err == nil {
				cur = pre
			}
		}
		path = append(path, cur, junctionLane)
		next, err := junctionLane.UniqueSuccessor()
		if err != nil {
			return nil, err
		}
		cur = next
	}
	path = append(path, cur)
	return path, nil
}
