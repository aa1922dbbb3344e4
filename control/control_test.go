package control

import (
	"fmt"
	"math"
	"testing"

	mapv2 "git.fiblab.net/sim/protos/v2/go/city/map/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tsinghua-fib-lab/coopsignal/entity"
)

// 测试用实体，嵌入接口类型以省略无关方法

type fakeRoad struct {
	entity.IRoad
	id int32
}

func (r *fakeRoad) ID() int32 { return r.id }

type fakeLane struct {
	entity.ILane
	typ        mapv2.LaneType
	parentRoad entity.IRoad
	pre        entity.ILane
	queue      int32
}

func (l *fakeLane) Type() mapv2.LaneType      { return l.typ }
func (l *fakeLane) InRoad() bool              { return l.parentRoad != nil }
func (l *fakeLane) ParentRoad() entity.IRoad  { return l.parentRoad }
func (l *fakeLane) QueueCount() int32         { return l.queue }
func (l *fakeLane) UniquePredecessor() (entity.ILane, error) {
	if l.pre == nil {
		return nil, fmt.Errorf("no unique predecessor")
	}
	return l.pre, nil
}

type phaseWrite struct {
	offset        int32
	remainingTime float64
}

type fakeSignal struct {
	program    *mapv2.TrafficLight
	step       int32
	remaining  float64
	ok         bool
	phaseSets  []phaseWrite
	programSet []*mapv2.TrafficLight
}

func (s *fakeSignal) Program() *mapv2.TrafficLight { return s.program }
func (s *fakeSignal) Step() int32                  { return s.step }
func (s *fakeSignal) RemainingTime() float64       { return s.remaining }
func (s *fakeSignal) Ok() bool                     { return s.ok }
func (s *fakeSignal) Prepare()                     {}
func (s *fakeSignal) Update(dt float64)            {}
func (s *fakeSignal) Set(tl *mapv2.TrafficLight) error {
	s.program = tl
	s.programSet = append(s.programSet, tl)
	return nil
}
func (s *fakeSignal) Unset() { s.program = nil }
func (s *fakeSignal) SetPhase(offset int32, remainingTime float64) {
	s.phaseSets = append(s.phaseSets, phaseWrite{offset: offset, remainingTime: remainingTime})
}
func (s *fakeSignal) SetOk(ok bool) { s.ok = ok }

func (s *fakeSignal) lastPhaseSet() phaseWrite {
	return s.phaseSets[len(s.phaseSets)-1]
}

type fakeJunction struct {
	entity.IJunction
	id         int32
	signal     *fakeSignal
	controlled []entity.ILane
	incoming   []entity.ILane
}

func (j *fakeJunction) ID() int32                     { return j.id }
func (j *fakeJunction) HasSignal() bool               { return j.signal != nil }
func (j *fakeJunction) Signal() entity.ISignal        { return j.signal }
func (j *fakeJunction) ControlledLanes() []entity.ILane { return j.controlled }
func (j *fakeJunction) IncomingLanes() []entity.ILane   { return j.incoming }

type fakeVehicle struct {
	id      int32
	v       float64
	lane    entity.ILane
	signals []entity.SignalDistance
}

func (v *fakeVehicle) String() string                      { return fmt.Sprintf("Vehicle %d", v.id) }
func (v *fakeVehicle) ID() int32                           { return v.id }
func (v *fakeVehicle) V() float64                          { return v.v }
func (v *fakeVehicle) Length() float64                     { return 5 }
func (v *fakeVehicle) Lane() entity.ILane                  { return v.lane }
func (v *fakeVehicle) S() float64                          { return 0 }
func (v *fakeVehicle) NextSignals() []entity.SignalDistance { return v.signals }

// newTestJunction 构造双进口三相位的测试路口
// 相位0放行道路roadA，相位1放行道路roadB，相位2为全黄过渡
func newTestJunction(id int32, roadA, roadB *fakeRoad) (*fakeJunction, *fakeLane, *fakeLane) {
	laneOnA := &fakeLane{typ: mapv2.LaneType_LANE_TYPE_DRIVING, parentRoad: roadA}
	laneOnB := &fakeLane{typ: mapv2.LaneType_LANE_TYPE_DRIVING, parentRoad: roadB}
	jlA := &fakeLane{typ: mapv2.LaneType_LANE_TYPE_DRIVING, pre: laneOnA}
	jlB := &fakeLane{typ: mapv2.LaneType_LANE_TYPE_DRIVING, pre: laneOnB}
	j := &fakeJunction{
		id: id,
		signal: &fakeSignal{
			ok: true,
			program: &mapv2.TrafficLight{
				JunctionId: id,
				Phases: []*mapv2.Phase{
					{
						States: []mapv2.LightState{
							mapv2.LightState_LIGHT_STATE_GREEN,
							mapv2.LightState_LIGHT_STATE_RED,
						},
						Duration: 20,
					},
					{
						States: []mapv2.LightState{
							mapv2.LightState_LIGHT_STATE_RED,
							mapv2.LightState_LIGHT_STATE_GREEN,
						},
						Duration: 20,
					},
					{
						States: []mapv2.LightState{
							mapv2.LightState_LIGHT_STATE_YELLOW,
							mapv2.LightState_LIGHT_STATE_YELLOW,
						},
						Duration: 3,
					},
				},
			},
		},
		controlled: []entity.ILane{jlA, jlB},
		incoming:   []entity.ILane{laneOnA, laneOnB},
	}
	return j, laneOnA, laneOnB
}

func TestResolveApproaches(t *testing.T) {
	roadA := &fakeRoad{id: 1}
	roadB := &fakeRoad{id: 2}
	j, _, _ := newTestJunction(100, roadA, roadB)

	approaches, baselines := resolveApproaches(j)
	require.Len(t, approaches, 3)
	assert.Equal(t, approachSet{1: {}}, approaches[0])
	assert.Equal(t, approachSet{2: {}}, approaches[1])
	// 黄灯相位无放行道路
	assert.Empty(t, approaches[2])
	assert.Equal(t, []float64{20, 20, 3}, baselines)
}

func TestAdjustTarget(t *testing.T) {
	tests := []struct {
		name                   string
		target, baseline, load float64
		want                   float64
	}{
		{"high load extends", 20, 20, 6.0, 23},
		{"high load cutoff inclusive", 20, 20, 5.0, 23},
		{"low load relaxes toward baseline by dec", 30, 20, 0.5, 29},
		{"low load does not cross baseline from above", 20.5, 20, 0.5, 20},
		{"low load at baseline shrinks", 20, 20, 0.5, 19},
		{"low load below baseline keeps shrinking", 15, 20, 0.5, 14},
		{"low load cutoff inclusive", 20, 20, 1.0, 19},
		{"medium relaxes down", 25, 20, 3, 23},
		{"medium relaxes up", 15, 20, 3, 17},
		{"medium does not overshoot from above", 21, 20, 3, 20},
		{"medium does not overshoot from below", 19.5, 20, 3, 20},
		{"medium at baseline keeps", 20, 20, 3, 20},
		{"clamped to max", 59, 20, 6.0, 60},
		{"clamped to min", 8.5, 20, 0.5, 8},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, adjustTarget(tt.target, tt.baseline, tt.load), 1e-9)
		})
	}
}

func TestCooperativePrepareWeights(t *testing.T) {
	roadA := &fakeRoad{id: 1}
	roadB := &fakeRoad{id: 2}
	jA, laneOnA, _ := newTestJunction(100, roadA, roadB)
	jB, _, _ := newTestJunction(101, roadA, roadB)

	s := newCooperative([]entity.IJunction{jA, jB})

	// ETA恰好等于时间窗：计入，权重为1/(1+1)=0.5
	s.Prepare([]entity.IVehicle{&fakeVehicle{
		id: 1, v: 5, lane: laneOnA,
		signals: []entity.SignalDistance{{Junction: jA, Distance: 45}},
	}})
	assert.InDelta(t, 0.5, s.local[loadKey{junction: 100, road: 1}], 1e-9)

	// ETA超出时间窗：不计入
	s.Prepare([]entity.IVehicle{&fakeVehicle{
		id: 2, v: 5, lane: laneOnA,
		signals: []entity.SignalDistance{{Junction: jA, Distance: 50}},
	}})
	assert.Empty(t, s.local)
	assert.Empty(t, s.upstream)

	// 静止车辆按速度下限计算ETA
	s.Prepare([]entity.IVehicle{&fakeVehicle{
		id: 3, v: 0, lane: laneOnA,
		signals: []entity.SignalDistance{{Junction: jA, Distance: 0.5}},
	}})
	assert.Greater(t, s.local[loadKey{junction: 100, road: 1}], 0.5)

	// 权重随ETA单调递减
	weightOf := func(dist float64) float64 {
		s.Prepare([]entity.IVehicle{&fakeVehicle{
			id: 4, v: 5, lane: laneOnA,
			signals: []entity.SignalDistance{{Junction: jA, Distance: dist}},
		}})
		return s.local[loadKey{junction: 100, road: 1}]
	}
	assert.Greater(t, weightOf(5), weightOf(15))
	assert.Greater(t, weightOf(15), weightOf(30))

	// 前方第二个信控路口计入上行负载，权重相同
	s.Prepare([]entity.IVehicle{&fakeVehicle{
		id: 5, v: 5, lane: laneOnA,
		signals: []entity.SignalDistance{
			{Junction: jA, Distance: 45},
			{Junction: jB, Distance: 200},
		},
	}})
	assert.InDelta(t, 0.5, s.local[loadKey{junction: 100, road: 1}], 1e-9)
	assert.InDelta(t, 0.5, s.upstream[101], 1e-9)

	// 路口内车道上的车辆不计本地负载，但仍计上行负载
	junctionLane := &fakeLane{typ: mapv2.LaneType_LANE_TYPE_DRIVING}
	s.Prepare([]entity.IVehicle{&fakeVehicle{
		id: 6, v: 5, lane: junctionLane,
		signals: []entity.SignalDistance{
			{Junction: jA, Distance: 45},
			{Junction: jB, Distance: 200},
		},
	}})
	assert.Empty(t, s.local)
	assert.InDelta(t, 0.5, s.upstream[101], 1e-9)
}

// heavyLoad 在roadA上构造超过高负载阈值的车流
func heavyLoad(j entity.IJunction, lane entity.ILane) []entity.IVehicle {
	var vehicles []entity.IVehicle
	for i := 0; i < 12; i++ {
		vehicles = append(vehicles, &fakeVehicle{
			id: int32(i), v: 10, lane: lane,
			signals: []entity.SignalDistance{{Junction: j, Distance: 10}},
		})
	}
	return vehicles
}

func TestCooperativeControl(t *testing.T) {
	roadA := &fakeRoad{id: 1}
	roadB := &fakeRoad{id: 2}
	j, laneOnA, _ := newTestJunction(100, roadA, roadB)
	s := newCooperative([]entity.IJunction{j})

	// 高负载：相位0目标上调，剩余时长对齐到目标
	s.Prepare(heavyLoad(j, laneOnA))
	s.Control(j, 0)
	cj := s.data[100]
	assert.InDelta(t, 23, cj.phases[0].target, 1e-9)
	assert.Equal(t, phaseWrite{offset: 0, remainingTime: 23}, j.signal.lastPhaseSet())
	// 无负载的相位1保持基准
	assert.InDelta(t, 20, cj.phases[1].target, 1e-9)

	// 调整间隔内不再上调，但每tick都执行剩余时长写入
	s.Prepare(heavyLoad(j, laneOnA))
	s.Control(j, 1)
	assert.InDelta(t, 23, cj.phases[0].target, 1e-9)
	assert.Equal(t, phaseWrite{offset: 0, remainingTime: 22}, j.signal.lastPhaseSet())

	// 到达调整间隔后继续上调
	s.Prepare(heavyLoad(j, laneOnA))
	s.Control(j, 2)
	assert.InDelta(t, 26, cj.phases[0].target, 1e-9)
	assert.Equal(t, phaseWrite{offset: 0, remainingTime: 24}, j.signal.lastPhaseSet())

	// 剩余时长不低于下限
	s.Prepare(nil)
	s.Control(j, 40)
	assert.InDelta(t, 0.5, j.signal.lastPhaseSet().remainingTime, 1e-9)

	// 相位切换后重新计时
	j.signal.step = 1
	s.Prepare(nil)
	s.Control(j, 50)
	last := j.signal.lastPhaseSet()
	assert.Equal(t, int32(1), last.offset)
	assert.InDelta(t, cj.phases[1].target, last.remainingTime, 1e-9)
	assert.Equal(t, 50.0, cj.phaseStart)

	// 黄灯相位不写入剩余时长
	j.signal.step = 2
	writes := len(j.signal.phaseSets)
	s.Prepare(nil)
	s.Control(j, 52)
	assert.Len(t, j.signal.phaseSets, writes)
	assert.Equal(t, 52.0, cj.phaseStart)
}

func TestCooperativeInactivePhaseKeepsTarget(t *testing.T) {
	roadA := &fakeRoad{id: 1}
	roadB := &fakeRoad{id: 2}
	j, _, laneOnB := newTestJunction(100, roadA, roadB)
	s := newCooperative([]entity.IJunction{j})

	// 相位0活跃期间，相位1的放行道路上持续有大量来车：
	// 非活跃的相位1不参与调整，目标保持不变；
	// 活跃的相位0因自身负载为0而衰减
	for tick := 0; tick < 10; tick++ {
		s.Prepare(heavyLoad(j, laneOnB))
		s.Control(j, float64(tick))
	}
	cj := s.data[100]
	assert.InDelta(t, 20, cj.phases[1].target, 1e-9)
	assert.Less(t, cj.phases[0].target, 20.0)
}

func TestCooperativeIdleDecay(t *testing.T) {
	roadA := &fakeRoad{id: 1}
	roadB := &fakeRoad{id: 2}
	j, _, _ := newTestJunction(100, roadA, roadB)
	s := newCooperative([]entity.IJunction{j})

	// 无车时负载为0，每个调整间隔目标减DEC
	targets := make([]float64, 0, 5)
	for tick := 0; tick < 5; tick++ {
		s.Prepare(nil)
		s.Control(j, float64(tick))
		targets = append(targets, s.data[100].phases[0].target)
	}
	assert.Equal(t, []float64{19, 19, 18, 18, 17}, targets)
}

func TestCooperativeClampNeverViolated(t *testing.T) {
	roadA := &fakeRoad{id: 1}
	roadB := &fakeRoad{id: 2}
	j, laneOnA, _ := newTestJunction(100, roadA, roadB)
	s := newCooperative([]entity.IJunction{j})

	for tick := 0; tick < 100; tick++ {
		if tick%2 == 0 {
			s.Prepare(heavyLoad(j, laneOnA))
		} else {
			s.Prepare(nil)
		}
		s.Control(j, float64(tick))
		cj := s.data[100]
		for p, phase := range cj.phases {
			if len(cj.approaches[p]) == 0 {
				continue
			}
			assert.GreaterOrEqual(t, phase.target, *coopMinGreen)
			assert.LessOrEqual(t, phase.target, *coopMaxGreen)
		}
	}
}

func TestThresholdControl(t *testing.T) {
	roadA := &fakeRoad{id: 1}
	roadB := &fakeRoad{id: 2}
	j, laneOnA, laneOnB := newTestJunction(100, roadA, roadB)
	s := newThreshold([]entity.IJunction{j})
	j.signal.step = 1
	j.signal.remaining = 12

	// 平均排队超过上阈值：放行相位整体延长并整程序替换
	laneOnA.queue = 10
	laneOnB.queue = 10
	s.Control(j, 0)
	require.Len(t, j.signal.programSet, 1)
	program := j.signal.programSet[0]
	assert.InDelta(t, 25, program.Phases[0].Duration, 1e-9)
	assert.InDelta(t, 25, program.Phases[1].Duration, 1e-9)
	// 黄灯相位保持基准
	assert.InDelta(t, 3, program.Phases[2].Duration, 1e-9)
	// 替换时保持当前相位与剩余时长
	assert.Equal(t, phaseWrite{offset: 1, remainingTime: 12}, j.signal.lastPhaseSet())

	// 平均排队低于下阈值：缩短
	laneOnA.queue = 0
	laneOnB.queue = 0
	s.Control(j, 1)
	require.Len(t, j.signal.programSet, 2)
	assert.InDelta(t, 21, j.signal.programSet[1].Phases[0].Duration, 1e-9)

	// 阈值之间：不替换
	laneOnA.queue = 5
	laneOnB.queue = 5
	s.Control(j, 2)
	assert.Len(t, j.signal.programSet, 2)

	// 定期回归基准
	s.Control(j, 301)
	require.Len(t, j.signal.programSet, 3)
	assert.InDelta(t, 20, j.signal.programSet[2].Phases[0].Duration, 1e-9)
}

func TestThresholdRemainingTruncated(t *testing.T) {
	roadA := &fakeRoad{id: 1}
	roadB := &fakeRoad{id: 2}
	j, laneOnA, _ := newTestJunction(100, roadA, roadB)
	s := newThreshold([]entity.IJunction{j})
	j.signal.remaining = 100

	laneOnA.queue = 20
	s.Control(j, 0)
	// 剩余时长超出新的相位时长时截断
	assert.Equal(t, phaseWrite{offset: 0, remainingTime: 25}, j.signal.lastPhaseSet())
}

func TestTrendControl(t *testing.T) {
	roadA := &fakeRoad{id: 1}
	roadB := &fakeRoad{id: 2}
	j, laneOnA, laneOnB := newTestJunction(100, roadA, roadB)
	s := newTrend([]entity.IJunction{j})

	// 窗口未满时不评估
	laneOnA.queue = 5
	laneOnB.queue = 5
	for tick := 0; tick < *trWindow-1; tick++ {
		s.Control(j, float64(tick))
	}
	assert.Empty(t, j.signal.programSet)

	// 窗口收集满，排队平稳且时长在基准上：不替换
	s.Control(j, 9)
	assert.Empty(t, j.signal.programSet)

	// 排队突增：趋势超出死区，放行相位延长；
	// 窗口按tick滑动，下一tick继续评估并再次延长
	laneOnA.queue = 20
	laneOnB.queue = 20
	s.Control(j, 10)
	require.Len(t, j.signal.programSet, 1)
	assert.InDelta(t, 25, j.signal.programSet[0].Phases[0].Duration, 1e-9)
	assert.InDelta(t, 3, j.signal.programSet[0].Phases[2].Duration, 1e-9)
	s.Control(j, 11)
	require.Len(t, j.signal.programSet, 2)
	assert.InDelta(t, 30, j.signal.programSet[1].Phases[0].Duration, 1e-9)

	// 趋势回到死区内：每tick向基准回归1秒
	tj := s.data[100]
	tj.window = tj.window[:0]
	laneOnA.queue = 5
	laneOnB.queue = 5
	for tick := 12; tick < 12+*trWindow; tick++ {
		s.Control(j, float64(tick))
	}
	last := j.signal.programSet[len(j.signal.programSet)-1]
	assert.InDelta(t, 29, last.Phases[0].Duration, 1e-9)
}

func TestAvgQueue(t *testing.T) {
	roadA := &fakeRoad{id: 1}
	roadB := &fakeRoad{id: 2}
	j, laneOnA, laneOnB := newTestJunction(100, roadA, roadB)
	laneOnA.queue = 4
	laneOnB.queue = 8
	assert.InDelta(t, 6, avgQueue(j), 1e-9)
	assert.Equal(t, 0.0, avgQueue(&fakeJunction{id: 1}))
}

func TestMean(t *testing.T) {
	assert.Equal(t, 0.0, mean(nil))
	assert.InDelta(t, 2, mean([]float64{1, 2, 3}), 1e-9)
	assert.True(t, !math.IsNaN(mean([]float64{})))
}
