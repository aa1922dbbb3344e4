package vehicle

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tsinghua-fib-lab/coopsignal/entity"
)

// 测试用实体，嵌入接口类型以省略无关方法

type fakeJunction struct {
	entity.IJunction
	id        int32
	hasSignal bool
	group     []entity.ILane
}

func (j *fakeJunction) ID() int32       { return j.id }
func (j *fakeJunction) HasSignal() bool { return j.hasSignal }
func (j *fakeJunction) DrivingLaneGroup(inRoad, outRoad entity.IRoad) ([]entity.ILane, bool) {
	return j.group, j.group != nil
}

type fakeLane struct {
	entity.ILane
	length   float64
	maxV     float64
	junction entity.IJunction
	noEntry  bool
	pre      entity.ILane
	succ     entity.ILane
	added    int
	removed  int
}

func (l *fakeLane) Length() float64                 { return l.length }
func (l *fakeLane) MaxV() float64                   { return l.maxV }
func (l *fakeLane) InRoad() bool                    { return l.junction == nil }
func (l *fakeLane) InJunction() bool                { return l.junction != nil }
func (l *fakeLane) ParentJunction() entity.IJunction { return l.junction }
func (l *fakeLane) IsNoEntry() bool                 { return l.noEntry }
func (l *fakeLane) FirstVehicle() *entity.VehicleNode { return nil }
func (l *fakeLane) AddVehicle(node *entity.VehicleNode)    { l.added++ }
func (l *fakeLane) RemoveVehicle(node *entity.VehicleNode) { l.removed++ }
func (l *fakeLane) UniquePredecessor() (entity.ILane, error) {
	if l.pre == nil {
		return nil, fmt.Errorf("no unique predecessor")
	}
	return l.pre, nil
}
func (l *fakeLane) UniqueSuccessor() (entity.ILane, error) {
	if l.succ == nil {
		return nil, fmt.Errorf("no unique successor")
	}
	return l.succ, nil
}

type fakeRoad struct {
	entity.IRoad
	id       int32
	rightest entity.ILane
	succ     entity.IJunction
}

func (r *fakeRoad) ID() int32                       { return r.id }
func (r *fakeRoad) RightestDrivingLane() entity.ILane { return r.rightest }
func (r *fakeRoad) DrivingSuccessor() entity.IJunction { return r.succ }

type fakeRoadManager struct {
	entity.IRoadManager
	roads map[int32]entity.IRoad
}

func (m *fakeRoadManager) GetOrError(id int32) (entity.IRoad, error) {
	if road, ok := m.roads[id]; ok {
		return road, nil
	}
	return nil, fmt.Errorf("no id %d in road data", id)
}

func TestVehicleMotion(t *testing.T) {
	laneA := &fakeLane{length: 100, maxV: 10}
	jx := &fakeJunction{id: 1, hasSignal: true}
	laneJ := &fakeLane{length: 20, maxV: 10, junction: jx, noEntry: true}
	laneB := &fakeLane{length: 100, maxV: 10}
	v := newVehicle(1, []entity.ILane{laneA, laneJ, laneB}, 0)

	// 匀加速启动
	require.False(t, v.update(1))
	assert.InDelta(t, 3, v.runtime.v, 1e-9)
	assert.InDelta(t, 3, v.runtime.s, 1e-9)

	// 红灯时停在停车线前
	for i := 0; i < 30; i++ {
		require.False(t, v.update(1))
	}
	assert.InDelta(t, laneA.length-stopLineMargin, v.runtime.s, 1e-9)
	assert.InDelta(t, 0, v.runtime.v, 1e-9)
	assert.Equal(t, 0, laneA.removed)

	// 绿灯后通过路口进入下游道路
	laneJ.noEntry = false
	for i := 0; i < 5; i++ {
		require.False(t, v.update(1))
	}
	assert.Equal(t, 2, v.runtime.pathIndex)
	assert.Equal(t, 1, laneA.removed)
	assert.Equal(t, 1, laneJ.added)
	assert.Equal(t, 1, laneJ.removed)
	assert.Equal(t, 1, laneB.added)

	// 到达路径终点后结束并离开车道
	done := false
	for i := 0; i < 30 && !done; i++ {
		done = v.update(1)
	}
	assert.True(t, done)
	assert.Equal(t, 1, laneB.removed)
}

func TestVehicleLeaderGap(t *testing.T) {
	lane := &fakeLane{length: 100, maxV: 10}
	leader := newVehicle(1, []entity.ILane{lane}, 50)
	follower := newVehicle(2, []entity.ILane{lane}, 0)
	var list entity.VehicleList
	list.Merge([]*entity.VehicleNode{&follower.node, &leader.node})

	for i := 0; i < 30; i++ {
		follower.update(1)
	}
	// 停在前车车尾减去最小间距处
	assert.InDelta(t, 50-leader.Length()-minGap, follower.runtime.s, 1e-9)
	assert.InDelta(t, 0, follower.runtime.v, 1e-9)
}

func TestNextSignals(t *testing.T) {
	jA := &fakeJunction{id: 1, hasSignal: true}
	jNoSignal := &fakeJunction{id: 2, hasSignal: false}
	jB := &fakeJunction{id: 3, hasSignal: true}
	jC := &fakeJunction{id: 4, hasSignal: true}
	laneA := &fakeLane{length: 100, maxV: 10}
	laneJA := &fakeLane{length: 20, maxV: 10, junction: jA}
	laneB := &fakeLane{length: 100, maxV: 10}
	laneJN := &fakeLane{length: 20, maxV: 10, junction: jNoSignal}
	laneC := &fakeLane{length: 100, maxV: 10}
	laneJB := &fakeLane{length: 20, maxV: 10, junction: jB}
	laneD := &fakeLane{length: 100, maxV: 10}
	laneJC := &fakeLane{length: 20, maxV: 10, junction: jC}
	laneE := &fakeLane{length: 100, maxV: 10}

	v := newVehicle(1, []entity.ILane{
		laneA, laneJA, laneB, laneJN, laneC, laneJB, laneD, laneJC, laneE,
	}, 40)

	signals := v.NextSignals()
	// 无信控路口不计入，链长上限为2，更远的路口视为不可达
	require.Len(t, signals, 2)
	assert.Equal(t, int32(1), signals[0].Junction.ID())
	assert.InDelta(t, 60, signals[0].Distance, 1e-9)
	assert.Equal(t, int32(3), signals[1].Junction.ID())
	assert.InDelta(t, 60+20+100+20+100, signals[1].Distance, 1e-9)

	// 路径终点前没有信控路口时链为空
	tail := newVehicle(2, []entity.ILane{laneE}, 0)
	assert.Empty(t, tail.NextSignals())
}

func TestBuildPath(t *testing.T) {
	laneA := &fakeLane{length: 100, maxV: 10}
	laneB := &fakeLane{length: 100, maxV: 10}
	jx := &fakeJunction{id: 1, hasSignal: true}
	laneJ := &fakeLane{length: 20, maxV: 10, junction: jx, pre: laneA, succ: laneB}
	jx.group = []entity.ILane{laneJ}
	roadB := &fakeRoad{id: 2, rightest: laneB}
	roadA := &fakeRoad{id: 1, rightest: laneA, succ: jx}

	m := &VehicleManager{roadManager: &fakeRoadManager{roads: map[int32]entity.IRoad{
		1: roadA,
		2: roadB,
	}}}

	path, err := m.buildPath([]int32{1, 2})
	require.NoError(t, err)
	require.Len(t, path, 3)
	assert.Same(t, entity.ILane(laneA), path[0])
	assert.Same(t, entity.ILane(laneJ), path[1])
	assert.Same(t, entity.ILane(laneB), path[2])

	_, err = m.buildPath([]int32{2, 1})
	assert.Error(t, err)
	_, err = m.buildPath(nil)
	assert.Error(t, err)
	_, err = m.buildPath([]int32{1, 3})
	assert.Error(t, err)
}
