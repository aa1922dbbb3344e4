package signal

import (
	"testing"

	mapv2 "git.fiblab.net/sim/protos/v2/go/city/map/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tsinghua-fib-lab/coopsignal/entity"
)

type lightWrite struct {
	state         mapv2.LightState
	totalTime     float64
	remainingTime float64
}

type fakeLane struct {
	entity.ILane
	light lightWrite
}

func (l *fakeLane) SetLight(state mapv2.LightState, totalTime float64, remainingTime float64) {
	l.light = lightWrite{state: state, totalTime: totalTime, remainingTime: remainingTime}
}

func newTestSignal() (*FixedSignal, *fakeLane, *fakeLane) {
	laneA := &fakeLane{}
	laneB := &fakeLane{}
	s := New(100, []entity.ILane{laneA, laneB})
	return s, laneA, laneB
}

func testProgram() *mapv2.TrafficLight {
	return &mapv2.TrafficLight{
		JunctionId: 100,
		Phases: []*mapv2.Phase{
			{
				States: []mapv2.LightState{
					mapv2.LightState_LIGHT_STATE_GREEN,
					mapv2.LightState_LIGHT_STATE_RED,
				},
				Duration: 10,
			},
			{
				States: []mapv2.LightState{
					mapv2.LightState_LIGHT_STATE_RED,
					mapv2.LightState_LIGHT_STATE_GREEN,
				},
				Duration: 5,
			},
		},
	}
}

func TestSetValidation(t *testing.T) {
	s, _, _ := newTestSignal()

	bad := testProgram()
	bad.JunctionId = 101
	assert.Error(t, s.Set(bad))

	bad = testProgram()
	bad.Phases = nil
	assert.Error(t, s.Set(bad))

	bad = testProgram()
	bad.Phases[0].States = bad.Phases[0].States[:1]
	assert.Error(t, s.Set(bad))

	bad = testProgram()
	bad.Phases[1].Duration = 0
	assert.Error(t, s.Set(bad))

	assert.NoError(t, s.Set(testProgram()))
}

func TestSetTakesEffectAtPrepare(t *testing.T) {
	s, laneA, laneB := newTestSignal()
	require.NoError(t, s.Set(testProgram()))

	// Prepare前程序不可见
	assert.Nil(t, s.Program())

	s.Prepare()
	require.NotNil(t, s.Program())
	assert.Equal(t, int32(0), s.Step())
	assert.Equal(t, 10.0, s.RemainingTime())
	assert.Equal(t, lightWrite{mapv2.LightState_LIGHT_STATE_GREEN, 10, 10}, laneA.light)
	assert.Equal(t, lightWrite{mapv2.LightState_LIGHT_STATE_RED, 10, 10}, laneB.light)
}

func TestUpdateAdvancesPhase(t *testing.T) {
	s, laneA, laneB := newTestSignal()
	require.NoError(t, s.Set(testProgram()))
	s.Prepare()

	s.Update(4)
	s.Update(4)
	s.Prepare()
	assert.Equal(t, int32(0), s.Step())
	assert.InDelta(t, 2, s.RemainingTime(), 1e-9)

	// 剩余时间耗尽，切换到下一相位并带上欠账
	s.Update(3)
	s.Prepare()
	assert.Equal(t, int32(1), s.Step())
	assert.InDelta(t, 4, s.RemainingTime(), 1e-9)
	assert.Equal(t, mapv2.LightState_LIGHT_STATE_RED, laneA.light.state)
	assert.Equal(t, mapv2.LightState_LIGHT_STATE_GREEN, laneB.light.state)

	// 相位循环
	s.Update(4)
	s.Prepare()
	assert.Equal(t, int32(0), s.Step())
	assert.InDelta(t, 10, s.RemainingTime(), 1e-9)
}

func TestSetPhase(t *testing.T) {
	s, _, _ := newTestSignal()
	require.NoError(t, s.Set(testProgram()))
	s.Prepare()

	s.SetPhase(1, 3)
	// Prepare前不生效
	assert.Equal(t, int32(0), s.Step())
	s.Prepare()
	assert.Equal(t, int32(1), s.Step())
	assert.InDelta(t, 3, s.RemainingTime(), 1e-9)
	assert.InDelta(t, 5, s.snapshot.totalTime, 1e-9)

	// 越界的相位下标被忽略
	s.SetPhase(5, 3)
	s.Prepare()
	assert.Equal(t, int32(1), s.Step())
}

func TestSetOk(t *testing.T) {
	s, laneA, laneB := newTestSignal()
	require.NoError(t, s.Set(testProgram()))
	s.Prepare()

	s.SetOk(false)
	s.Prepare()
	assert.False(t, s.Ok())
	// 信控失效，车道全绿
	assert.Equal(t, mapv2.LightState_LIGHT_STATE_GREEN, laneA.light.state)
	assert.Equal(t, mapv2.LightState_LIGHT_STATE_GREEN, laneB.light.state)
	assert.Greater(t, laneA.light.remainingTime, 1e6)
	// 失效期间相位不推进
	s.Update(100)
	s.SetOk(true)
	s.Prepare()
	assert.Equal(t, int32(0), s.Step())
	assert.InDelta(t, 10, s.RemainingTime(), 1e-9)
}

func TestUnset(t *testing.T) {
	s, laneA, _ := newTestSignal()
	require.NoError(t, s.Set(testProgram()))
	s.Prepare()

	s.Unset()
	s.Prepare()
	assert.Nil(t, s.Program())
	assert.Equal(t, mapv2.LightState_LIGHT_STATE_GREEN, laneA.light.state)
}
