package signal

import (
	"fmt"
	"sync"

	"git.fiblab.net/general/common/v2/mathutil"
	mapv2 "git.fiblab.net/sim/protos/v2/go/city/map/v2"
	"github.com/sirupsen/logrus"
	"github.com/tsinghua-fib-lab/coopsignal/entity"
)

var log = logrus.WithField("module", "signal")

// phaseSet 相位跳转请求
type phaseSet struct {
	offset        int32
	remainingTime float64
}

// runtime 信号灯运行时状态
type runtime struct {
	tl            *mapv2.TrafficLight // 信控程序，nil表示无程序（全绿）
	step          int32               // 当前相位下标
	totalTime     float64             // 当前相位总时长
	remainingTime float64             // 当前相位剩余时长
}

// FixedSignal 定周期信号灯
// 功能：按相位表循环放行，支持外部替换程序、跳转相位与修改剩余时长
// 算法说明：采用快照-缓冲机制，外部写入先进入buffer，
// Prepare阶段统一生效并将相位灯色写入受控车道，Update阶段推进相位时间
type FixedSignal struct {
	junctionID int32
	lanes      []entity.ILane // 受控车道，与相位状态串下标对齐

	snapshot runtime // 快照，供外部读取
	runtime  runtime // 运行时状态

	// 写入缓冲区

	setBuffer   *mapv2.TrafficLight
	unsetBuffer bool
	phaseBuffer *phaseSet
	okBuffer    *bool
	ok          bool

	mtx sync.Mutex
}

// New 创建信号灯实例
// 参数：junctionID-所属路口ID，lanes-受控车道（与相位状态串下标对齐）
func New(junctionID int32, lanes []entity.ILane) *FixedSignal {
	return &FixedSignal{
		junctionID: junctionID,
		lanes:      lanes,
		ok:         true,
	}
}

// Program 获取当前信控程序
func (s *FixedSignal) Program() *mapv2.TrafficLight {
	return s.snapshot.tl
}

// Step 获取当前相位下标
func (s *FixedSignal) Step() int32 {
	return s.snapshot.step
}

// RemainingTime 获取当前相位剩余时长
func (s *FixedSignal) RemainingTime() float64 {
	return s.snapshot.remainingTime
}

// Ok 获取当前信控开关情况
func (s *FixedSignal) Ok() bool {
	return s.ok
}

// Set 替换信控程序（Prepare后生效）
// 功能：校验并缓冲新的信控程序，生效时从第一个相位重新开始
// 参数：tl-新的信控程序
// 返回：程序不合法时返回error
func (s *FixedSignal) Set(tl *mapv2.TrafficLight) error {
	if tl.JunctionId != s.junctionID {
		return fmt.Errorf("traffic light junction id %d does not match junction %d", tl.JunctionId, s.junctionID)
	}
	if len(tl.Phases) == 0 {
		return fmt.Errorf("traffic light of junction %d has no phase", s.junctionID)
	}
	for i, phase := range tl.Phases {
		if len(phase.States) != len(s.lanes) {
			return fmt.Errorf(
				"traffic light of junction %d phase %d has %d states but %d controlled lanes",
				s.junctionID, i, len(phase.States), len(s.lanes),
			)
		}
		if phase.Duration <= 0 {
			return fmt.Errorf("traffic light of junction %d phase %d has non-positive duration", s.junctionID, i)
		}
	}
	s.mtx.Lock()
	defer s.mtx.Unlock()
	s.setBuffer = tl
	s.unsetBuffer = false
	return nil
}

// Unset 删除信控程序（Prepare后生效，车道全绿）
func (s *FixedSignal) Unset() {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	s.unsetBuffer = true
	s.setBuffer = nil
	s.phaseBuffer = nil
}

// SetPhase 修改信控相位到指定值（Prepare后生效）
// 参数：offset-目标相位下标，remainingTime-目标相位剩余时长
func (s *FixedSignal) SetPhase(offset int32, remainingTime float64) {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	s.phaseBuffer = &phaseSet{offset: offset, remainingTime: remainingTime}
}

// SetOk 设置信控开关情况（true信控工作|false信控失效-全绿）
func (s *FixedSignal) SetOk(ok bool) {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	s.okBuffer = &ok
}

// Prepare 准备阶段
// 功能：按删除程序→替换程序→跳转相位→开关的顺序应用缓冲区，
// 更新快照并将当前相位灯色写入受控车道
func (s *FixedSignal) Prepare() {
	s.mtx.Lock()
	if s.unsetBuffer {
		s.runtime = runtime{}
		s.unsetBuffer = false
	}
	if s.setBuffer != nil {
		s.runtime = runtime{
			tl:            s.setBuffer,
			step:          0,
			totalTime:     s.setBuffer.Phases[0].Duration,
			remainingTime: s.setBuffer.Phases[0].Duration,
		}
		s.setBuffer = nil
	}
	if s.phaseBuffer != nil {
		if s.runtime.tl == nil {
			log.Errorf("junction %d: set phase on empty traffic light program", s.junctionID)
		} else if s.phaseBuffer.offset < 0 || int(s.phaseBuffer.offset) >= len(s.runtime.tl.Phases) {
			log.Errorf("junction %d: set phase offset %d out of range", s.junctionID, s.phaseBuffer.offset)
		} else {
			s.runtime.step = s.phaseBuffer.offset
			s.runtime.totalTime = s.runtime.tl.Phases[s.runtime.step].Duration
			s.runtime.remainingTime = s.phaseBuffer.remainingTime
		}
		s.phaseBuffer = nil
	}
	if s.okBuffer != nil {
		s.ok = *s.okBuffer
		s.okBuffer = nil
	}
	s.snapshot = s.runtime
	s.mtx.Unlock()

	if s.snapshot.tl == nil || !s.ok {
		for _, lane := range s.lanes {
			lane.SetLight(mapv2.LightState_LIGHT_STATE_GREEN, mathutil.INF, mathutil.INF)
		}
		return
	}
	phase := s.snapshot.tl.Phases[s.snapshot.step]
	for i, lane := range s.lanes {
		lane.SetLight(phase.States[i], s.snapshot.totalTime, s.snapshot.remainingTime)
	}
}

// Update 更新阶段
// 功能：推进相位剩余时间，时间耗尽时切换到下一个相位
// 参数：dt-时间步长
func (s *FixedSignal) Update(dt float64) {
	if s.runtime.tl == nil || !s.ok {
		return
	}
	s.runtime.remainingTime -= dt
	for s.runtime.remainingTime <= 0 {
		s.runtime.step = (s.runtime.step + 1) % int32(len(s.runtime.tl.Phases))
		duration := s.runtime.tl.Phases[s.runtime.step].Duration
		s.runtime.totalTime = duration
		s.runtime.remainingTime += duration
	}
}
