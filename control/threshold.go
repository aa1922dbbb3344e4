package control

import (
	"flag"
	"math"

	mapv2 "git.fiblab.net/sim/protos/v2/go/city/map/v2"
	"github.com/samber/lo"
	"github.com/tsinghua-fib-lab/coopsignal/entity"
	"google.golang.org/protobuf/proto"
)

var (
	thUpper    = flag.Float64("ctl.th_upper", 8, "threshold: avg queue above which green is extended")
	thLower    = flag.Float64("ctl.th_lower", 2, "threshold: avg queue below which green is shortened")
	thInc      = flag.Float64("ctl.th_inc", 5, "threshold: green increase per adjustment (s)")
	thDec      = flag.Float64("ctl.th_dec", 4, "threshold: green decrease per adjustment (s)")
	thMinGreen = flag.Float64("ctl.th_min_green", 10, "threshold: min green duration (s)")
	thMaxGreen = flag.Float64("ctl.th_max_green", 60, "threshold: max green duration (s)")
	thReset    = flag.Float64("ctl.th_reset_interval", 300, "threshold: interval of resetting the program to baseline (s)")
)

// planJunction 基于整程序替换的策略的路口状态
// 说明：只被本路口的Control调用修改
type planJunction struct {
	junction  entity.IJunction
	greens    []bool    // 每相位是否有放行道路
	baselines []float64 // 每相位的基准时长
	durations []float64 // 每相位的当前时长
	lastReset float64   // 上次回归基准的时刻
}

// initPlan 延迟初始化路口状态
func (pj *planJunction) initPlan(j entity.IJunction, t float64) {
	approaches, baselines := resolveApproaches(j)
	pj.greens = lo.Map(approaches, func(set approachSet, _ int) bool {
		return len(set) > 0
	})
	pj.baselines = baselines
	pj.durations = append([]float64(nil), baselines...)
	pj.lastReset = t
}

// applyPlan 将当前时长写入信号灯程序
// 功能：克隆当前程序并替换相位时长，保持当前相位与剩余时长不变
// 说明：剩余时长超出新的相位时长时截断
func (pj *planJunction) applyPlan(j entity.IJunction) {
	signal := j.Signal()
	program := proto.Clone(signal.Program()).(*mapv2.TrafficLight)
	for p, phase := range program.Phases {
		phase.Duration = pj.durations[p]
	}
	if err := signal.Set(program); err != nil {
		log.Errorf("junction %d: apply plan error: %v", j.ID(), err)
		return
	}
	step := signal.Step()
	signal.SetPhase(step, math.Min(signal.RemainingTime(), pj.durations[step]))
}

// avgQueue 路口入口道路的平均排队车辆数
func avgQueue(j entity.IJunction) float64 {
	lanes := j.IncomingLanes()
	if len(lanes) == 0 {
		return 0
	}
	total := 0.0
	for _, lane := range lanes {
		total += float64(lane.QueueCount())
	}
	return total / float64(len(lanes))
}

// Threshold 阈值感应信控策略
// 功能：根据入口道路的平均排队长度对放行相位的时长做
// 增减调整，定期回归基准程序
// 算法说明：平均排队高于上阈值时全部放行相位加INC，低于
// 下阈值时减DEC，时长限制在[min, max]内；调整通过整程序
// 替换生效，替换时保持当前相位与剩余时长
type Threshold struct {
	data map[int32]*planJunction
}

func newThreshold(junctions []entity.IJunction) *Threshold {
	return &Threshold{
		data: lo.SliceToMap(junctions, func(j entity.IJunction) (int32, *planJunction) {
			return j.ID(), &planJunction{junction: j}
		}),
	}
}

// Name 策略名
func (s *Threshold) Name() string {
	return PolicyThreshold
}

// Prepare 重建全局观测
// 说明：排队统计直接读取车道快照，无全局观测需要重建
func (s *Threshold) Prepare(vehicles []entity.IVehicle) {}

// Control 对单个路口执行一次控制
// 参数：j-受控路口，t-当前时刻
func (s *Threshold) Control(j entity.IJunction, t float64) {
	pj, ok := s.data[j.ID()]
	if !ok {
		return
	}
	signal := j.Signal()
	if !signal.Ok() || signal.Program() == nil {
		return
	}
	if pj.durations == nil {
		pj.initPlan(j, t)
	}

	// 定期回归基准
	if t-pj.lastReset >= *thReset {
		pj.lastReset = t
		changed := false
		for p := range pj.durations {
			if pj.durations[p] != pj.baselines[p] {
				pj.durations[p] = pj.baselines[p]
				changed = true
			}
		}
		if changed {
			pj.applyPlan(j)
		}
		return
	}

	queue := avgQueue(j)
	delta := 0.0
	switch {
	case queue > *thUpper:
		delta = *thInc
	case queue < *thLower:
		delta = -*thDec
	default:
		return
	}
	changed := false
	for p := range pj.durations {
		if !pj.greens[p] {
			continue
		}
		next := lo.Clamp(pj.durations[p]+delta, *thMinGreen, *thMaxGreen)
		if next != pj.durations[p] {
			pj.durations[p] = next
			changed = true
		}
	}
	if changed {
		pj.applyPlan(j)
	}
}
