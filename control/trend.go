package control

import (
	"flag"
	"math"

	"github.com/samber/lo"
	"github.com/tsinghua-fib-lab/coopsignal/entity"
)

var (
	trWindow   = flag.Int("ctl.tr_window", 10, "trend: queue observation window size (ticks)")
	trDeadBand = flag.Float64("ctl.tr_dead_band", 0.5, "trend: trend dead band")
	trInc      = flag.Float64("ctl.tr_inc", 5, "trend: green increase per adjustment (s)")
	trDec      = flag.Float64("ctl.tr_dec", 4, "trend: green decrease per adjustment (s)")
	trMinGreen = flag.Float64("ctl.tr_min_green", 10, "trend: min green duration (s)")
	trMaxGreen = flag.Float64("ctl.tr_max_green", 60, "trend: max green duration (s)")
)

// trendJunction 趋势策略的路口状态
// 说明：只被本路口的Control调用修改
type trendJunction struct {
	planJunction
	window []float64 // 最近若干tick的平均排队观测
}

// Trend 趋势感应信控策略
// 功能：观测入口排队长度的变化趋势，排队增长时延长放行
// 相位，排队消退时缩短，趋势不明显时向基准回归
// 算法说明：
// 1. 每tick记录一次平均排队，维持固定长度的滑动窗口；
// 窗口收集满后每tick计算趋势=后半段均值-前半段均值
// 2. 趋势超出死区时全部放行相位加INC/减DEC，死区内
// 每相位向基准回归1秒；时长限制在[min, max]内
// 3. 调整通过整程序替换生效，保持当前相位与剩余时长
type Trend struct {
	data map[int32]*trendJunction
}

func newTrend(junctions []entity.IJunction) *Trend {
	return &Trend{
		data: lo.SliceToMap(junctions, func(j entity.IJunction) (int32, *trendJunction) {
			return j.ID(), &trendJunction{planJunction: planJunction{junction: j}}
		}),
	}
}

// Name 策略名
func (s *Trend) Name() string {
	return PolicyTrend
}

// Prepare 重建全局观测
// 说明：排队统计直接读取车道快照，无全局观测需要重建
func (s *Trend) Prepare(vehicles []entity.IVehicle) {}

// Control 对单个路口执行一次控制
// 参数：j-受控路口，t-当前时刻
func (s *Trend) Control(j entity.IJunction, t float64) {
	tj, ok := s.data[j.ID()]
	if !ok {
		return
	}
	signal := j.Signal()
	if !signal.Ok() || signal.Program() == nil {
		return
	}
	if tj.durations == nil {
		tj.initPlan(j, t)
	}

	tj.window = append(tj.window, avgQueue(j))
	if len(tj.window) > *trWindow {
		tj.window = tj.window[1:]
	}
	if len(tj.window) < *trWindow {
		return
	}
	half := len(tj.window) / 2
	trend := mean(tj.window[half:]) - mean(tj.window[:half])

	changed := false
	for p := range tj.durations {
		if !tj.greens[p] {
			continue
		}
		next := tj.durations[p]
		switch {
		case trend > *trDeadBand:
			next += *trInc
		case trend < -*trDeadBand:
			next -= *trDec
		default:
			// 向基准回归，每次1秒
			baseline := tj.baselines[p]
			if next > baseline {
				next = math.Max(next-1, baseline)
			} else if next < baseline {
				next = math.Min(next+1, baseline)
			}
		}
		next = lo.Clamp(next, *trMinGreen, *trMaxGreen)
		if next != tj.durations[p] {
			tj.durations[p] = next
			changed = true
		}
	}
	if changed {
		tj.applyPlan(j)
	}
}

// mean 均值，空切片返回0
func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	return lo.Sum(values) / float64(len(values))
}
