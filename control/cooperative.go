package control

import (
	"flag"
	"math"

	"github.com/samber/lo"
	"github.com/tsinghua-fib-lab/coopsignal/entity"
)

var (
	coopHorizon      = flag.Float64("ctl.coop_horizon", 9, "cooperative: ETA horizon for load aggregation (s)")
	coopEtaDecay     = flag.Float64("ctl.coop_eta_decay", 0.6, "cooperative: ETA decay exponent of the load weight")
	coopAlphaUp      = flag.Float64("ctl.coop_alpha_upstream", 0.11, "cooperative: upstream load coefficient")
	coopInc          = flag.Float64("ctl.coop_inc", 3, "cooperative: target increase per adjustment (s)")
	coopDec          = flag.Float64("ctl.coop_dec", 1, "cooperative: target decrease per adjustment (s)")
	coopRelaxRate    = flag.Float64("ctl.coop_relax_rate", 2, "cooperative: relaxation toward baseline per adjustment (s)")
	coopMinGreen     = flag.Float64("ctl.coop_min_green", 8, "cooperative: min green target (s)")
	coopMaxGreen     = flag.Float64("ctl.coop_max_green", 60, "cooperative: max green target (s)")
	coopLowLoad      = flag.Float64("ctl.coop_low_load", 1, "cooperative: low load cutoff")
	coopHighLoad     = flag.Float64("ctl.coop_high_load", 5, "cooperative: high load cutoff")
	coopUpdatePeriod = flag.Float64("ctl.coop_update_period", 2, "cooperative: min interval between target adjustments (s)")
)

const (
	// ETA计算的速度下限(m/s)，避免静止车辆除零
	minEtaSpeed = 0.1
	// 执行时写入的剩余时长下限（秒）
	minRemainingTime = 0.5
)

// loadKey 本地负载的键，(路口, 上游道路)
type loadKey struct {
	junction int32
	road     int32
}

// coopPhase 单个相位的控制状态
type coopPhase struct {
	target     float64 // 目标绿灯时长
	lastAdjust float64 // 上次调整时刻
}

// coopJunction 单个路口的控制状态
// 说明：只被本路口的Control调用修改
type coopJunction struct {
	junction   entity.IJunction
	approaches []approachSet // 每相位的上游道路集合
	baselines  []float64     // 每相位的基准时长
	phases     []coopPhase
	lastStep   int32   // 上一tick的相位下标
	phaseStart float64 // 当前相位开始时刻
}

// Cooperative 协同感应信控策略
// 功能：基于到达时间窗内的车流负载对各相位的目标绿灯时长
// 做迟滞调整，并在每个tick将当前相位的剩余时长对齐到目标
// 算法说明：
// 1. 负载聚合：对每辆车取前方最近的信控路口，ETA超出时间窗的
// 车辆不计入；权重w=1/(1+(eta/H)^decay)按(路口,所在道路)累计；
// 车辆前方第二个信控路口按同一权重累计上行负载
// 2. 相位负载=放行道路的本地负载之和+alpha*路口上行负载
// 3. 目标调整（只调整当前活跃的放行相位，受最小调整间隔限制）：
// 高负载增加INC；低负载时若目标高于基准则向基准回归DEC且
// 不越过基准，否则每次减1；中间负载向基准回归RELAX_RATE且
// 不越过基准；全程限制在[min, max]内；非活跃相位保持上次目标
// 4. 执行：剩余时长=max(目标-当前相位已持续时长, 下限)，
// 仅写入当前相位
type Cooperative struct {
	data map[int32]*coopJunction

	local    map[loadKey]float64 // (路口,道路)本地负载
	upstream map[int32]float64   // 路口上行负载
}

func newCooperative(junctions []entity.IJunction) *Cooperative {
	return &Cooperative{
		data: lo.SliceToMap(junctions, func(j entity.IJunction) (int32, *coopJunction) {
			return j.ID(), &coopJunction{junction: j, lastStep: -1}
		}),
		local:    make(map[loadKey]float64),
		upstream: make(map[int32]float64),
	}
}

// Name 策略名
func (s *Cooperative) Name() string {
	return PolicyCooperative
}

// Prepare 重建全局观测
// 功能：遍历全部活跃车辆，重建本地负载与上行负载
// 说明：负载每tick从零重建，不跨tick累计；位于路口内车道上的
// 车辆没有所在道路，不计入本地负载
func (s *Cooperative) Prepare(vehicles []entity.IVehicle) {
	clear(s.local)
	clear(s.upstream)
	for _, v := range vehicles {
		signals := v.NextSignals()
		if len(signals) == 0 {
			continue
		}
		first := signals[0]
		eta := first.Distance / math.Max(v.V(), minEtaSpeed)
		if eta > *coopHorizon {
			continue
		}
		w := 1 / (1 + math.Pow(eta / *coopHorizon, *coopEtaDecay))
		if lane := v.Lane(); lane.InRoad() {
			s.local[loadKey{junction: first.Junction.ID(), road: lane.ParentRoad().ID()}] += w
		}
		if len(signals) > 1 {
			s.upstream[signals[1].Junction.ID()] += w
		}
	}
}

// Control 对单个路口执行一次控制
// 参数：j-受控路口，t-当前时刻
func (s *Cooperative) Control(j entity.IJunction, t float64) {
	cj, ok := s.data[j.ID()]
	if !ok {
		return
	}
	signal := j.Signal()
	if !signal.Ok() || signal.Program() == nil {
		return
	}
	// 程序在第一个Prepare后才可读，相关状态延迟初始化
	if cj.approaches == nil {
		cj.approaches, cj.baselines = resolveApproaches(j)
		cj.phases = make([]coopPhase, len(cj.baselines))
		for p := range cj.phases {
			cj.phases[p] = coopPhase{target: cj.baselines[p], lastAdjust: math.Inf(-1)}
		}
	}

	// 程序被外部RPC替换后相位下标可能越界，直接放弃本次控制
	step := signal.Step()
	if int(step) >= len(cj.baselines) {
		return
	}

	// 相位切换检测
	if step != cj.lastStep {
		cj.lastStep = step
		cj.phaseStart = t
	}

	// 只调整当前活跃的放行相位，黄灯/全红相位不干预；
	// 非活跃相位保持上次目标，等到下次活跃时再参与调整
	if len(cj.approaches[step]) == 0 {
		return
	}
	phase := &cj.phases[step]
	if t-phase.lastAdjust >= *coopUpdatePeriod {
		phase.target = adjustTarget(phase.target, cj.baselines[step], s.phaseLoad(cj, int(step)))
		phase.lastAdjust = t
	}

	// 执行：对齐当前相位的剩余时长
	elapsed := t - cj.phaseStart
	remaining := math.Max(phase.target-elapsed, minRemainingTime)
	signal.SetPhase(step, remaining)
}

// phaseLoad 计算相位负载
func (s *Cooperative) phaseLoad(cj *coopJunction, p int) float64 {
	load := 0.0
	for road := range cj.approaches[p] {
		load += s.local[loadKey{junction: cj.junction.ID(), road: road}]
	}
	return load + *coopAlphaUp*s.upstream[cj.junction.ID()]
}

// adjustTarget 目标绿灯时长的迟滞调整
// 参数：target-当前目标，baseline-基准时长，load-相位负载
// 返回：调整后的目标，限制在[min, max]内
func adjustTarget(target, baseline, load float64) float64 {
	switch {
	case load >= *coopHighLoad:
		target += *coopInc
	case load <= *coopLowLoad:
		// 低负载时高于基准的目标按DEC向基准回归，不越过基准；
		// 到达基准后每次减1继续压缩
		if target > baseline {
			target = math.Max(target-*coopDec, baseline)
		} else {
			target -= 1
		}
	default:
		// 中间负载向基准回归，不越过基准
		if target > baseline {
			target = math.Max(target-*coopRelaxRate, baseline)
		} else if target < baseline {
			target = math.Min(target+*coopRelaxRate, baseline)
		}
	}
	return lo.Clamp(target, *coopMinGreen, *coopMaxGreen)
}
