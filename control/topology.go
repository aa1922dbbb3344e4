package control

import (
	mapv2 "git.fiblab.net/sim/protos/v2/go/city/map/v2"
	"github.com/tsinghua-fib-lab/coopsignal/entity"
)

const (
	// 相位时长缺失时的基准绿灯时长兜底值（秒）
	defaultBaseline = 30.0
)

// approachSet 单个相位放行的上游道路集合
type approachSet map[int32]struct{}

// resolveApproaches 解析路口相位与上游道路的放行关系
// 功能：对信控程序的每个相位，找出该相位放绿的行车道的
// 上游道路集合，并提取相位的基准时长
// 参数：j-带信号灯的路口
// 返回：每相位的上游道路集合、每相位的基准时长
// 算法说明：
// 1. 受控车道与相位状态串下标对齐，仅统计放绿的行车道
// 2. 行车道的唯一前驱位于道路上时，该道路计入放行集合；
// 黄灯/全红相位的集合为空
// 3. 基准时长取程序内的相位时长，非正时使用兜底值
func resolveApproaches(j entity.IJunction) (approaches []approachSet, baselines []float64) {
	program := j.Signal().Program()
	lanes := j.ControlledLanes()
	for _, phase := range program.Phases {
		set := make(approachSet)
		for i, state := range phase.States {
			if i >= len(lanes) {
				break
			}
			lane := lanes[i]
			if state != mapv2.LightState_LIGHT_STATE_GREEN ||
				lane.Type() != mapv2.LaneType_LANE_TYPE_DRIVING {
				continue
			}
			pre, err := lane.UniquePredecessor()
			if err != nil || !pre.InRoad() {
				continue
			}
			set[pre.ParentRoad().ID()] = struct{}{}
		}
		approaches = append(approaches, set)
		baseline := phase.Duration
		if baseline <= 0 {
			baseline = defaultBaseline
		}
		baselines = append(baselines, baseline)
	}
	return
}
