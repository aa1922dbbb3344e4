// 信控策略包，基于全局车辆观测对带定周期信号灯的路口
// 进行绿灯时长的在线调整
package control

import (
	"fmt"

	"git.fiblab.net/general/common/v2/parallel"
	"github.com/samber/lo"
	"github.com/sirupsen/logrus"
	"github.com/tsinghua-fib-lab/coopsignal/entity"
)

var log = logrus.WithField("module", "control")

// 策略名，与配置文件control.policy字段对应
const (
	PolicyFixed       = "fixed"
	PolicyThreshold   = "threshold"
	PolicyTrend       = "trend"
	PolicyCooperative = "cooperative"
)

// Strategy 信控策略接口
// 功能：统一三种在线调整策略的调用边界
// 说明：Prepare在每个tick开始时重建全局观测，
// Control对单个受控路口执行一次控制决策，
// 不同路口的Control调用相互独立，可并行执行
type Strategy interface {
	Name() string
	Prepare(vehicles []entity.IVehicle)
	Control(j entity.IJunction, t float64)
}

// Controller 信控控制器
// 功能：持有受控路口集合与策略实例，每个tick驱动一轮控制
type Controller struct {
	ctx entity.ITaskContext

	strategy  Strategy // fixed策略下为nil
	junctions []entity.IJunction
}

// NewController 创建信控控制器
// 功能：筛选带信号灯的路口并按配置构造策略实例
// 参数：ctx-任务上下文，policy-策略名
// 返回：控制器实例和错误信息
func NewController(ctx entity.ITaskContext, policy string) (*Controller, error) {
	c := &Controller{ctx: ctx}
	c.junctions = lo.Filter(ctx.JunctionManager().Junctions(), func(j entity.IJunction, _ int) bool {
		return j.HasSignal()
	})
	switch policy {
	case PolicyFixed:
		// 保持定周期程序，不做在线调整
	case PolicyThreshold:
		c.strategy = newThreshold(c.junctions)
	case PolicyTrend:
		c.strategy = newTrend(c.junctions)
	case PolicyCooperative:
		c.strategy = newCooperative(c.junctions)
	default:
		return nil, fmt.Errorf("unknown control policy %s", policy)
	}
	if c.strategy != nil {
		log.Infof("controller: policy %s, %d signalized junctions", c.strategy.Name(), len(c.junctions))
	} else {
		log.Infof("controller: fixed timing, %d signalized junctions", len(c.junctions))
	}
	return c, nil
}

// Update 更新阶段，执行一轮控制
// 功能：重建全局观测后对所有受控路口并行执行控制决策
// 说明：控制结果通过信号灯的写入缓冲区在下一个Prepare生效
func (c *Controller) Update() {
	if c.strategy == nil {
		return
	}
	t := c.ctx.Clock().T
	c.strategy.Prepare(c.ctx.VehicleManager().Vehicles())
	parallel.GoFor(c.junctions, func(j entity.IJunction) {
		c.strategy.Control(j, t)
	})
}
