package task

import (
	"flag"
	"sync"
)

const (
	SelfName = "signal" // 本程序在模拟任务集群中的名字
)

var (
	heartBeatInterval = flag.Int("log.heartbeat_interval", 100, "心跳日志间隔步数")
)

// prepare 准备阶段，每步执行一次
// 功能：在每个仿真步骤开始时进行准备工作
// 算法说明：
// 1. 更新时钟：增加内部步数并计算当前时间
// 2. 心跳日志：定期输出系统状态信息
// 3. 按依赖顺序执行各管理器的准备操作：
//   - 车辆管理器：应用活跃集合增删并更新车辆快照与链表键值
//   - 车道管理器：应用车辆链表的增删缓冲区
//   - 路口管理器：应用信号灯写入缓冲区并将灯色写入车道
//
// 说明：车辆快照先于车道链表生效，车道链表先于信号灯写入，
// 保证更新阶段读取到一致的状态
func (ctx *Context) prepare() {
	ctx.clock.InternalStep++
	ctx.clock.T = float64(ctx.clock.InternalStep) * ctx.clock.DT

	if ctx.clock.InternalStep%int32(*heartBeatInterval) == 0 {
		hour, minute, second := ctx.clock.GetHourMinuteSecond()
		log.Infof(
			"STEP: %d(%d:%d:%.2f)",
			ctx.clock.InternalStep,
			hour, minute, second,
		)
	}

	ctx.vehicleManager.Prepare()
	ctx.laneManager.Prepare()
	ctx.junctionManager.Prepare()
}

// update 更新阶段，每步执行一次
// 功能：在每个仿真步骤中执行主要的仿真逻辑
// 算法说明：
// 1. 并行更新路口（推进信号灯相位）与车辆（推进运动、发车回收）
// 2. 所有实体更新完成后执行一轮信控决策，决策读取本tick的
// 快照，写入结果在下一个Prepare生效
func (ctx *Context) update() {
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ctx.junctionManager.Update(ctx.clock.DT) // junction
	}()
	wg.Add(1)
	go func() {
		defer wg.Done()
		ctx.vehicleManager.Update(ctx.clock.DT) // vehicle
	}()
	wg.Wait()

	ctx.controller.Update()
}

// Run 运行
func (ctx *Context) Run() {
	// 初始化
	ctx.Init()
	// init syncer
	ctx.sidecar.Step(false)
	for {
		ctx.prepare()
		// 通知准备阶段完成
		log.Debugf("step %d: prepare complete and call NotifyStepReady", ctx.clock.InternalStep)
		ctx.sidecar.NotifyStepReady()
		ctx.update()
		log.Debugf("step %d: update complete", ctx.clock.InternalStep)
		close := false
		if ctx.clock.InternalStep+1 >= ctx.clock.END_STEP {
			close = ctx.sidecar.Step(true)
		} else {
			close = ctx.sidecar.Step(false)
		}
		if close || ctx.closed.Load() {
			break
		}
	}
	log.Infof("engine complete")
	ctx.Close()
}
