package task

import (
	"sync/atomic"

	"git.fiblab.net/sim/syncer/v3"
	"github.com/sirupsen/logrus"
	"github.com/tsinghua-fib-lab/coopsignal/clock"
	"github.com/tsinghua-fib-lab/coopsignal/control"
	"github.com/tsinghua-fib-lab/coopsignal/entity"
	"github.com/tsinghua-fib-lab/coopsignal/entity/junction"
	"github.com/tsinghua-fib-lab/coopsignal/entity/lane"
	"github.com/tsinghua-fib-lab/coopsignal/entity/road"
	"github.com/tsinghua-fib-lab/coopsignal/entity/vehicle"
	"github.com/tsinghua-fib-lab/coopsignal/utils/config"
	"github.com/tsinghua-fib-lab/coopsignal/utils/input"
)

var log = logrus.WithField("module", "task")

// Context 仿真任务上下文
// 功能：包含一次仿真任务的所有变量和状态
// 说明：管理仿真系统的所有组件，包括时钟、管理器、信控控制器等
type Context struct {
	// 任务名
	job string
	// 关闭指令
	closed atomic.Bool

	// 时钟
	clock *clock.Clock

	// 辅助程序，处理分布式模式下相关调用，包括与syncer、其他服务的交互
	sidecar *syncer.Sidecar
	// sidecar close channel
	sidecarCloseCh chan struct{}
	// 缓存文件夹
	cacheDir string

	// Lane管理器
	laneManager entity.ILaneManager
	// Road管理器
	roadManager entity.IRoadManager
	// Junction管理器
	junctionManager entity.IJunctionManager
	// Vehicle管理器
	vehicleManager entity.IVehicleManager
	// 信控控制器
	controller *control.Controller

	// 运行时配置文件
	runtimeConfig *config.RuntimeConfig

	// 用于初始化的输入
	initRes *input.Input
}

// NewContext 创建新的仿真任务上下文
// 功能：初始化仿真系统的所有组件和配置
// 参数：job-任务名称，cacheDir-缓存目录，c-配置对象，
// sidecar-外部sidecar实例，startSidecarServe-是否启动sidecar服务
// 返回：初始化完成的Context实例
func NewContext(
	job string,
	cacheDir string,
	c config.Config,
	sidecar *syncer.Sidecar,
	startSidecarServe bool,
) *Context {
	ctx := &Context{
		job:            job,
		cacheDir:       cacheDir,
		sidecar:        sidecar,
		sidecarCloseCh: make(chan struct{}),
	}
	ctx.clock = clock.New(c.Control.Step)

	// 下载模拟器启动所需的数据
	ctx.initRes = input.Init(c, ctx.cacheDir)

	ctx.runtimeConfig = config.NewRuntimeConfig(c)

	// 新建各类模拟对象
	ctx.laneManager = lane.NewManager(ctx)
	ctx.roadManager = road.NewManager(ctx)
	ctx.junctionManager = junction.NewManager(ctx)
	ctx.vehicleManager = vehicle.NewManager(ctx)

	ctx.clock.Register(ctx.sidecar)
	ctx.junctionManager.Register(ctx.sidecar)

	// sidecar协程，用于提供gRPC服务
	if startSidecarServe {
		go func() {
			err := ctx.sidecar.Serve()
			if err != nil {
				log.Panicf("failed to serve: %v", err)
			}
			ctx.sidecarCloseCh <- struct{}{}
		}()
	}

	return ctx
}

func (ctx *Context) GetInput() *input.Input {
	return ctx.initRes
}

func (ctx *Context) Clock() *clock.Clock {
	return ctx.clock
}

func (ctx *Context) LaneManager() entity.ILaneManager {
	return ctx.laneManager
}

func (ctx *Context) RoadManager() entity.IRoadManager {
	return ctx.roadManager
}

func (ctx *Context) JunctionManager() entity.IJunctionManager {
	return ctx.junctionManager
}

func (ctx *Context) VehicleManager() entity.IVehicleManager {
	return ctx.vehicleManager
}

func (ctx *Context) RuntimeConfig() *config.RuntimeConfig {
	return ctx.runtimeConfig
}

// Init 初始化仿真实体
// 功能：按依赖顺序初始化车道、道路、路口、车辆与信控控制器
func (ctx *Context) Init() {
	ctx.clock.Init()

	mapData := ctx.initRes.Map

	log.Infof("Lane: %v", len(mapData.Lanes))
	log.Infof("Road: %v", len(mapData.Roads))
	log.Infof("Junction: %v", len(mapData.Junctions))

	// 先完成lane的所有初始化
	ctx.laneManager.Init(mapData.Lanes)
	// road初始化
	ctx.roadManager.Init(mapData.Roads, ctx.laneManager)
	// junction初始化
	ctx.junctionManager.Init(mapData.Junctions, ctx.laneManager, ctx.roadManager)
	// 完成地图构建后，开始构建发车计划
	ctx.vehicleManager.Init(ctx.runtimeConfig.All.Demand, ctx.roadManager)

	// 信控控制器
	controller, err := control.NewController(ctx, ctx.runtimeConfig.C.Policy)
	if err != nil {
		log.Panicf("failed to create controller: %v", err)
	}
	ctx.controller = controller
}

func (ctx *Context) Close() {
	if ctx.closed.Load() {
		return
	}
	ctx.sidecar.Close()
	// wait for graceful stop
	<-ctx.sidecarCloseCh
	ctx.closed.Store(true)
}
