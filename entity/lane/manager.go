package lane

import (
	"fmt"

	"git.fiblab.net/general/common/v2/parallel"
	mapv2 "git.fiblab.net/sim/protos/v2/go/city/map/v2"
	"github.com/samber/lo"
	"github.com/sirupsen/logrus"
	"github.com/tsinghua-fib-lab/coopsignal/entity"
)

var log = logrus.WithField("module", "lane")

// LaneManager Lane管理器
type LaneManager struct {
	ctx entity.ITaskContext

	data  map[int32]*Lane
	lanes []*Lane
}

// NewManager 创建Lane管理器实例
// 参数：ctx-任务上下文
func NewManager(ctx entity.ITaskContext) *LaneManager {
	return &LaneManager{
		ctx:  ctx,
		data: make(map[int32]*Lane),
	}
}

// Init 初始化所有Lane
// 功能：根据protobuf数据初始化所有Lane对象并建立拓扑连接关系
// 参数：pbs-Lane的protobuf数据列表
// 说明：使用并行处理提高初始化效率，连接关系需要在全部Lane创建后建立
func (m *LaneManager) Init(pbs []*mapv2.Lane) {
	m.lanes = parallel.GoMap(pbs, func(pb *mapv2.Lane) *Lane {
		return newLane(m.ctx, pb)
	})
	m.data = lo.SliceToMap(m.lanes, func(l *Lane) (int32, *Lane) {
		return l.id, l
	})
	parallel.GoFor(m.lanes, func(l *Lane) { l.initWithManager(m) })
}

// Get 根据ID获取Lane实例
// 参数：id-Lane的唯一标识符
// 返回：对应的Lane实例，如果不存在则panic
func (m *LaneManager) Get(id int32) entity.ILane {
	if lane, ok := m.data[id]; !ok {
		log.Panicf("no id %d in lane data", id)
		return nil
	} else {
		return lane
	}
}

// GetOrError 根据ID获取Lane实例（带错误处理）
// 参数：id-Lane的唯一标识符
// 返回：Lane实例和错误信息，如果不存在则返回nil和错误
func (m *LaneManager) GetOrError(id int32) (entity.ILane, error) {
	if lane, ok := m.data[id]; !ok {
		return nil, fmt.Errorf("no id %d in lane data", id)
	} else {
		return lane, nil
	}
}

// Prepare 准备阶段，处理所有Lane的准备工作
// 说明：先全量应用移除再应用插入，保证跨车道移动的节点
// 不会在移除生效前被插入新车道
func (m *LaneManager) Prepare() {
	parallel.GoFor(m.lanes, func(l *Lane) { l.prepareRemoves() })
	parallel.GoFor(m.lanes, func(l *Lane) { l.prepareAdds() })
}
