package road

import (
	"fmt"

	"git.fiblab.net/general/common/v2/parallel"
	mapv2 "git.fiblab.net/sim/protos/v2/go/city/map/v2"
	"github.com/samber/lo"
	"github.com/sirupsen/logrus"
	"github.com/tsinghua-fib-lab/coopsignal/entity"
)

var log = logrus.WithField("module", "road")

// RoadManager Road管理器
type RoadManager struct {
	ctx entity.ITaskContext

	data  map[int32]*Road
	roads []*Road
}

// NewManager 创建Road管理器实例
// 参数：ctx-任务上下文
func NewManager(ctx entity.ITaskContext) *RoadManager {
	return &RoadManager{
		ctx:  ctx,
		data: make(map[int32]*Road),
	}
}

// Init 初始化所有Road
// 参数：pbs-Road的protobuf数据列表，laneManager-车道管理器
func (m *RoadManager) Init(pbs []*mapv2.Road, laneManager entity.ILaneManager) {
	m.roads = parallel.GoMap(pbs, func(pb *mapv2.Road) *Road {
		return newRoad(m.ctx, pb, laneManager)
	})
	m.data = lo.SliceToMap(m.roads, func(r *Road) (int32, *Road) {
		return r.id, r
	})
}

// Get 根据ID获取Road实例
// 参数：id-Road的唯一标识符
// 返回：对应的Road实例，如果不存在则panic
func (m *RoadManager) Get(id int32) entity.IRoad {
	if road, ok := m.data[id]; !ok {
		log.Panicf("no id %d in road data", id)
		return nil
	} else {
		return road
	}
}

// GetOrError 根据ID获取Road实例（带错误处理）
// 参数：id-Road的唯一标识符
// 返回：Road实例和错误信息，如果不存在则返回nil和错误
func (m *RoadManager) GetOrError(id int32) (entity.IRoad, error) {
	if road, ok := m.data[id]; !ok {
		return nil, fmt.Errorf("no id %d in road data", id)
	} else {
		return road, nil
	}
}
