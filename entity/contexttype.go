package entity

import (
	"github.com/tsinghua-fib-lab/coopsignal/clock"
	"github.com/tsinghua-fib-lab/coopsignal/utils/config"
)

type ITaskContext interface {
	Clock() *clock.Clock
	LaneManager() ILaneManager
	RoadManager() IRoadManager
	JunctionManager() IJunctionManager
	VehicleManager() IVehicleManager
	RuntimeConfig() *config.RuntimeConfig
}
