package config

// InputPath 指定输入数据来源的配置（MongoDB、文件系统）
// 功能：定义数据输入路径的配置结构，支持多种数据源
// 说明：支持MongoDB数据库和文件系统两种数据源，支持缓存机制
type InputPath struct {
	DB        string `yaml:"db"`                   // 数据库名
	Col       string `yaml:"col"`                  // 集合名
	Cache     string `yaml:"cache,omitempty"`      // 缓存文件名，为空则采用默认路径{db}.{col}.pb
	OnlyCache bool   `yaml:"only_cache,omitempty"` // 只从缓存中获取
	File      string `yaml:"file,omitempty"`       // 文件路径（优先级高于MongoDB）
}

// GetDb 获取数据库名
func (p InputPath) GetDb() string {
	return p.DB
}

// GetColl 获取集合名
func (p InputPath) GetColl() string {
	return p.Col
}

// GetCachePath 获取缓存文件路径
// 功能：返回缓存文件的完整路径
// 说明：如果指定了缓存路径则直接返回，否则使用默认命名规则{数据库名}.{集合名}.pb
func (p InputPath) GetCachePath() string {
	if p.Cache != "" {
		return p.Cache
	}
	return p.DB + "." + p.Col + ".pb"
}

// Input 指定模拟器所有输入数据的配置项
// 功能：定义路网输入数据的配置
type Input struct {
	URI string    `yaml:"uri"` // MongoDB连接字符串
	Map InputPath `yaml:"map"` // 地图
}

// ControlStep 指定模拟器模拟时间范围和间隔的配置项
// 功能：定义仿真时间控制参数
// 说明：控制仿真的时间范围与步长，总步数即为运行的最大tick数
type ControlStep struct {
	Start    int32   `yaml:"start"`    // 开始步数
	Total    int32   `yaml:"total"`    // 总步数
	Interval float64 `yaml:"interval"` // 每步的时间间隔
}

// Control 模拟器控制配置
// 功能：定义仿真系统的核心控制参数
type Control struct {
	Step ControlStep `yaml:"step"`
	// 信控调节策略，可选项：fixed（不调节）、threshold、trend、cooperative
	Policy string `yaml:"policy,omitempty"`
}

// Flow 车流配置
// 功能：定义一组按固定间隔发车的车流
// 说明：routes为候选路径（道路ID序列）列表，按weights加权随机选取，
// weights为空时等概率选取
type Flow struct {
	Routes    [][]int32 `yaml:"routes"`               // 候选路径列表，每条路径为道路ID序列
	Weights   []float64 `yaml:"weights,omitempty"`    // 各候选路径的选取权重
	Start     float64   `yaml:"start"`                // 首车发出时间（秒）
	Headway   float64   `yaml:"headway"`              // 发车间隔（秒）
	Count     int       `yaml:"count"`                // 发车总数
	MaxJitter float64   `yaml:"max_jitter,omitempty"` // 发车间隔的最大随机扰动（秒）
}

// Demand 车辆需求配置
// 功能：定义仿真过程中生成车辆的全部车流
type Demand struct {
	Flows []Flow `yaml:"flows"`
}

// Config YAML配置文件的根结构
// 功能：定义整个仿真系统的配置结构
type Config struct {
	Input   Input   `yaml:"input"`   // 输入
	Control Control `yaml:"control"` // 模拟过程控制
	Demand  Demand  `yaml:"demand"`  // 车辆需求
}
