package input

import (
	"context"
	"os"

	"git.fiblab.net/general/common/v2/cache"
	"git.fiblab.net/general/common/v2/mongoutil"
	"git.fiblab.net/general/common/v2/protoutil"
	mapv2 "git.fiblab.net/sim/protos/v2/go/city/map/v2"
	"github.com/sirupsen/logrus"
	"github.com/tsinghua-fib-lab/coopsignal/utils/config"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"google.golang.org/protobuf/proto"
)

var log = logrus.WithField("module", "input")

// Input 输入数据
// 功能：存储仿真所需的地图输入数据
// 说明：支持从文件或MongoDB加载
type Input struct {
	Map *mapv2.Map
}

// Init 下载数据
// 功能：根据配置初始化并加载输入数据
// 参数：config-配置对象，cacheDir-缓存目录
// 返回：加载完成的输入数据指针
// 说明：文件路径优先于MongoDB，从MongoDB加载时支持本地缓存
func Init(config config.Config, cacheDir string) (res *Input) {
	useCache := preCheckCache(cacheDir)
	if !useCache {
		cacheDir = ""
	}

	var client *mongo.Client
	if config.Input.URI != "" {
		client = mongoutil.NewClient(config.Input.URI)
		defer client.Disconnect(context.Background())
	}

	res = &Input{}
	if config.Input.Map.File != "" {
		var m mapv2.Map
		if err := protoutil.UnmarshalFromFile(&m, config.Input.Map.File); err != nil {
			log.Panicf("failed to load map from file: %v", err)
		}
		res.Map = &m
	} else {
		res.Map = mustLoad[mapv2.Map](client, config.Input.Map, cacheDir, nil, nil)
	}
	log.Infof(
		"map loaded: %d lanes, %d roads, %d junctions",
		len(res.Map.Lanes), len(res.Map.Roads), len(res.Map.Junctions),
	)
	return
}

// mustLoad 必须加载数据（泛型函数）
// 功能：从MongoDB或缓存中加载数据
// 参数：client-MongoDB客户端，inputPath-输入路径配置，cacheDir-缓存目录，
// classNameMapper-类名映射器，handler-数据处理函数，opts-查询选项
// 返回：加载的数据对象，失败时panic
func mustLoad[T any, PT interface {
	proto.Message
	*T
}](
	client *mongo.Client,
	inputPath config.InputPath,
	cacheDir string,
	classNameMapper func(string) string,
	handler func(className string, pb any, rawBson bson.Raw) error,
	opts ...*options.FindOptions,
) (res PT) {
	coll := mongoutil.GetMongoColl(client, inputPath)
	var downloadFunc func() PT
	var err error
	if !inputPath.OnlyCache {
		downloadFunc = func() PT {
			pb, errs := mongoutil.DownloadPbFromMongo[T, PT](context.Background(), coll, classNameMapper, handler, opts...)
			if len(errs) > 0 {
				for _, err := range errs {
					log.Errorf("failed to download: %v", err)
				}
				log.Panicln("failed to download")
			}
			return pb
		}
	}
	log.Infof("start fetching from %s.%s", inputPath.DB, inputPath.Col)
	res, err = cache.LoadWithCache(cacheDir, inputPath, downloadFunc)
	if err != nil {
		log.Panicf("failed to load with cache: %v", err)
	}
	log.Infof("finish fetching from %s.%s", inputPath.DB, inputPath.Col)
	return
}

// preCheckCache 预检查缓存目录
// 功能：验证输入缓存目录的有效性，决定是否启用缓存功能
// 参数：cacheDir-缓存目录路径
// 返回：true表示启用缓存，false表示禁用缓存
func preCheckCache(cacheDir string) bool {
	if cacheDir == "" {
		log.Info("disable input cache")
		return false
	}
	if stat, err := os.Stat(cacheDir); err == nil && stat.IsDir() {
		log.Infof("enable input cache at %s", cacheDir)
		return true
	}
	log.Errorf("disable input cache because invalid dir %s (not exist or file)", cacheDir)
	return false
}
