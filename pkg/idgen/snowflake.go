package idgen

import (
	"fmt"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
)

// ============================================================================
// 雪花算法 ID 生成器
// ============================================================================
//
// 订单号要求全局唯一、趋势递增、不暴露业务量。
// 多实例部署时每个实例必须配置不同的 worker_id（0-1023）。
//
// ============================================================================

var (
	node *snowflake.Node
	mu   sync.Mutex
)

func init() {
	// 起始时间 2024-01-01 00:00:00 UTC
	snowflake.Epoch = 1704067200000
}

// Init 初始化默认ID生成器
func Init(workerID int64) error {
	n, err := snowflake.NewNode(workerID)
	if err != nil {
		return fmt.Errorf("workerID 不合法: %w", err)
	}
	mu.Lock()
	node = n
	mu.Unlock()
	return nil
}

// NextID 生成下一个ID
func NextID() int64 {
	mu.Lock()
	if node == nil {
		// 默认使用 workerID = 1
		node, _ = snowflake.NewNode(1)
	}
	n := node
	mu.Unlock()
	return n.Generate().Int64()
}

func generate(prefix string) string {
	return fmt.Sprintf("%s%s%d", prefix, time.Now().Format("20060102"), NextID())
}

// GenerateOrderNo 生成支付订单号，例如 MEAL20261019123456789012345
func GenerateOrderNo() string {
	return generate("MEAL")
}

// GenerateTransactionNo 生成次数流水号
func GenerateTransactionNo() string {
	return generate("CTX")
}

// GenerateBatchNo 生成预约批次号
func GenerateBatchNo() string {
	return generate("BAT")
}
