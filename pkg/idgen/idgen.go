// Package idgen 提供雪花算法 ID 生成器，用于业务单号。
package idgen

import (
	"sync"
	"time"
)

// Snowflake 雪花 ID 生成器：41 位毫秒时间戳 + 10 位节点 + 12 位序列。
type Snowflake struct {
	mu        sync.Mutex
	timestamp int64
	sequence  int64
	nodeID    int64
}

// NewSnowflake 创建生成器，nodeID 取低 10 位。
func NewSnowflake(nodeID int64) *Snowflake {
	return &Snowflake{nodeID: nodeID & 0x3FF}
}

// Generate 生成单调递增的 ID。
func (s *Snowflake) Generate() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UnixMilli()
	if now == s.timestamp {
		s.sequence = (s.sequence + 1) & 0xFFF
		if s.sequence == 0 {
			for now <= s.timestamp {
				now = time.Now().UnixMilli()
			}
		}
	} else {
		s.sequence = 0
	}
	s.timestamp = now

	return (now << 22) | (s.nodeID << 12) | s.sequence
}

var defaultGen = NewSnowflake(1)

// GenID 使用默认生成器生成 ID。
func GenID() int64 { return defaultGen.Generate() }
