package queue

import (
	"fmt"
	"path/filepath"

	"smig-go/internal/config"
	"smig-go/internal/smig"
)

// NewQueueFromConfig creates a Queue implementation based on the queue
// config type.
func NewQueueFromConfig(cfg config.QueueConfig) (smig.Queue, error) {
	switch cfg.Type {
	case "memory":
		return NewMemoryQueue(cfg.MaxDeliveryCount), nil
	case "sqlite":
		if cfg.DataDir == "" {
			return nil, fmt.Errorf("data_dir required for sqlite queue")
		}
		return NewSQLiteQueue(filepath.Join(cfg.DataDir, "queue.db"), cfg.MaxDeliveryCount)
	default:
		return nil, fmt.Errorf("unknown queue type: %s", cfg.Type)
	}
}
