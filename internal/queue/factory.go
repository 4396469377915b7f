package queue

import (
	"fmt"
	"os"
	"strings"

	"github.com/soltixdb/gridcat/internal/config"
)

// NewQueue creates a new Queue instance based on configuration
// Default is NATS if type is not specified
func NewQueue(cfg config.QueueConfig) (Queue, error) {
	queueType := Type(strings.ToLower(cfg.Type))

	if queueType == "" {
		queueType = TypeNATS
	}

	switch queueType {
	case TypeNATS:
		return newNATSQueue(NATSConfig{
			URL:      cfg.URL,
			Username: cfg.Username,
			Password: cfg.Password,
		})

	case TypeRedis:
		return newRedisQueue(RedisConfig{
			URL:      cfg.URL,
			Password: cfg.Password,
			DB:       cfg.RedisDB,
		})

	case TypeKafka:
		groupID := cfg.KafkaGroupID
		if groupID == "" {
			// One group per node so every node receives every trigger
			host, _ := os.Hostname()
			groupID = "gridcat-" + host
		}
		return newKafkaQueue(KafkaConfig{
			Brokers: cfg.KafkaBrokers,
			GroupID: groupID,
		})

	case TypeMemory:
		return newMemoryQueue(), nil

	default:
		return nil, fmt.Errorf("unsupported queue type: %s (supported: nats, redis, kafka, memory)", queueType)
	}
}
