package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strconv"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
)

// RelayRecord is one outbound event addressed to a user who may be
// connected to another chatserver instance.
type RelayRecord struct {
	Origin string          `json:"origin"`
	UserID uint            `json:"user_id"`
	Frame  json.RawMessage `json:"frame"`
}

// Relay publishes outbound frames to the shared topic. It satisfies
// dispatch.Relay.
type Relay struct {
	producer   MessageProducer
	topic      string
	instanceID string
}

// NewRelay creates a Relay that stamps records with instanceID.
func NewRelay(producer MessageProducer, topic, instanceID string) *Relay {
	return &Relay{producer: producer, topic: topic, instanceID: instanceID}
}

// Publish sends frame for userID, keyed by user so one user's events stay ordered.
func (r *Relay) Publish(ctx context.Context, userID uint, frame []byte) error {
	payload, err := json.Marshal(RelayRecord{Origin: r.instanceID, UserID: userID, Frame: frame})
	if err != nil {
		return fmt.Errorf("序列化转发记录失败: %w", err)
	}
	key := []byte(strconv.FormatUint(uint64(userID), 10))
	return r.producer.SendMessage(ctx, r.topic, key, payload)
}

// NewRelayHandler returns a MessageHandler that hands records published by
// other instances to deliver. Records from instanceID itself are skipped.
func NewRelayHandler(instanceID string, deliver func(userID uint, frame []byte) bool) MessageHandler {
	return func(ctx context.Context, msg *kafka.Message) error {
		var record RelayRecord
		if err := json.Unmarshal(msg.Value, &record); err != nil {
			// 无法解析的记录直接提交，避免反复消费
			log.Printf("警告: 丢弃无法解析的转发记录: %v", err)
			return nil
		}
		if record.Origin == instanceID || record.UserID == 0 || len(record.Frame) == 0 {
			return nil
		}
		deliver(record.UserID, record.Frame)
		return nil
	}
}
