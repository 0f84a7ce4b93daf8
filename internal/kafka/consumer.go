package kafka

import (
	"context"
	"fmt"
	"log"
	"strings"

	"im-chat/internal/config"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
)

// MessageHandler processes one consumed record. Returning nil commits it.
type MessageHandler func(ctx context.Context, msg *kafka.Message) error

// MessageConsumer defines the interface for a Kafka message consumer.
type MessageConsumer interface {
	Consume(ctx context.Context, topics []string, groupID string, handler MessageHandler) error
	Close()
}

// confluentKafkaConsumer is an implementation of MessageConsumer using confluent-kafka-go.
type confluentKafkaConsumer struct {
	consumer *kafka.Consumer
	cfg      config.KafkaConfig
	groupID  string
}

// NewConfluentKafkaConsumer returns a consumer; the underlying client is
// created by Consume once the group id is known.
func NewConfluentKafkaConsumer(cfg config.KafkaConfig) MessageConsumer {
	return &confluentKafkaConsumer{cfg: cfg}
}

// Consume polls topics until ctx is canceled or a fatal error occurs.
func (c *confluentKafkaConsumer) Consume(ctx context.Context, topics []string, groupID string, handler MessageHandler) error {
	if len(topics) == 0 {
		return fmt.Errorf("kafka consumer: 未指定 topic")
	}
	c.groupID = groupID

	configMap := &kafka.ConfigMap{
		"bootstrap.servers": strings.Join(c.cfg.Brokers, ","),
		"group.id":          c.groupID,
		// 出站事件只对在线连接有意义，新实例从最新位置开始
		"auto.offset.reset":  "latest",
		"enable.auto.commit": "false",
		"security.protocol":  c.cfg.Protocol,
	}
	if c.cfg.ClientID != "" {
		_ = configMap.SetKey("client.id", c.cfg.ClientID)
	}

	consumer, err := kafka.NewConsumer(configMap)
	if err != nil {
		return fmt.Errorf("创建 Kafka consumer 失败 (group %s): %w", groupID, err)
	}
	c.consumer = consumer

	if err := c.consumer.SubscribeTopics(topics, nil); err != nil {
		_ = c.consumer.Close()
		c.consumer = nil
		return fmt.Errorf("订阅 topic %v 失败 (group %s): %w", topics, groupID, err)
	}

	log.Printf("Kafka consumer 已启动, GroupID: %s, Topics: %v", groupID, topics)

	for {
		select {
		case <-ctx.Done():
			log.Printf("Kafka consumer (group %s) 收到关闭信号", groupID)
			return nil
		default:
		}

		ev := c.consumer.Poll(1000)
		if ev == nil {
			continue
		}

		switch e := ev.(type) {
		case *kafka.Message:
			if err := handler(ctx, e); err != nil {
				log.Printf("错误: 处理 Kafka 消息失败 (group %s, topic %s, offset %v): %v",
					groupID, *e.TopicPartition.Topic, e.TopicPartition.Offset, err)
				continue
			}
			if _, err := c.consumer.CommitMessage(e); err != nil {
				log.Printf("警告: 提交 offset 失败 (group %s, topic %s, offset %v): %v",
					groupID, *e.TopicPartition.Topic, e.TopicPartition.Offset, err)
			}
		case kafka.Error:
			log.Printf("Kafka consumer 错误 (group %s): %v (Code: %d, Fatal: %t)", groupID, e, e.Code(), e.IsFatal())
			if e.IsFatal() {
				return e
			}
		case kafka.AssignedPartitions:
			log.Printf("group %s 分配到分区: %v", groupID, e.Partitions)
			c.consumer.Assign(e.Partitions)
		case kafka.RevokedPartitions:
			log.Printf("group %s 的分区被回收: %v", groupID, e.Partitions)
			c.consumer.Unassign()
		}
	}
}

// Close closes the Kafka consumer.
func (c *confluentKafkaConsumer) Close() {
	if c.consumer == nil {
		return
	}
	if err := c.consumer.Close(); err != nil {
		log.Printf("关闭 Kafka consumer 失败 (group %s): %v", c.groupID, err)
	} else {
		log.Printf("Kafka consumer (group %s) 已关闭", c.groupID)
	}
	c.consumer = nil
}
