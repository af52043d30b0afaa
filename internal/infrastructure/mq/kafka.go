package mq

import (
	"fmt"

	"mealsub/internal/config"

	"github.com/IBM/sarama"
)

// Publisher 消息发送接口，后台任务与通知模块依赖它而不是具体的 Kafka 实现
type Publisher interface {
	Publish(topic, key string, value []byte) error
}

// KafkaProducer 同步生产者
type KafkaProducer struct {
	producer sarama.SyncProducer
}

// NewKafkaProducer 创建 Kafka 生产者
func NewKafkaProducer(cfg *config.KafkaConfig) (*KafkaProducer, error) {
	kafkaConfig := sarama.NewConfig()
	kafkaConfig.Producer.RequiredAcks = sarama.WaitForAll // 等待所有副本确认
	kafkaConfig.Producer.Retry.Max = 3
	kafkaConfig.Producer.Return.Successes = true
	kafkaConfig.Producer.Idempotent = true
	kafkaConfig.Net.MaxOpenRequests = 1
	kafkaConfig.Version = sarama.V2_1_0_0

	producer, err := sarama.NewSyncProducer(cfg.Brokers, kafkaConfig)
	if err != nil {
		return nil, fmt.Errorf("创建 Kafka 生产者失败: %w", err)
	}
	return &KafkaProducer{producer: producer}, nil
}

// NewKafkaProducerWith 使用已有的 SyncProducer，测试中传入 sarama/mocks
func NewKafkaProducerWith(producer sarama.SyncProducer) *KafkaProducer {
	return &KafkaProducer{producer: producer}
}

// Publish 发送消息，同一 key 落在同一分区以保证顺序
func (p *KafkaProducer) Publish(topic, key string, value []byte) error {
	msg := &sarama.ProducerMessage{
		Topic: topic,
		Key:   sarama.StringEncoder(key),
		Value: sarama.ByteEncoder(value),
	}
	_, _, err := p.producer.SendMessage(msg)
	return err
}

func (p *KafkaProducer) Close() error {
	if p.producer == nil {
		return nil
	}
	return p.producer.Close()
}
