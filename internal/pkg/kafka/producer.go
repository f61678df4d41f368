package kafka

import (
	"Courier/internal/api/config"
	log "log/slog"
	"time"

	"github.com/IBM/sarama"
	"github.com/goccy/go-json"
)

// factEnvelope 投递事实的统一信封
type factEnvelope struct {
	FactType   string      `json:"fact_type"`
	OccurredAt time.Time   `json:"occurred_at"`
	Payload    interface{} `json:"payload"`
}

// FactProducer 将投递事实异步发往 Kafka 供下游消费，
// 发送失败只记录日志，不影响投递主流程
type FactProducer struct {
	producer sarama.AsyncProducer
	topic    string
	done     chan struct{}
}

// NewFactProducer 构造函数
func NewFactProducer(cfg *config.Config) (*FactProducer, error) {
	saramaCfg := newSaramaConfig(cfg.Kafka)

	producer, err := sarama.NewAsyncProducer(cfg.Kafka.Brokers, saramaCfg)
	if err != nil {
		return nil, err
	}

	p := &FactProducer{
		producer: producer,
		topic:    cfg.Kafka.FactsTopic,
		done:     make(chan struct{}),
	}
	go p.drainErrors()
	return p, nil
}

func (p *FactProducer) drainErrors() {
	defer close(p.done)
	for err := range p.producer.Errors() {
		log.Error("事实消息发送失败", "topic", err.Msg.Topic, "err", err.Err)
	}
}

// Publish 序列化后异步发送，fact_type 作为分区键保证同类事实有序
func (p *FactProducer) Publish(factType string, payload interface{}) {
	body, err := json.Marshal(factEnvelope{
		FactType:   factType,
		OccurredAt: time.Now(),
		Payload:    payload,
	})
	if err != nil {
		log.Error("事实消息序列化失败", "factType", factType, "err", err)
		return
	}
	p.producer.Input() <- &sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(factType),
		Value: sarama.ByteEncoder(body),
	}
}

// Close 关闭生产者并等待错误通道排空
func (p *FactProducer) Close() error {
	err := p.producer.Close()
	<-p.done
	return err
}
