package server

import (
	"encoding/json"
	"regexp"
	"strconv"
	"time"

	"github.com/Shopify/sarama"

	"github.com/janelia-flyem/planar/planar"
)

// KafkaMaxMessageSize is the max message size in bytes for a Kafka message.
const KafkaMaxMessageSize = 980 * planar.Kilo

// KafkaConfig describes the kafka servers receiving the activity log.
type KafkaConfig struct {
	TopicActivity string // if supplied, will be override topic for activity log
	Servers       []string
	BufferSize    int // max buffered messages
}

var badTopicChars = regexp.MustCompile(`[^a-zA-Z0-9\._\-]+`)

// ActivityLog publishes request activity as JSON messages to a Kafka topic.  A nil
// *ActivityLog discards activity.
type ActivityLog struct {
	producer sarama.AsyncProducer
	topic    string
}

// NewActivityLog connects to the configured servers.  It returns nil if no servers
// are configured.
func NewActivityLog(kc KafkaConfig, hostID string) (*ActivityLog, error) {
	if len(kc.Servers) == 0 {
		return nil, nil
	}
	config := sarama.NewConfig()
	config.Producer.MaxMessageBytes = KafkaMaxMessageSize
	if kc.BufferSize > 0 {
		config.ChannelBufferSize = kc.BufferSize
	}
	producer, err := sarama.NewAsyncProducer(kc.Servers, config)
	if err != nil {
		return nil, err
	}
	topic := kc.TopicActivity
	if topic == "" {
		topic = "planaractivity-" + hostID
	}
	return newActivityLog(producer, topic), nil
}

func newActivityLog(producer sarama.AsyncProducer, topic string) *ActivityLog {
	a := &ActivityLog{producer: producer, topic: badTopicChars.ReplaceAllString(topic, "-")}
	go func() {
		for err := range producer.Errors() {
			planar.Errorf("error on kafka send to %s: %v\n", a.topic, err)
		}
	}()
	planar.Infof("Kafka topic for planar activity: %s\n", a.topic)
	return a
}

// Topic returns the activity topic.
func (a *ActivityLog) Topic() string {
	if a == nil {
		return ""
	}
	return a.topic
}

// Log publishes one activity record keyed by the current time.
func (a *ActivityLog) Log(activity map[string]interface{}) {
	if a == nil {
		return
	}
	jsonmsg, err := json.Marshal(activity)
	if err != nil {
		planar.Errorf("unable to marshal activity for kafka logging: %v\n", err)
		return
	}
	timeKey := sarama.StringEncoder(strconv.FormatInt(time.Now().UnixNano(), 10))
	a.producer.Input() <- &sarama.ProducerMessage{Topic: a.topic, Value: sarama.ByteEncoder(jsonmsg), Key: timeKey}
}

// Close flushes queued messages and stops the producer.
func (a *ActivityLog) Close() {
	if a == nil {
		return
	}
	if err := a.producer.Close(); err != nil {
		planar.Errorf("Kafka producer had error on close: %v\n", err)
	} else {
		planar.Infof("Successfully shut down kafka producer.\n")
	}
}
