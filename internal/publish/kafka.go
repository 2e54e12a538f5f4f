package publish

import (
	"context"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/IBM/sarama"
	"github.com/sirupsen/logrus"
	"github.com/xdg-go/scram"

	"github.com/replit/sandbox-correlate/internal/detect"
	"github.com/replit/sandbox-correlate/internal/events"
)

// KafkaConfig configures the optional Kafka findings publisher.
type KafkaConfig struct {
	Brokers  []string
	Topic    string
	SASLUser string
	SASLPass string
	// SASLMechanism is one of "", "PLAIN", "SCRAM-SHA-256", "SCRAM-SHA-512".
	SASLMechanism string
}

// findingMessage is the wire shape of one published finding: the finding's
// own fields plus its correlated events serialized through the same
// Record form the summary projector uses, so a downstream consumer never
// needs to understand the Event sum type.
type findingMessage struct {
	DetectionName    string          `json:"detection_name"`
	Pattern          string          `json:"pattern"`
	DisplayType      string          `json:"display_type"`
	PrimaryTargetID  *int            `json:"primary_target_seqid,omitempty"`
	CorrelatedEvents []events.Record `json:"correlated_events"`
}

// KafkaPublisher publishes one Kafka message per finding to a configured
// topic, with optional SASL/SCRAM authentication.
type KafkaPublisher struct {
	producer sarama.SyncProducer
	topic    string
	logger   *logrus.Logger
}

// NewKafkaPublisher dials brokers and returns a ready publisher. A nil
// logger falls back to logrus.StandardLogger().
func NewKafkaPublisher(cfg KafkaConfig, logger *logrus.Logger) (*KafkaPublisher, error) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("publish: no kafka brokers configured")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("publish: no kafka topic configured")
	}

	conf := sarama.NewConfig()
	conf.Producer.Return.Successes = true
	conf.Producer.RequiredAcks = sarama.WaitForAll

	if cfg.SASLUser != "" {
		conf.Net.SASL.Enable = true
		conf.Net.SASL.User = cfg.SASLUser
		conf.Net.SASL.Password = cfg.SASLPass

		switch strings.ToUpper(cfg.SASLMechanism) {
		case "SCRAM-SHA-256":
			conf.Net.SASL.Mechanism = sarama.SASLTypeSCRAMSHA256
			conf.Net.SASL.SCRAMClientGeneratorFunc = func() sarama.SCRAMClient {
				return &xdgSCRAMClient{HashGeneratorFcn: scramSHA256}
			}
		case "SCRAM-SHA-512":
			conf.Net.SASL.Mechanism = sarama.SASLTypeSCRAMSHA512
			conf.Net.SASL.SCRAMClientGeneratorFunc = func() sarama.SCRAMClient {
				return &xdgSCRAMClient{HashGeneratorFcn: scramSHA512}
			}
		default:
			conf.Net.SASL.Mechanism = sarama.SASLTypePlaintext
		}
	}

	producer, err := sarama.NewSyncProducer(cfg.Brokers, conf)
	if err != nil {
		return nil, fmt.Errorf("publish: creating kafka producer: %w", err)
	}

	logger.WithFields(logrus.Fields{"brokers": cfg.Brokers, "topic": cfg.Topic}).Info("publish: kafka findings publisher ready")
	return &KafkaPublisher{producer: producer, topic: cfg.Topic, logger: logger}, nil
}

// Publish sends one message per finding, returning the first marshal or
// send error encountered (later findings are still attempted).
func (k *KafkaPublisher) Publish(ctx context.Context, findings []*detect.Finding) error {
	var firstErr error
	for _, f := range findings {
		recs := make([]events.Record, 0, len(f.CorrelatedEvents))
		for _, e := range f.CorrelatedEvents {
			recs = append(recs, events.EventToRecord(e))
		}
		msg := findingMessage{
			DetectionName:    f.DetectionName,
			Pattern:          f.Pattern,
			DisplayType:      string(f.DisplayType),
			PrimaryTargetID:  f.PrimaryTargetSeqID(),
			CorrelatedEvents: recs,
		}

		payload, err := json.Marshal(msg)
		if err != nil {
			k.logger.WithError(err).Error("publish: marshal finding failed")
			if firstErr == nil {
				firstErr = err
			}
			continue
		}

		_, _, err = k.producer.SendMessage(&sarama.ProducerMessage{
			Topic: k.topic,
			Value: sarama.ByteEncoder(payload),
		})
		if err != nil {
			k.logger.WithError(err).Error("publish: send finding to kafka failed")
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// Close releases the underlying producer.
func (k *KafkaPublisher) Close() error {
	return k.producer.Close()
}

var (
	scramSHA256 scram.HashGeneratorFcn = sha256.New
	scramSHA512 scram.HashGeneratorFcn = sha512.New
)

// xdgSCRAMClient adapts xdg-go/scram to sarama.SCRAMClient.
type xdgSCRAMClient struct {
	*scram.Client
	*scram.ClientConversation
	scram.HashGeneratorFcn
}

func (x *xdgSCRAMClient) Begin(userName, password, authzID string) (err error) {
	x.Client, err = x.HashGeneratorFcn.NewClient(userName, password, authzID)
	if err != nil {
		return err
	}
	x.ClientConversation = x.Client.NewConversation()
	return nil
}

func (x *xdgSCRAMClient) Step(challenge string) (response string, err error) {
	return x.ClientConversation.Step(challenge)
}

func (x *xdgSCRAMClient) Done() bool {
	return x.ClientConversation.Done()
}
