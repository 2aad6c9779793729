package kafka

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/azizikri/coupon-marketplace/internal/config"
	"github.com/rs/zerolog/log"
	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"
)

// Topics lists every topic an instance reads or writes.
func Topics(instanceID string) []string {
	topics := make([]string, 0, 2*len(RequestTopics)+len(RetryTopics)+2)
	topics = append(topics, RequestTopics...)
	topics = append(topics, RetryTopics...)
	for _, t := range RequestTopics {
		topics = append(topics, t+TopicDLQSuffix)
	}
	return append(topics, ReplyTopic(instanceID), TopicEvents)
}

func EnsureTopics(ctx context.Context, client *kgo.Client, cfg *config.Config) error {
	adm := kadm.NewClient(client)

	partitions := cfg.TopicPartitions()
	retryPartitions := cfg.RetryPartitions()
	replicationFactor := cfg.ReplicationFactor()

	var configs map[string]*string
	if cfg.KafkaMinISR != "" {
		configs = map[string]*string{"min.insync.replicas": &cfg.KafkaMinISR}
	}

	for _, topic := range Topics(cfg.KafkaInstanceID) {
		p := partitions
		if strings.HasSuffix(topic, TopicRetrySuffix) || strings.HasSuffix(topic, TopicDLQSuffix) {
			p = retryPartitions
		}

		resp, err := adm.CreateTopics(ctx, int32(p), replicationFactor, configs, topic)
		if err != nil {
			return fmt.Errorf("failed to create topic %s: %w", topic, err)
		}
		for _, detail := range resp {
			if detail.Err != nil && !errors.Is(detail.Err, kerr.TopicAlreadyExists) {
				return fmt.Errorf("failed to create topic %s: %w", detail.Topic, detail.Err)
			}
		}
	}

	log.Info().Str("instance", cfg.KafkaInstanceID).Msg("all topics ensured")
	return nil
}
