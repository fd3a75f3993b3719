package aws

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"feed-workers/internal/common/logger"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"
)

// Publisher is the subset of the SNS API the alerter needs.
type Publisher interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

func NewSNSClient(ctx context.Context, region string) (*sns.Client, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return sns.NewFromConfig(cfg), nil
}

const publishTimeout = 5 * time.Second

// CapacityAlert is the message body published when the result cache stays
// above its memory limit after eviction.
type CapacityAlert struct {
	Service    string    `json:"service"`
	UsedBytes  int64     `json:"usedBytes"`
	LimitBytes int64     `json:"limitBytes"`
	At         time.Time `json:"at"`
}

// CapacityAlerter publishes cache pressure alerts to an SNS topic, at most
// once per cooldown.
type CapacityAlerter struct {
	publisher Publisher
	topicARN  string
	service   string
	cooldown  time.Duration
	logger    logger.Logger
	now       func() time.Time

	mu       sync.Mutex
	lastSent time.Time
	inflight sync.WaitGroup
}

func NewCapacityAlerter(publisher Publisher, topicARN, service string, cooldown time.Duration, log logger.Logger) *CapacityAlerter {
	return &CapacityAlerter{
		publisher: publisher,
		topicARN:  topicARN,
		service:   service,
		cooldown:  cooldown,
		logger:    log.WithFields(map[string]interface{}{"component": "capacity-alerter"}),
		now:       time.Now,
	}
}

// Notify matches the result cache's over-capacity callback. Publishing
// happens in the background so the caller never waits on the network.
func (a *CapacityAlerter) Notify(usedBytes, limitBytes int64) {
	now := a.now()

	a.mu.Lock()
	if !a.lastSent.IsZero() && now.Sub(a.lastSent) < a.cooldown {
		a.mu.Unlock()
		return
	}
	a.lastSent = now
	a.mu.Unlock()

	alert := CapacityAlert{Service: a.service, UsedBytes: usedBytes, LimitBytes: limitBytes, At: now.UTC()}
	a.inflight.Add(1)
	go func() {
		defer a.inflight.Done()
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		defer cancel()
		if err := a.publish(ctx, alert); err != nil {
			a.logger.Error("failed to publish capacity alert", map[string]interface{}{"error": err})
		}
	}()
}

func (a *CapacityAlerter) publish(ctx context.Context, alert CapacityAlert) error {
	body, err := json.Marshal(alert)
	if err != nil {
		return err
	}
	_, err = a.publisher.Publish(ctx, &sns.PublishInput{
		TopicArn: aws.String(a.topicARN),
		Subject:  aws.String(fmt.Sprintf("[%s] result cache over capacity", a.service)),
		Message:  aws.String(string(body)),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"alertType": {DataType: aws.String("String"), StringValue: aws.String("cache_over_capacity")},
		},
	})
	return err
}

// Wait blocks until every pending publish has finished.
func (a *CapacityAlerter) Wait() {
	a.inflight.Wait()
}
