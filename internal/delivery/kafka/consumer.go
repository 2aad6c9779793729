package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/azizikri/coupon-marketplace/internal/domain"
	"github.com/azizikri/coupon-marketplace/internal/usecase"
	"github.com/rs/zerolog/log"
	"github.com/twmb/franz-go/pkg/kgo"
)

type operation struct {
	// retrySafe operations may run again after a transient failure without
	// changing the outcome.
	retrySafe bool
	handle    func(ctx context.Context, req *RequestPayload) (*ResponsePayload, error)
}

type Consumer struct {
	client     *kgo.Client
	producer   Producer
	service    usecase.CouponGateway
	operations map[string]operation
	now        func() time.Time
	ready      chan struct{}
}

func NewConsumer(client *kgo.Client, service usecase.CouponGateway) *Consumer {
	c := newConsumer(client, service)
	c.client = client
	return c
}

func newConsumer(producer Producer, service usecase.CouponGateway) *Consumer {
	c := &Consumer{
		producer: producer,
		service:  service,
		now:      time.Now,
		ready:    make(chan struct{}),
	}
	c.operations = map[string]operation{
		TopicCreateRequest: {handle: c.handleCreate},
		TopicDeleteRequest: {handle: c.handleDelete},
		TopicClaimRequest:  {handle: c.handleClaim, retrySafe: true},
		TopicRedeemRequest: {handle: c.handleInitiate},
		TopicVerifyRequest: {handle: c.handleVerify},
		TopicListRequest:   {handle: c.handleList, retrySafe: true},
	}
	return c
}

func (c *Consumer) Start(ctx context.Context) {
	close(c.ready)
	for {
		fetches := c.client.PollFetches(ctx)
		if fetches.IsClientClosed() || ctx.Err() != nil {
			return
		}
		fetches.EachError(func(topic string, partition int32, err error) {
			log.Warn().Err(err).Str("topic", topic).Int32("partition", partition).Msg("consumer poll error")
		})

		iter := fetches.RecordIter()
		for !iter.Done() {
			c.processRecord(ctx, iter.Next())
		}

		if err := c.client.CommitRecords(ctx, fetches.Records()...); err != nil {
			log.Error().Err(err).Msg("failed to commit records")
		}
	}
}

// StartRetry moves records from the retry topics back to their request
// topics once their x-next-at time has passed.
func (c *Consumer) StartRetry(ctx context.Context) {
	for {
		fetches := c.client.PollFetches(ctx)
		if fetches.IsClientClosed() || ctx.Err() != nil {
			return
		}
		iter := fetches.RecordIter()
		for !iter.Done() {
			record := iter.Next()

			if nextAt, ok := retryNextAt(record); ok {
				if wait := nextAt.Sub(c.now()); wait > 0 {
					timer := time.NewTimer(wait)
					select {
					case <-ctx.Done():
						timer.Stop()
						return
					case <-timer.C:
					}
				}
			}

			requeued := &kgo.Record{
				Topic:   requestTopicFor(record.Topic),
				Key:     record.Key,
				Value:   record.Value,
				Headers: record.Headers,
			}
			if err := c.producer.ProduceSync(ctx, requeued).FirstErr(); err != nil {
				log.Error().Err(err).Str("topic", requeued.Topic).Msg("failed to requeue retry record")
			}
		}
		if err := c.client.CommitRecords(ctx, fetches.Records()...); err != nil {
			log.Error().Err(err).Msg("failed to commit retry records")
		}
	}
}

func (c *Consumer) Ready() <-chan struct{} {
	return c.ready
}

func (c *Consumer) processRecord(ctx context.Context, record *kgo.Record) {
	op, ok := c.operations[record.Topic]
	if !ok {
		log.Warn().Str("topic", record.Topic).Msg("record on unknown topic")
		return
	}

	var req RequestPayload
	if err := json.Unmarshal(record.Value, &req); err != nil {
		c.sendError(ctx, record, ErrCodeInvalidRequest, "invalid request payload")
		return
	}

	resp, err := op.handle(ctx, &req)
	if err != nil {
		if op.retrySafe && errors.Is(err, domain.ErrTransactionFailed) && c.retry(ctx, record) {
			return
		}
		if errors.Is(err, domain.ErrTransactionFailed) || !domain.IsBusinessError(err) {
			log.Error().Err(err).Str("topic", record.Topic).Str("correlation_id", req.CorrelationID).Msg("request failed")
		}
		resp = errorResponse(ErrorCode(err), err.Error())
	}
	resp.SchemaVersion = SchemaVersion
	resp.CorrelationID = req.CorrelationID

	c.sendResponse(ctx, req.ReplyTo, resp)
}

// retry schedules record on its retry topic. It reports false once the
// attempts are used up.
func (c *Consumer) retry(ctx context.Context, record *kgo.Record) bool {
	attempt := retryAttempt(record)
	if attempt >= MaxRetries {
		return false
	}

	nextAt := c.now().Add(RetryBackoff << attempt)
	retryRecord := &kgo.Record{
		Topic: retryTopicFor(record.Topic),
		Key:   record.Key,
		Value: record.Value,
		Headers: []kgo.RecordHeader{
			{Key: RetryHeaderAttempt, Value: []byte(strconv.Itoa(attempt + 1))},
			{Key: RetryHeaderNextAt, Value: []byte(nextAt.Format(time.RFC3339Nano))},
		},
	}
	if err := c.producer.ProduceSync(ctx, retryRecord).FirstErr(); err != nil {
		log.Error().Err(err).Str("topic", retryRecord.Topic).Msg("failed to schedule retry")
		return false
	}
	return true
}

func (c *Consumer) handleCreate(ctx context.Context, req *RequestPayload) (*ResponsePayload, error) {
	if req.Create == nil {
		return nil, missingPayload("create")
	}
	coupon, err := c.service.CreateCoupon(ctx, *req.Create)
	if err != nil {
		return nil, err
	}
	return &ResponsePayload{Status: StatusSuccess, Coupon: coupon}, nil
}

func (c *Consumer) handleDelete(ctx context.Context, req *RequestPayload) (*ResponsePayload, error) {
	if req.Delete == nil {
		return nil, missingPayload("delete")
	}
	if err := c.service.DeleteCoupon(ctx, *req.Delete); err != nil {
		return nil, err
	}
	return &ResponsePayload{Status: StatusSuccess}, nil
}

func (c *Consumer) handleClaim(ctx context.Context, req *RequestPayload) (*ResponsePayload, error) {
	if req.Claim == nil {
		return nil, missingPayload("claim")
	}
	claim, err := c.service.ClaimCoupon(ctx, *req.Claim)
	if err != nil {
		return nil, err
	}
	return &ResponsePayload{Status: StatusSuccess, Claim: claim}, nil
}

func (c *Consumer) handleInitiate(ctx context.Context, req *RequestPayload) (*ResponsePayload, error) {
	if req.Initiate == nil {
		return nil, missingPayload("initiate")
	}
	ticket, err := c.service.InitiateRedemption(ctx, *req.Initiate)
	if err != nil {
		return nil, err
	}
	return &ResponsePayload{Status: StatusSuccess, Ticket: ticket}, nil
}

func (c *Consumer) handleVerify(ctx context.Context, req *RequestPayload) (*ResponsePayload, error) {
	if req.Verify == nil {
		return nil, missingPayload("verify")
	}
	result, err := c.service.VerifyRedemption(ctx, *req.Verify)
	if err != nil {
		return nil, err
	}
	return &ResponsePayload{Status: StatusSuccess, Redemption: result}, nil
}

func (c *Consumer) handleList(ctx context.Context, req *RequestPayload) (*ResponsePayload, error) {
	if req.List == nil {
		return nil, missingPayload("list")
	}
	listings, err := c.service.ListCoupons(ctx, *req.List)
	if err != nil {
		return nil, err
	}
	return &ResponsePayload{Status: StatusSuccess, Listings: listings}, nil
}

func (c *Consumer) sendResponse(ctx context.Context, topic string, resp *ResponsePayload) {
	if topic == "" {
		return
	}
	payload, err := json.Marshal(resp)
	if err != nil {
		log.Error().Err(err).Msg("failed to encode response")
		return
	}
	record := &kgo.Record{
		Topic: topic,
		Value: payload,
	}
	if err := c.producer.ProduceSync(ctx, record).FirstErr(); err != nil {
		log.Error().Err(err).Str("topic", topic).Msg("failed to send response")
	}
}

// sendError answers an undecodable record when possible and parks it on
// the dead-letter topic.
func (c *Consumer) sendError(ctx context.Context, record *kgo.Record, code, message string) {
	var req RequestPayload
	_ = json.Unmarshal(record.Value, &req)

	resp := errorResponse(code, message)
	resp.SchemaVersion = SchemaVersion
	resp.CorrelationID = req.CorrelationID
	c.sendResponse(ctx, req.ReplyTo, resp)

	dlqRecord := &kgo.Record{
		Topic: record.Topic + TopicDLQSuffix,
		Key:   record.Key,
		Value: record.Value,
		Headers: []kgo.RecordHeader{
			{Key: ErrorHeaderKey, Value: []byte(message)},
		},
	}
	if err := c.producer.ProduceSync(ctx, dlqRecord).FirstErr(); err != nil {
		log.Error().Err(err).Str("topic", dlqRecord.Topic).Msg("failed to dead-letter record")
	}
}

func missingPayload(op string) error {
	return fmt.Errorf("%w: %s payload missing", domain.ErrInvalidRequest, op)
}

func errorResponse(code, message string) *ResponsePayload {
	return &ResponsePayload{
		Status:       StatusError,
		ErrorCode:    code,
		ErrorMessage: message,
	}
}

func header(record *kgo.Record, key string) (string, bool) {
	for _, h := range record.Headers {
		if h.Key == key {
			return string(h.Value), true
		}
	}
	return "", false
}

func retryNextAt(record *kgo.Record) (time.Time, bool) {
	value, ok := header(record, RetryHeaderNextAt)
	if !ok {
		return time.Time{}, false
	}
	nextAt, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}, false
	}
	return nextAt, true
}

func retryAttempt(record *kgo.Record) int {
	value, ok := header(record, RetryHeaderAttempt)
	if !ok {
		return 0
	}
	n, err := strconv.Atoi(value)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

func retryTopicFor(requestTopic string) string {
	return strings.TrimSuffix(requestTopic, TopicRequestSuffix) + TopicRetrySuffix
}

func requestTopicFor(retryTopic string) string {
	return strings.TrimSuffix(retryTopic, TopicRetrySuffix) + TopicRequestSuffix
}
