package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/azizikri/coupon-marketplace/internal/domain"
	"github.com/azizikri/coupon-marketplace/internal/usecase"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/twmb/franz-go/pkg/kgo"
)

var ErrReplyTimeout = errors.New("timeout waiting for response")

// Producer is the part of *kgo.Client the gateway and publisher need.
type Producer interface {
	ProduceSync(ctx context.Context, rs ...*kgo.Record) kgo.ProduceResults
}

type Gateway struct {
	producer    Producer
	replyTo     string
	timeout     time.Duration
	pendingResp sync.Map
}

func NewGateway(producer Producer, instanceID string) *Gateway {
	return &Gateway{
		producer: producer,
		replyTo:  ReplyTopic(instanceID),
		timeout:  RequestTimeout,
	}
}

func (g *Gateway) CreateCoupon(ctx context.Context, req domain.CreateCouponRequest) (*domain.Coupon, error) {
	return call(ctx, g, TopicCreateRequest, req.BusinessID.String(),
		RequestPayload{Create: &req},
		func(r *ResponsePayload) *domain.Coupon { return r.Coupon })
}

func (g *Gateway) DeleteCoupon(ctx context.Context, req domain.DeleteCouponRequest) error {
	_, err := call(ctx, g, TopicDeleteRequest, req.CouponID.String(),
		RequestPayload{Delete: &req},
		func(*ResponsePayload) struct{} { return struct{}{} })
	return err
}

// ClaimCoupon keys by coupon so claims for one coupon land on one partition.
func (g *Gateway) ClaimCoupon(ctx context.Context, req domain.ClaimRequest) (*domain.Claim, error) {
	return call(ctx, g, TopicClaimRequest, req.CouponID.String(),
		RequestPayload{Claim: &req},
		func(r *ResponsePayload) *domain.Claim { return r.Claim })
}

func (g *Gateway) InitiateRedemption(ctx context.Context, req domain.InitiateRedemptionRequest) (*domain.RedemptionTicket, error) {
	return call(ctx, g, TopicRedeemRequest, req.ClaimID.String(),
		RequestPayload{Initiate: &req},
		func(r *ResponsePayload) *domain.RedemptionTicket { return r.Ticket })
}

func (g *Gateway) VerifyRedemption(ctx context.Context, req domain.VerifyRedemptionRequest) (*domain.RedemptionResult, error) {
	key := req.VerificationCode
	if key == "" && req.RequestID != nil {
		key = req.RequestID.String()
	}
	return call(ctx, g, TopicVerifyRequest, key,
		RequestPayload{Verify: &req},
		func(r *ResponsePayload) *domain.RedemptionResult { return r.Redemption })
}

func (g *Gateway) ListCoupons(ctx context.Context, req domain.ListCouponsRequest) ([]domain.CouponListing, error) {
	return call(ctx, g, TopicListRequest, req.Filter.CacheKey(),
		RequestPayload{List: &req},
		func(r *ResponsePayload) []domain.CouponListing { return r.Listings })
}

func call[T any](ctx context.Context, g *Gateway, topic, key string, req RequestPayload, pick func(*ResponsePayload) T) (T, error) {
	var zero T

	req.SchemaVersion = SchemaVersion
	req.CorrelationID = uuid.NewString()
	req.ReplyTo = g.replyTo

	resp, err := g.requestReply(ctx, topic, []byte(key), req)
	if err != nil {
		return zero, err
	}
	if resp.Status == StatusError {
		return zero, ErrorFromCode(resp.ErrorCode, resp.ErrorMessage)
	}
	return pick(resp), nil
}

func (g *Gateway) requestReply(ctx context.Context, topic string, key []byte, req RequestPayload) (*ResponsePayload, error) {
	respChan := make(chan *ResponsePayload, 1)
	g.pendingResp.Store(req.CorrelationID, respChan)
	defer g.pendingResp.Delete(req.CorrelationID)

	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	record := &kgo.Record{
		Topic: topic,
		Key:   key,
		Value: payload,
	}

	if err := g.producer.ProduceSync(ctx, record).FirstErr(); err != nil {
		return nil, fmt.Errorf("%w: produce %s: %w", domain.ErrTransactionFailed, topic, err)
	}

	timer := time.NewTimer(g.timeout)
	defer timer.Stop()

	select {
	case resp := <-respChan:
		return resp, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		return nil, fmt.Errorf("%w: %w", domain.ErrTransactionFailed, ErrReplyTimeout)
	}
}

// HandleResponse routes a reply to the waiting caller. Replies for callers
// that already gave up are dropped.
func (g *Gateway) HandleResponse(payload []byte) {
	var resp ResponsePayload
	if err := json.Unmarshal(payload, &resp); err != nil {
		log.Warn().Err(err).Msg("failed to decode response payload")
		return
	}

	ch, ok := g.pendingResp.Load(resp.CorrelationID)
	if !ok {
		log.Debug().Str("correlation_id", resp.CorrelationID).Msg("no pending response")
		return
	}

	select {
	case ch.(chan *ResponsePayload) <- &resp:
	default:
		log.Warn().Str("correlation_id", resp.CorrelationID).Msg("duplicate response dropped")
	}
}

// StartReplies polls this instance's reply topic until ctx ends.
func (g *Gateway) StartReplies(ctx context.Context, client *kgo.Client) {
	for {
		fetches := client.PollFetches(ctx)
		if fetches.IsClientClosed() || ctx.Err() != nil {
			return
		}
		fetches.EachError(func(topic string, partition int32, err error) {
			log.Warn().Err(err).Str("topic", topic).Int32("partition", partition).Msg("reply poll error")
		})
		fetches.EachRecord(func(record *kgo.Record) {
			g.HandleResponse(record.Value)
		})
	}
}

var _ usecase.CouponGateway = (*Gateway)(nil)
