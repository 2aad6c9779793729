package kafka

import "time"

const (
	TopicCreateRequest = "coupon.create.req"
	TopicDeleteRequest = "coupon.delete.req"
	TopicClaimRequest  = "coupon.claim.req"
	TopicRedeemRequest = "coupon.redeem.req"
	TopicVerifyRequest = "coupon.verify.req"
	TopicListRequest   = "coupon.list.req"

	// Only operations that are safe to run twice have a retry topic.
	TopicClaimRetry = "coupon.claim.retry"
	TopicListRetry  = "coupon.list.retry"

	TopicEvents        = "coupon.events"
	TopicReplyPrefix   = "coupon.reply."
	TopicRequestSuffix = ".req"
	TopicRetrySuffix   = ".retry"
	TopicDLQSuffix     = ".dlq"

	RequestTimeout = 3 * time.Second
	MaxRetries     = 3
	RetryBackoff   = 200 * time.Millisecond

	RetryHeaderNextAt  = "x-next-at"
	RetryHeaderAttempt = "x-attempt"
	ErrorHeaderKey     = "x-error"
)

var RequestTopics = []string{
	TopicCreateRequest,
	TopicDeleteRequest,
	TopicClaimRequest,
	TopicRedeemRequest,
	TopicVerifyRequest,
	TopicListRequest,
}

var RetryTopics = []string{
	TopicClaimRetry,
	TopicListRetry,
}

func ReplyTopic(instanceID string) string {
	return TopicReplyPrefix + instanceID
}
