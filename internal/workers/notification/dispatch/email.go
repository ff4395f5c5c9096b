package dispatch

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/sns"

	awsclient "forum-comms/internal/common/aws"
	"forum-comms/internal/common/errors"
	"forum-comms/internal/common/metrics"
)

type SESService interface {
	SendEmail(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error)
}

type SNSService interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

type sleepFunc func(ctx context.Context, d time.Duration) error

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// backoff returns the wait before the attempt following attempt n (1-based).
func backoff(base, max time.Duration, n int) time.Duration {
	d := base
	for i := 1; i < n; i++ {
		d *= 2
		if d >= max {
			return max
		}
	}
	if d > max {
		return max
	}
	return d
}

// classifyEmailError wraps an SES failure in the delivery taxonomy.
func classifyEmailError(err error) *errors.StandardError {
	if awsclient.IsPermanent(err) {
		return errors.NewDeliveryPermanentError(ChannelEmail, err)
	}
	return errors.NewDeliveryTransientError(ChannelEmail, err)
}

// sendEmailWithRetry returns the number of attempts made. A permanent
// rejection stops immediately; retryable failures are retried with capped
// exponential backoff.
func (h *Handler) sendEmailWithRetry(ctx context.Context, input *ses.SendEmailInput) (int, error) {
	maxAttempts := h.config.emailAttempts()
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, h.config.AttemptTimeout)
		_, err := h.ses.SendEmail(attemptCtx, input)
		cancel()
		if err == nil {
			metrics.DispatchDeliveries.WithLabelValues(ChannelEmail, "sent").Inc()
			return attempt, nil
		}

		deliveryErr := classifyEmailError(err)
		lastErr = deliveryErr
		if !errors.IsRetryable(deliveryErr) {
			metrics.DispatchDeliveries.WithLabelValues(ChannelEmail, "permanent").Inc()
			return attempt, deliveryErr
		}
		metrics.DispatchDeliveries.WithLabelValues(ChannelEmail, "transient").Inc()
		h.logger.Warn("email attempt failed", map[string]interface{}{
			"attempt": attempt,
			"awsCode": awsclient.ErrorCode(err),
			"error":   err.Error(),
		})

		if attempt == maxAttempts {
			break
		}
		if err := h.sleep(ctx, backoff(h.config.BaseBackoff, h.config.MaxBackoff, attempt)); err != nil {
			return attempt, errors.NewDeliveryTransientError(ChannelEmail, err)
		}
	}
	return maxAttempts, lastErr
}
