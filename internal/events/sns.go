package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"

	"github.com/wakala/hedger/internal/pkg/retry"
)

var _ Sink = (*SNSSink)(nil)

// SNSPublisher is the slice of the SNS client the sink needs.
type SNSPublisher interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

type SNSConfig struct {
	TopicARN string
	Retry    retry.Config
	Logger   *slog.Logger
}

// SNSSink publishes every event type to one topic. Subscribers filter on
// the eventType message attribute.
type SNSSink struct {
	client SNSPublisher
	cfg    SNSConfig
	logger *slog.Logger
	mu     sync.RWMutex
	closed bool
}

func NewSNSSink(client SNSPublisher, cfg SNSConfig) (*SNSSink, error) {
	if client == nil {
		return nil, errors.New("sns client is required")
	}
	if cfg.TopicARN == "" {
		return nil, errors.New("topic ARN is required")
	}
	if cfg.Retry.MaxRetries == 0 {
		cfg.Retry = retry.Config{
			MaxRetries:     3,
			InitialBackoff: 100 * time.Millisecond,
			MaxBackoff:     2 * time.Second,
			Jitter:         true,
		}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &SNSSink{client: client, cfg: cfg, logger: cfg.Logger.With("component", "sns-eventsink")}, nil
}

// NewSNSClient builds a client from the default AWS credential chain. A
// non-empty endpoint points it at a local emulator.
func NewSNSClient(ctx context.Context, region, endpoint string) (*sns.Client, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return sns.NewFromConfig(awsCfg, func(o *sns.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	}), nil
}

func (s *SNSSink) Publish(ctx context.Context, event Event) error {
	s.mu.RLock()
	closed := s.closed
	s.mu.RUnlock()
	if closed {
		return errors.New("event sink is closed")
	}

	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	input := &sns.PublishInput{
		TopicArn: aws.String(s.cfg.TopicARN),
		Message:  aws.String(string(body)),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"eventType": {DataType: aws.String("String"), StringValue: aws.String(string(event.Type))},
			"entityId":  {DataType: aws.String("String"), StringValue: aws.String(event.EntityID)},
		},
	}

	onRetry := func(attempt int, err error, backoff time.Duration) {
		s.logger.Warn("sns publish failed, retrying",
			"attempt", attempt, "backoff", backoff, "eventType", event.Type, "error", err)
	}
	err = retry.DoVoid(ctx, s.cfg.Retry, isRetryableSNSError, onRetry, func() error {
		_, err := s.client.Publish(ctx, input)
		return err
	})
	if err != nil {
		return fmt.Errorf("publish to sns: %w", err)
	}
	return nil
}

func (s *SNSSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func isRetryableSNSError(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var notFound *types.NotFoundException
	var invalid *types.InvalidParameterException
	var authz *types.AuthorizationErrorException
	if errors.As(err, &notFound) || errors.As(err, &invalid) || errors.As(err, &authz) {
		return false
	}
	// Throttling, internal errors and network failures are transient.
	return true
}
