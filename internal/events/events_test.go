package events

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wakala/hedger/internal/pkg/retry"
)

type fakeSNS struct {
	inputs []*sns.PublishInput
	errs   []error
}

func (f *fakeSNS) Publish(_ context.Context, in *sns.PublishInput, _ ...func(*sns.Options)) (*sns.PublishOutput, error) {
	f.inputs = append(f.inputs, in)
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		if err != nil {
			return nil, err
		}
	}
	return &sns.PublishOutput{MessageId: aws.String("m-1")}, nil
}

func fastRetry() retry.Config {
	return retry.Config{MaxRetries: 2, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond}
}

func TestSNSSinkPublishesWithAttributes(t *testing.T) {
	t.Parallel()

	client := &fakeSNS{errs: []error{&types.ThrottledException{Message: aws.String("slow down")}}}
	sink, err := NewSNSSink(client, SNSConfig{TopicARN: "arn:aws:sns:us-east-1:000000000000:hedger", Retry: fastRetry()})
	require.NoError(t, err)

	ev := New(OrderExecuted, "order-1", map[string]string{"amount": "75000"})
	require.NoError(t, sink.Publish(context.Background(), ev))

	require.Len(t, client.inputs, 2, "throttling is retried")
	in := client.inputs[1]
	assert.Equal(t, "arn:aws:sns:us-east-1:000000000000:hedger", aws.ToString(in.TopicArn))
	assert.Equal(t, "order.executed", aws.ToString(in.MessageAttributes["eventType"].StringValue))
	assert.Equal(t, "order-1", aws.ToString(in.MessageAttributes["entityId"].StringValue))

	var decoded Event
	require.NoError(t, json.Unmarshal([]byte(aws.ToString(in.Message)), &decoded))
	assert.Equal(t, ev.ID, decoded.ID)
}

func TestSNSSinkDoesNotRetryPermanentErrors(t *testing.T) {
	t.Parallel()

	client := &fakeSNS{errs: []error{&types.NotFoundException{Message: aws.String("no topic")}}}
	sink, err := NewSNSSink(client, SNSConfig{TopicARN: "arn", Retry: fastRetry()})
	require.NoError(t, err)

	err = sink.Publish(context.Background(), New(RecommendationCritical, "rec-1", nil))
	require.Error(t, err)
	assert.Len(t, client.inputs, 1)

	require.NoError(t, sink.Close())
	assert.Error(t, sink.Publish(context.Background(), New(RecommendationCritical, "rec-2", nil)))
}

func TestNewSNSSinkValidates(t *testing.T) {
	t.Parallel()

	_, err := NewSNSSink(nil, SNSConfig{TopicARN: "arn"})
	assert.Error(t, err)
	_, err = NewSNSSink(&fakeSNS{}, SNSConfig{})
	assert.Error(t, err)
}

type failingSink struct{}

func (failingSink) Publish(context.Context, Event) error { return errors.New("down") }
func (failingSink) Close() error                         { return nil }

func TestEmitSwallowsErrors(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	Emit(context.Background(), failingSink{}, logger, New(OrderExecuted, "o", nil))
	assert.Contains(t, buf.String(), "publish event failed")

	mem := NewMemorySink()
	Emit(context.Background(), mem, logger, New(OrderExecuted, "o", nil))
	Emit(context.Background(), mem, logger, New(RecommendationCritical, "r", nil))
	assert.Len(t, mem.Events(), 2)
	assert.Len(t, mem.ByType(OrderExecuted), 1)
}
