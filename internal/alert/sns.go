package alert

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
)

// SNSAPI is the slice of the SNS client the notifier uses.
type SNSAPI interface {
	Publish(ctx context.Context, in *sns.PublishInput, opts ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// SNS publishes notifications to a topic. An empty topic ARN turns the
// notifier into a no-op so deployments without alerting keep working.
type SNS struct {
	client   SNSAPI
	topicARN string
}

// NewSNS wraps an SNS client and target topic.
func NewSNS(client SNSAPI, topicARN string) *SNS {
	return &SNS{client: client, topicARN: topicARN}
}

// Send publishes subject and message to the topic.
func (s *SNS) Send(ctx context.Context, subject, message string) error {
	if s.topicARN == "" {
		return nil
	}
	_, err := s.client.Publish(ctx, &sns.PublishInput{
		TopicArn: aws.String(s.topicARN),
		Subject:  aws.String(subject),
		Message:  aws.String(message),
	})
	if err != nil {
		return fmt.Errorf("alert: publish: %w", err)
	}
	return nil
}
