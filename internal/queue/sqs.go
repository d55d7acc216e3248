/*
Copyright 2025.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/go-logr/logr"

	"github.com/sentinela-project/sentinela/internal/config"
)

// SQSAPI is the narrow slice of the SQS client the queue needs. Tests
// substitute a fake.
type SQSAPI interface {
	GetQueueUrl(context.Context, *sqs.GetQueueUrlInput, ...func(*sqs.Options)) (*sqs.GetQueueUrlOutput, error)
	CreateQueue(context.Context, *sqs.CreateQueueInput, ...func(*sqs.Options)) (*sqs.CreateQueueOutput, error)
	SendMessage(context.Context, *sqs.SendMessageInput, ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
	ReceiveMessage(context.Context, *sqs.ReceiveMessageInput, ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	ChangeMessageVisibility(context.Context, *sqs.ChangeMessageVisibilityInput, ...func(*sqs.Options)) (*sqs.ChangeMessageVisibilityOutput, error)
	DeleteMessage(context.Context, *sqs.DeleteMessageInput, ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

// NewSQSClient builds an SQS client from the ambient AWS configuration
// (credentials chain, AWS_ENDPOINT_URL when set).
func NewSQSClient(ctx context.Context, region string) (*sqs.Client, error) {
	opts := []func(*awsconfig.LoadOptions) error{}
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("loading aws config: %w", err)
	}
	return sqs.NewFromConfig(awsCfg), nil
}

// SQSQueue is the SQS queue backend used when multiple Sentinela instances
// share one pipeline. Receives use long polling; the visibility timeout is
// twice the keepalive period so a healthy handler always extends the window
// before it lapses.
type SQSQueue struct {
	client SQSAPI
	log    logr.Logger

	queueName      string
	createQueue    bool
	waitTime       time.Duration
	visibilityTime time.Duration

	mu       sync.Mutex
	queueURL string
}

// NewSQSQueue creates an SQS-backed queue
func NewSQSQueue(cfg config.QueueConfig, client SQSAPI, log logr.Logger) *SQSQueue {
	return &SQSQueue{
		client:         client,
		log:            log.WithName("queue.sqs"),
		queueName:      cfg.Name,
		createQueue:    cfg.CreateQueue,
		waitTime:       cfg.WaitMessageTime,
		visibilityTime: cfg.VisibilityTime,
		queueURL:       cfg.URL,
	}
}

// Init resolves the queue URL, creating the queue when configured to
func (q *SQSQueue) Init(ctx context.Context) error {
	_, err := q.resolveQueueURL(ctx)
	return err
}

// resolveQueueURL returns the cached queue URL or discovers it by name
func (q *SQSQueue) resolveQueueURL(ctx context.Context) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.queueURL != "" {
		return q.queueURL, nil
	}
	if q.queueName == "" {
		return "", fmt.Errorf("sqs queue requires queue.name or queue.url")
	}

	out, err := q.client.GetQueueUrl(ctx, &sqs.GetQueueUrlInput{
		QueueName: aws.String(q.queueName),
	})
	if err != nil {
		var notFound *sqstypes.QueueDoesNotExist
		if !errors.As(err, &notFound) {
			return "", fmt.Errorf("resolving queue %q: %w", q.queueName, err)
		}
		if !q.createQueue {
			return "", fmt.Errorf("queue %q does not exist and queue.create_queue is disabled: %w", q.queueName, err)
		}

		created, err := q.client.CreateQueue(ctx, &sqs.CreateQueueInput{
			QueueName: aws.String(q.queueName),
		})
		if err != nil {
			return "", fmt.Errorf("creating queue %q: %w", q.queueName, err)
		}
		q.queueURL = aws.ToString(created.QueueUrl)
		q.log.Info("created queue", "queue", q.queueName, "url", q.queueURL)
		return q.queueURL, nil
	}

	q.queueURL = aws.ToString(out.QueueUrl)
	return q.queueURL, nil
}

// SendMessage enqueues a payload under a message type
func (q *SQSQueue) SendMessage(ctx context.Context, messageType string, payload interface{}) error {
	queueURL, err := q.resolveQueueURL(ctx)
	if err != nil {
		return err
	}

	body, err := encodeBody(messageType, payload)
	if err != nil {
		return err
	}

	if _, err := q.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(queueURL),
		MessageBody: aws.String(body),
	}); err != nil {
		return fmt.Errorf("sending message to sqs: %w", err)
	}
	return nil
}

// GetMessage long-polls for the next message. The initial visibility window
// is twice the base visibility time, leaving the handler one full keepalive
// period of slack.
func (q *SQSQueue) GetMessage(ctx context.Context) (*Message, error) {
	queueURL, err := q.resolveQueueURL(ctx)
	if err != nil {
		return nil, err
	}

	out, err := q.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(queueURL),
		MaxNumberOfMessages: 1,
		WaitTimeSeconds:     int32(q.waitTime.Seconds()),
		VisibilityTimeout:   int32((2 * q.visibilityTime).Seconds()),
	})
	if err != nil {
		return nil, fmt.Errorf("receiving sqs message: %w", err)
	}
	if len(out.Messages) == 0 {
		return nil, nil
	}

	raw := out.Messages[0]
	messageType, payload, err := decodeBody(aws.ToString(raw.Body))
	if err != nil {
		return nil, err
	}

	return &Message{
		ID:            aws.ToString(raw.MessageId),
		ReceiptHandle: aws.ToString(raw.ReceiptHandle),
		Type:          messageType,
		Payload:       payload,
	}, nil
}

// ChangeVisibility extends the invisibility window of an in-flight message
func (q *SQSQueue) ChangeVisibility(ctx context.Context, message *Message) error {
	queueURL, err := q.resolveQueueURL(ctx)
	if err != nil {
		return err
	}

	if _, err := q.client.ChangeMessageVisibility(ctx, &sqs.ChangeMessageVisibilityInput{
		QueueUrl:          aws.String(queueURL),
		ReceiptHandle:     aws.String(message.ReceiptHandle),
		VisibilityTimeout: int32((2 * q.visibilityTime).Seconds()),
	}); err != nil {
		return fmt.Errorf("changing sqs message visibility: %w", err)
	}
	return nil
}

// DeleteMessage acknowledges a message so it is never redelivered
func (q *SQSQueue) DeleteMessage(ctx context.Context, message *Message) error {
	queueURL, err := q.resolveQueueURL(ctx)
	if err != nil {
		return err
	}

	if _, err := q.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(queueURL),
		ReceiptHandle: aws.String(message.ReceiptHandle),
	}); err != nil {
		return fmt.Errorf("deleting sqs message: %w", err)
	}
	return nil
}
