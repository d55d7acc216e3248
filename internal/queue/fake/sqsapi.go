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

// Package fake provides an in-memory SQSAPI for tests. It keeps real queue
// state (bodies, receipt handles, visibility deadlines) so queue tests
// exercise the production code paths without the network.
package fake

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/google/uuid"
)

const defaultQueueURL = "https://sqs.us-east-1.amazonaws.com/000000000000/sentinela-pipeline"

type message struct {
	id            string
	body          string
	receiptHandle string
	invisibleUntil time.Time
}

// SQSAPI must be Reset between tests otherwise tests will pollute each other.
type SQSAPI struct {
	mu sync.Mutex

	// QueueExists controls whether GetQueueUrl resolves or reports a
	// missing queue.
	QueueExists bool

	// CreatedQueues records CreateQueue calls by name.
	CreatedQueues []string

	// Error injection, checked before any state change.
	GetQueueUrlError             error
	CreateQueueError             error
	SendMessageError             error
	ReceiveMessageError          error
	ChangeMessageVisibilityError error
	DeleteMessageError           error

	// Recorded inputs, newest last.
	ReceiveInputs    []*sqs.ReceiveMessageInput
	VisibilityInputs []*sqs.ChangeMessageVisibilityInput

	messages []*message
}

// NewSQSAPI returns a fake with an existing empty queue
func NewSQSAPI() *SQSAPI {
	return &SQSAPI{QueueExists: true}
}

// Reset must be called between tests otherwise tests will pollute each other.
func (s *SQSAPI) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.QueueExists = true
	s.CreatedQueues = nil
	s.GetQueueUrlError = nil
	s.CreateQueueError = nil
	s.SendMessageError = nil
	s.ReceiveMessageError = nil
	s.ChangeMessageVisibilityError = nil
	s.DeleteMessageError = nil
	s.ReceiveInputs = nil
	s.VisibilityInputs = nil
	s.messages = nil
}

// Pending reports how many messages sit in the fake queue
func (s *SQSAPI) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.messages)
}

//nolint:revive,stylecheck
func (s *SQSAPI) GetQueueUrl(_ context.Context, input *sqs.GetQueueUrlInput, _ ...func(*sqs.Options)) (*sqs.GetQueueUrlOutput, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.GetQueueUrlError != nil {
		return nil, s.GetQueueUrlError
	}
	if !s.QueueExists {
		return nil, &sqstypes.QueueDoesNotExist{
			Message: aws.String(fmt.Sprintf("queue %s does not exist", aws.ToString(input.QueueName))),
		}
	}
	return &sqs.GetQueueUrlOutput{QueueUrl: aws.String(defaultQueueURL)}, nil
}

func (s *SQSAPI) CreateQueue(_ context.Context, input *sqs.CreateQueueInput, _ ...func(*sqs.Options)) (*sqs.CreateQueueOutput, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.CreateQueueError != nil {
		return nil, s.CreateQueueError
	}
	s.QueueExists = true
	s.CreatedQueues = append(s.CreatedQueues, aws.ToString(input.QueueName))
	return &sqs.CreateQueueOutput{QueueUrl: aws.String(defaultQueueURL)}, nil
}

func (s *SQSAPI) SendMessage(_ context.Context, input *sqs.SendMessageInput, _ ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.SendMessageError != nil {
		return nil, s.SendMessageError
	}
	msg := &message{
		id:   uuid.NewString(),
		body: aws.ToString(input.MessageBody),
	}
	s.messages = append(s.messages, msg)
	return &sqs.SendMessageOutput{MessageId: aws.String(msg.id)}, nil
}

func (s *SQSAPI) ReceiveMessage(_ context.Context, input *sqs.ReceiveMessageInput, _ ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ReceiveMessageError != nil {
		return nil, s.ReceiveMessageError
	}
	s.ReceiveInputs = append(s.ReceiveInputs, input)

	now := time.Now()
	max := int(input.MaxNumberOfMessages)
	if max <= 0 {
		max = 1
	}

	out := &sqs.ReceiveMessageOutput{}
	for _, msg := range s.messages {
		if len(out.Messages) >= max {
			break
		}
		if now.Before(msg.invisibleUntil) {
			continue
		}
		msg.receiptHandle = uuid.NewString()
		msg.invisibleUntil = now.Add(time.Duration(input.VisibilityTimeout) * time.Second)
		out.Messages = append(out.Messages, sqstypes.Message{
			MessageId:     aws.String(msg.id),
			ReceiptHandle: aws.String(msg.receiptHandle),
			Body:          aws.String(msg.body),
		})
	}
	return out, nil
}

func (s *SQSAPI) ChangeMessageVisibility(_ context.Context, input *sqs.ChangeMessageVisibilityInput, _ ...func(*sqs.Options)) (*sqs.ChangeMessageVisibilityOutput, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ChangeMessageVisibilityError != nil {
		return nil, s.ChangeMessageVisibilityError
	}
	s.VisibilityInputs = append(s.VisibilityInputs, input)
	for _, msg := range s.messages {
		if msg.receiptHandle == aws.ToString(input.ReceiptHandle) {
			msg.invisibleUntil = time.Now().Add(time.Duration(input.VisibilityTimeout) * time.Second)
			break
		}
	}
	return &sqs.ChangeMessageVisibilityOutput{}, nil
}

func (s *SQSAPI) DeleteMessage(_ context.Context, input *sqs.DeleteMessageInput, _ ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.DeleteMessageError != nil {
		return nil, s.DeleteMessageError
	}
	for i, msg := range s.messages {
		if msg.receiptHandle == aws.ToString(input.ReceiptHandle) {
			s.messages = append(s.messages[:i], s.messages[i+1:]...)
			break
		}
	}
	return &sqs.DeleteMessageOutput{}, nil
}
