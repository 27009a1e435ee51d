// Package queue consumes inbound session requests from SQS and feeds them to
// the dispatcher.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"github.com/tenantops/lab-lifecycle/internal/dispatcher"
	"github.com/tenantops/lab-lifecycle/internal/models"
)

// sqsAPI is the subset of the SQS client the consumer needs.
type sqsAPI interface {
	ReceiveMessage(ctx context.Context, in *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, in *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

// Consumer long-polls the session request queue. Messages that dispatch
// successfully are deleted; malformed or invalid messages are deleted too
// (retrying them can never succeed); transient dispatch failures leave the
// message for redelivery.
type Consumer struct {
	client     sqsAPI
	queueURL   string
	dispatcher *dispatcher.Dispatcher
}

func NewConsumer(client *sqs.Client, queueURL string, d *dispatcher.Dispatcher) *Consumer {
	return &Consumer{client: client, queueURL: queueURL, dispatcher: d}
}

// Run blocks until ctx is cancelled.
func (c *Consumer) Run(ctx context.Context) error {
	log.Printf("[queue] consuming %s", c.queueURL)
	defer log.Printf("[queue] consumer stopped")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		out, err := c.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
			QueueUrl:            aws.String(c.queueURL),
			MaxNumberOfMessages: 10,
			WaitTimeSeconds:     20,
		})
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Printf("[queue] receive: %v", err)
			time.Sleep(time.Second)
			continue
		}
		for _, msg := range out.Messages {
			if c.handle(ctx, aws.ToString(msg.Body)) {
				if _, err := c.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
					QueueUrl:      aws.String(c.queueURL),
					ReceiptHandle: msg.ReceiptHandle,
				}); err != nil {
					log.Printf("[queue] delete message: %v", err)
				}
			}
		}
	}
}

// handle reports whether the message is settled (delete it) or should be
// redelivered.
func (c *Consumer) handle(ctx context.Context, body string) bool {
	var req models.SessionRequest
	if err := json.Unmarshal([]byte(body), &req); err != nil {
		log.Printf("[queue] dropping malformed message: %v", err)
		return true
	}
	_, err := c.dispatcher.Dispatch(ctx, req)
	if err != nil {
		var verr *dispatcher.ValidationError
		if errors.As(err, &verr) {
			log.Printf("[queue] dropping invalid request: %v", verr)
			return true
		}
		log.Printf("[queue] dispatch %s: %v (leaving for redelivery)", req.DepID, err)
		return false
	}
	return true
}
