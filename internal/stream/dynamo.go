// Package stream consumes the deployment table's DynamoDB stream and turns
// its records into change events for the lifecycle router.
package stream

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	streamav "github.com/aws/aws-sdk-go-v2/feature/dynamodbstreams/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodbstreams"
	streamtypes "github.com/aws/aws-sdk-go-v2/service/dynamodbstreams/types"

	"github.com/tenantops/lab-lifecycle/internal/models"
)

// streamsAPI is the subset of the DynamoDB Streams client the consumer needs.
type streamsAPI interface {
	DescribeStream(ctx context.Context, in *dynamodbstreams.DescribeStreamInput, optFns ...func(*dynamodbstreams.Options)) (*dynamodbstreams.DescribeStreamOutput, error)
	GetShardIterator(ctx context.Context, in *dynamodbstreams.GetShardIteratorInput, optFns ...func(*dynamodbstreams.Options)) (*dynamodbstreams.GetShardIteratorOutput, error)
	GetRecords(ctx context.Context, in *dynamodbstreams.GetRecordsInput, optFns ...func(*dynamodbstreams.Options)) (*dynamodbstreams.GetRecordsOutput, error)
}

// Consumer polls every shard of one stream and forwards INSERT and REMOVE
// records as change events. Per-shard record order is preserved, which is
// the ordering guarantee the lifecycle router relies on for a single dep_id.
type Consumer struct {
	client    streamsAPI
	streamARN string
	out       chan<- models.ChangeEvent

	pollInterval time.Duration

	mu     sync.Mutex
	shards map[string]bool
	wg     sync.WaitGroup
}

func NewConsumer(client *dynamodbstreams.Client, streamARN string, out chan<- models.ChangeEvent) *Consumer {
	return &Consumer{
		client:       client,
		streamARN:    streamARN,
		out:          out,
		pollInterval: 2 * time.Second,
		shards:       map[string]bool{},
	}
}

// Run blocks until ctx is cancelled, discovering shards and consuming each
// from its trim horizon.
func (c *Consumer) Run(ctx context.Context) error {
	log.Printf("[stream] starting consumer for %s", c.streamARN)
	defer log.Printf("[stream] consumer stopped")

	for {
		if err := c.discoverShards(ctx); err != nil {
			log.Printf("[stream] describe stream: %v", err)
		}
		select {
		case <-ctx.Done():
			c.wg.Wait()
			return ctx.Err()
		case <-time.After(10 * time.Second):
		}
	}
}

func (c *Consumer) discoverShards(ctx context.Context) error {
	var startShard *string
	for {
		out, err := c.client.DescribeStream(ctx, &dynamodbstreams.DescribeStreamInput{
			StreamArn:             aws.String(c.streamARN),
			ExclusiveStartShardId: startShard,
		})
		if err != nil {
			return err
		}
		for _, shard := range out.StreamDescription.Shards {
			id := aws.ToString(shard.ShardId)
			c.mu.Lock()
			seen := c.shards[id]
			if !seen {
				c.shards[id] = true
			}
			c.mu.Unlock()
			if !seen {
				c.wg.Add(1)
				go func() {
					defer c.wg.Done()
					c.consumeShard(ctx, id)
				}()
			}
		}
		startShard = out.StreamDescription.LastEvaluatedShardId
		if startShard == nil {
			return nil
		}
	}
}

func (c *Consumer) consumeShard(ctx context.Context, shardID string) {
	iterOut, err := c.client.GetShardIterator(ctx, &dynamodbstreams.GetShardIteratorInput{
		StreamArn:         aws.String(c.streamARN),
		ShardId:           aws.String(shardID),
		ShardIteratorType: streamtypes.ShardIteratorTypeTrimHorizon,
	})
	if err != nil {
		log.Printf("[stream] shard iterator for %s: %v", shardID, err)
		return
	}
	iterator := iterOut.ShardIterator

	for iterator != nil {
		select {
		case <-ctx.Done():
			return
		default:
		}
		out, err := c.client.GetRecords(ctx, &dynamodbstreams.GetRecordsInput{
			ShardIterator: iterator,
		})
		if err != nil {
			log.Printf("[stream] get records on %s: %v", shardID, err)
			return
		}
		for _, record := range out.Records {
			ev, ok := convertRecord(record)
			if !ok {
				continue
			}
			select {
			case c.out <- ev:
			case <-ctx.Done():
				return
			}
		}
		iterator = out.NextShardIterator
		if len(out.Records) == 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(c.pollInterval):
			}
		}
	}
	// A nil next iterator means the shard is closed and fully drained.
}

func convertRecord(record streamtypes.Record) (models.ChangeEvent, bool) {
	if record.Dynamodb == nil {
		return models.ChangeEvent{}, false
	}
	switch record.EventName {
	case streamtypes.OperationTypeInsert:
		var rec models.DeploymentRecord
		if err := streamav.UnmarshalMap(record.Dynamodb.NewImage, &rec); err != nil {
			log.Printf("[stream] unmarshal new image: %v", err)
			return models.ChangeEvent{}, false
		}
		return models.ChangeEvent{Kind: models.ChangeCreated, DepID: rec.DepID, NewImage: &rec}, true
	case streamtypes.OperationTypeRemove:
		var rec models.DeploymentRecord
		if err := streamav.UnmarshalMap(record.Dynamodb.OldImage, &rec); err != nil {
			log.Printf("[stream] unmarshal old image: %v", err)
			return models.ChangeEvent{}, false
		}
		return models.ChangeEvent{Kind: models.ChangeRemoved, DepID: rec.DepID, OldImage: &rec}, true
	default:
		// MODIFY events (TTL extensions, step status writes) need no action.
		return models.ChangeEvent{}, false
	}
}
