package store

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/tenantops/lab-lifecycle/internal/models"
)

// dynamoAPI is the subset of the DynamoDB client the stores need.
type dynamoAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, in *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	DeleteItem(ctx context.Context, in *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	Scan(ctx context.Context, in *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
	DescribeTable(ctx context.Context, in *dynamodb.DescribeTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error)
}

// DynamoStore is the DynamoDB-backed deployment record store. The table is
// keyed by dep_id and has TTL enabled on the ttl attribute.
type DynamoStore struct {
	client dynamoAPI
	table  string
}

func NewDynamoStore(client *dynamodb.Client, table string) *DynamoStore {
	return &DynamoStore{client: client, table: table}
}

func depKey(depID string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"dep_id": &types.AttributeValueMemberS{Value: depID},
	}
}

func (s *DynamoStore) Create(ctx context.Context, rec models.DeploymentRecord) error {
	item, err := attributevalue.MarshalMap(rec)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}
	cond := expression.AttributeNotExists(expression.Name("dep_id"))
	expr, err := expression.NewBuilder().WithCondition(cond).Build()
	if err != nil {
		return fmt.Errorf("build condition: %w", err)
	}
	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:                 aws.String(s.table),
		Item:                      item,
		ConditionExpression:       expr.Condition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return ErrAlreadyExists
		}
		return fmt.Errorf("put record: %w", err)
	}
	return nil
}

func (s *DynamoStore) Get(ctx context.Context, depID string) (models.DeploymentRecord, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.table),
		Key:            depKey(depID),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return models.DeploymentRecord{}, fmt.Errorf("get record: %w", err)
	}
	if len(out.Item) == 0 {
		return models.DeploymentRecord{}, ErrNotFound
	}
	var rec models.DeploymentRecord
	if err := attributevalue.UnmarshalMap(out.Item, &rec); err != nil {
		return models.DeploymentRecord{}, fmt.Errorf("unmarshal record: %w", err)
	}
	return rec, nil
}

func (s *DynamoStore) Update(ctx context.Context, depID string, upd RecordUpdate) error {
	set := expression.Set(expression.Name("updated_at"), expression.Value(time.Now().UTC()))
	if upd.DeploymentStatus != nil {
		set = set.Set(expression.Name("deployment_status"), expression.Value(*upd.DeploymentStatus))
	}
	if upd.CreateNamespace != nil {
		set = set.Set(expression.Name("create_namespace"), expression.Value(*upd.CreateNamespace))
	}
	if upd.CreateUser != nil {
		set = set.Set(expression.Name("create_user"), expression.Value(*upd.CreateUser))
	}
	if upd.PreHook != nil {
		set = set.Set(expression.Name("pre_hook"), expression.Value(*upd.PreHook))
	}
	if upd.TenantURL != nil {
		set = set.Set(expression.Name("tenant_url"), expression.Value(*upd.TenantURL))
	}
	if upd.StatusDetail != nil {
		set = set.Set(expression.Name("status_detail"), expression.Value(*upd.StatusDetail))
	}
	if upd.TTL != nil {
		set = set.Set(expression.Name("ttl"), expression.Value(*upd.TTL)).
			Set(expression.Name("expiration"), expression.Value(FormatExpiration(*upd.TTL)))
	}
	cond := expression.AttributeExists(expression.Name("dep_id"))
	expr, err := expression.NewBuilder().WithUpdate(set).WithCondition(cond).Build()
	if err != nil {
		return fmt.Errorf("build update: %w", err)
	}
	_, err = s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(s.table),
		Key:                       depKey(depID),
		UpdateExpression:          expr.Update(),
		ConditionExpression:       expr.Condition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return ErrNotFound
		}
		return fmt.Errorf("update record: %w", err)
	}
	return nil
}

func (s *DynamoStore) Delete(ctx context.Context, depID string) (models.DeploymentRecord, error) {
	out, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName:    aws.String(s.table),
		Key:          depKey(depID),
		ReturnValues: types.ReturnValueAllOld,
	})
	if err != nil {
		return models.DeploymentRecord{}, fmt.Errorf("delete record: %w", err)
	}
	if len(out.Attributes) == 0 {
		return models.DeploymentRecord{}, ErrNotFound
	}
	var rec models.DeploymentRecord
	if err := attributevalue.UnmarshalMap(out.Attributes, &rec); err != nil {
		return models.DeploymentRecord{}, fmt.Errorf("unmarshal old image: %w", err)
	}
	return rec, nil
}

func (s *DynamoStore) ListActivePeers(ctx context.Context, email, tenantURL, excludeDepID string) ([]models.DeploymentRecord, error) {
	filter := expression.And(
		expression.Name("email").Equal(expression.Value(email)),
		expression.Name("tenant_url").Equal(expression.Value(tenantURL)),
		expression.Name("dep_id").NotEqual(expression.Value(excludeDepID)),
	)
	expr, err := expression.NewBuilder().WithFilter(filter).Build()
	if err != nil {
		return nil, fmt.Errorf("build filter: %w", err)
	}
	var peers []models.DeploymentRecord
	var startKey map[string]types.AttributeValue
	for {
		out, err := s.client.Scan(ctx, &dynamodb.ScanInput{
			TableName:                 aws.String(s.table),
			FilterExpression:          expr.Filter(),
			ExpressionAttributeNames:  expr.Names(),
			ExpressionAttributeValues: expr.Values(),
			ExclusiveStartKey:         startKey,
		})
		if err != nil {
			return nil, fmt.Errorf("scan peers: %w", err)
		}
		var page []models.DeploymentRecord
		if err := attributevalue.UnmarshalListOfMaps(out.Items, &page); err != nil {
			return nil, fmt.Errorf("unmarshal peers: %w", err)
		}
		peers = append(peers, page...)
		if out.LastEvaluatedKey == nil {
			break
		}
		startKey = out.LastEvaluatedKey
	}
	return peers, nil
}

func (s *DynamoStore) DeleteExpired(ctx context.Context, now time.Time) ([]models.DeploymentRecord, error) {
	filter := expression.Name("ttl").LessThan(expression.Value(now.Unix()))
	expr, err := expression.NewBuilder().WithFilter(filter).Build()
	if err != nil {
		return nil, fmt.Errorf("build filter: %w", err)
	}
	out, err := s.client.Scan(ctx, &dynamodb.ScanInput{
		TableName:                 aws.String(s.table),
		FilterExpression:          expr.Filter(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	})
	if err != nil {
		return nil, fmt.Errorf("scan expired: %w", err)
	}
	var deleted []models.DeploymentRecord
	for _, item := range out.Items {
		var rec models.DeploymentRecord
		if err := attributevalue.UnmarshalMap(item, &rec); err != nil {
			log.Printf("[store] skip malformed expired item: %v", err)
			continue
		}
		old, err := s.Delete(ctx, rec.DepID)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				continue // native TTL got there first
			}
			log.Printf("[store] delete expired %s: %v", rec.DepID, err)
			continue
		}
		deleted = append(deleted, old)
	}
	return deleted, nil
}

func (s *DynamoStore) Ping(ctx context.Context) error {
	_, err := s.client.DescribeTable(ctx, &dynamodb.DescribeTableInput{
		TableName: aws.String(s.table),
	})
	return err
}

// DynamoLabConfigStore reads lab templates from their own table, keyed by
// lab_id.
type DynamoLabConfigStore struct {
	client dynamoAPI
	table  string
}

func NewDynamoLabConfigStore(client *dynamodb.Client, table string) *DynamoLabConfigStore {
	return &DynamoLabConfigStore{client: client, table: table}
}

func (s *DynamoLabConfigStore) Get(ctx context.Context, labID string) (models.LabConfig, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.table),
		Key: map[string]types.AttributeValue{
			"lab_id": &types.AttributeValueMemberS{Value: labID},
		},
	})
	if err != nil {
		return models.LabConfig{}, fmt.Errorf("get lab config: %w", err)
	}
	if len(out.Item) == 0 {
		return models.LabConfig{}, ErrNotFound
	}
	var cfg models.LabConfig
	if err := attributevalue.UnmarshalMap(out.Item, &cfg); err != nil {
		return models.LabConfig{}, fmt.Errorf("unmarshal lab config: %w", err)
	}
	return cfg, nil
}

func (s *DynamoLabConfigStore) Put(ctx context.Context, cfg models.LabConfig) error {
	item, err := attributevalue.MarshalMap(cfg)
	if err != nil {
		return fmt.Errorf("marshal lab config: %w", err)
	}
	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.table),
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("put lab config: %w", err)
	}
	return nil
}
