package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"itinerary-planner/internal/apperrors"
	"itinerary-planner/internal/models"
)

// DynamoAPI is the subset of the DynamoDB client used by the job store.
type DynamoAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
}

// Dynamo stores one item per job keyed by job_id. Writes are guarded by a version condition and
// reads are strongly consistent, so a poller never observes a record older than one it already saw.
type Dynamo struct {
	client      DynamoAPI
	table       string
	maxAttempts int
}

// NewDynamo wraps a DynamoDB client for the given table.
func NewDynamo(client DynamoAPI, table string, maxAttempts int) *Dynamo {
	if maxAttempts <= 0 {
		maxAttempts = 8
	}
	return &Dynamo{client: client, table: table, maxAttempts: maxAttempts}
}

// Create writes the item unless the key already exists.
func (s *Dynamo) Create(ctx context.Context, job models.Job) (models.Job, error) {
	job, err := prepareCreate(job, now())
	if err != nil {
		return models.Job{}, err
	}
	item, err := attributevalue.MarshalMap(job)
	if err != nil {
		return models.Job{}, apperrors.Internal("encode job", err)
	}
	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(s.table),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(job_id)"),
	})
	if isConditionFailed(err) {
		return models.Job{}, apperrors.AlreadyExists(resource, job.ID)
	}
	if err != nil {
		return models.Job{}, fmt.Errorf("put job: %w", err)
	}
	return job, nil
}

// Get performs a consistent read.
func (s *Dynamo) Get(ctx context.Context, id string) (models.Job, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.table),
		Key:            jobKey(id),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return models.Job{}, fmt.Errorf("get job: %w", err)
	}
	if len(out.Item) == 0 {
		return models.Job{}, apperrors.NotFound(resource, id)
	}
	var job models.Job
	if err := attributevalue.UnmarshalMap(out.Item, &job); err != nil {
		return models.Job{}, apperrors.Internal("decode job", err)
	}
	if job.Progress == nil {
		job.Progress = []models.ProgressEntry{}
	}
	return job, nil
}

// Update reads, applies fn and writes back conditioned on the version it read. A lost race
// re-reads and retries up to maxAttempts times.
func (s *Dynamo) Update(ctx context.Context, id string, fn Mutation) (models.Job, error) {
	for attempt := 0; attempt < s.maxAttempts; attempt++ {
		current, err := s.Get(ctx, id)
		if err != nil {
			return models.Job{}, err
		}
		next, changed, err := apply(current, fn, now())
		if err != nil {
			return models.Job{}, err
		}
		if !changed {
			return current, nil
		}

		item, err := attributevalue.MarshalMap(next)
		if err != nil {
			return models.Job{}, apperrors.Internal("encode job", err)
		}
		_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
			TableName:           aws.String(s.table),
			Item:                item,
			ConditionExpression: aws.String("version = :v"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":v": &types.AttributeValueMemberN{Value: strconv.FormatInt(current.Version, 10)},
			},
		})
		if isConditionFailed(err) {
			continue
		}
		if err != nil {
			return models.Job{}, fmt.Errorf("put job: %w", err)
		}
		return next, nil
	}
	return models.Job{}, apperrors.Conflict(resource, id, "too many concurrent writers")
}

func jobKey(id string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{"job_id": &types.AttributeValueMemberS{Value: id}}
}

func isConditionFailed(err error) bool {
	var ccf *types.ConditionalCheckFailedException
	return errors.As(err, &ccf)
}

// EnsureDynamoTable creates a pay-per-request table keyed by hashKey (and rangeKey when set)
// if it is missing, then waits for it to become active. Used against local DynamoDB endpoints.
func EnsureDynamoTable(ctx context.Context, client *dynamodb.Client, table, hashKey, rangeKey string) error {
	attrs := []types.AttributeDefinition{
		{AttributeName: aws.String(hashKey), AttributeType: types.ScalarAttributeTypeS},
	}
	schema := []types.KeySchemaElement{
		{AttributeName: aws.String(hashKey), KeyType: types.KeyTypeHash},
	}
	if rangeKey != "" {
		attrs = append(attrs, types.AttributeDefinition{AttributeName: aws.String(rangeKey), AttributeType: types.ScalarAttributeTypeS})
		schema = append(schema, types.KeySchemaElement{AttributeName: aws.String(rangeKey), KeyType: types.KeyTypeRange})
	}
	_, err := client.CreateTable(ctx, &dynamodb.CreateTableInput{
		TableName:            aws.String(table),
		BillingMode:          types.BillingModePayPerRequest,
		AttributeDefinitions: attrs,
		KeySchema:            schema,
	})
	var inUse *types.ResourceInUseException
	if errors.As(err, &inUse) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("create table %s: %w", table, err)
	}
	waiter := dynamodb.NewTableExistsWaiter(client)
	if err := waiter.Wait(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(table)}, time.Minute); err != nil {
		return fmt.Errorf("wait for table %s: %w", table, err)
	}
	return nil
}

var _ Store = (*Dynamo)(nil)
