package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// DynamoClient is the subset of the DynamoDB API the bucket store uses
type DynamoClient interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
}

// DynamoBucketStore keeps buckets in a DynamoDB table. Reads are strongly
// consistent and writes are conditional on the version that was read.
//
// Table schema: partition key "pk" (string), no sort key.
//
//	aws dynamodb create-table \
//	  --table-name worlds-rate-limits \
//	  --attribute-definitions AttributeName=pk,AttributeType=S \
//	  --key-schema AttributeName=pk,KeyType=HASH \
//	  --billing-mode PAY_PER_REQUEST
type DynamoBucketStore struct {
	client DynamoClient
	table  string
}

// NewDynamoBucketStore creates a bucket store over an existing client
func NewDynamoBucketStore(client DynamoClient, table string) *DynamoBucketStore {
	return &DynamoBucketStore{client: client, table: table}
}

// NewDynamoBucketStoreFromEnv builds a DynamoDB client from the default AWS
// configuration chain. A non-empty endpoint overrides the service endpoint,
// which is how DynamoDB Local is reached.
func NewDynamoBucketStoreFromEnv(ctx context.Context, table, region, endpoint string) (*DynamoBucketStore, error) {
	var opts []func(*config.LoadOptions) error
	if region != "" {
		opts = append(opts, config.WithRegion(region))
	}
	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	client := dynamodb.NewFromConfig(cfg, func(o *dynamodb.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	})
	return NewDynamoBucketStore(client, table), nil
}

func partitionKey(key Key) string {
	return key.TenantID + "#" + key.Scope + "#" + string(key.ResourceType)
}

func (d *DynamoBucketStore) Update(ctx context.Context, key Key, fn func(current *State) (*State, error)) error {
	pk := partitionKey(key)
	out, err := d.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(d.table),
		Key:            map[string]types.AttributeValue{"pk": &types.AttributeValueMemberS{Value: pk}},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return fmt.Errorf("failed to read bucket from DynamoDB: %w", err)
	}

	var current *State
	if len(out.Item) > 0 {
		current, err = stateFromItem(out.Item)
		if err != nil {
			return err
		}
	}

	next, err := fn(current)
	if err != nil || next == nil {
		return err
	}

	written := *next
	input := &dynamodb.PutItemInput{
		TableName: aws.String(d.table),
	}
	if current == nil {
		written.Version = 1
		input.ConditionExpression = aws.String("attribute_not_exists(pk)")
	} else {
		written.Version = current.Version + 1
		input.ConditionExpression = aws.String("version = :v")
		input.ExpressionAttributeValues = map[string]types.AttributeValue{
			":v": numberAttr(strconv.FormatUint(current.Version, 10)),
		}
	}
	input.Item = itemFromState(pk, written)

	if _, err := d.client.PutItem(ctx, input); err != nil {
		var condErr *types.ConditionalCheckFailedException
		if errors.As(err, &condErr) {
			return ErrConflict
		}
		return fmt.Errorf("failed to write bucket to DynamoDB: %w", err)
	}
	return nil
}

func numberAttr(v string) *types.AttributeValueMemberN {
	return &types.AttributeValueMemberN{Value: v}
}

func itemFromState(pk string, st State) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"pk":           &types.AttributeValueMemberS{Value: pk},
		"tokens":       numberAttr(strconv.FormatFloat(st.Tokens, 'f', -1, 64)),
		"capacity":     numberAttr(strconv.Itoa(st.Capacity)),
		"refillRate":   numberAttr(strconv.Itoa(st.RefillRate)),
		"intervalMs":   numberAttr(strconv.FormatInt(st.IntervalMs, 10)),
		"lastRefillAt": numberAttr(strconv.FormatInt(st.LastRefillAt, 10)),
		"version":      numberAttr(strconv.FormatUint(st.Version, 10)),
	}
}

func stateFromItem(item map[string]types.AttributeValue) (*State, error) {
	number := func(name string) (string, error) {
		attr, ok := item[name].(*types.AttributeValueMemberN)
		if !ok {
			return "", fmt.Errorf("invalid %s attribute in DynamoDB bucket", name)
		}
		return attr.Value, nil
	}

	var st State
	var errs []error
	parse := func(name string, set func(string) error) {
		v, err := number(name)
		if err == nil {
			err = set(v)
		}
		if err != nil {
			errs = append(errs, err)
		}
	}
	parse("tokens", func(v string) (err error) { st.Tokens, err = strconv.ParseFloat(v, 64); return })
	parse("capacity", func(v string) (err error) { st.Capacity, err = strconv.Atoi(v); return })
	parse("refillRate", func(v string) (err error) { st.RefillRate, err = strconv.Atoi(v); return })
	parse("intervalMs", func(v string) (err error) { st.IntervalMs, err = strconv.ParseInt(v, 10, 64); return })
	parse("lastRefillAt", func(v string) (err error) { st.LastRefillAt, err = strconv.ParseInt(v, 10, 64); return })
	parse("version", func(v string) (err error) { st.Version, err = strconv.ParseUint(v, 10, 64); return })
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return &st, nil
}
