// Package testutil holds helpers shared by package tests.
package testutil

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// FakeDynamo is an in-memory stand-in for the handful of DynamoDB calls the stores make. It
// understands "attribute_not_exists(<attr>)" and "<attr> = :<name>" condition expressions and
// "<hash> = :<name>" key conditions.
type FakeDynamo struct {
	HashKey  string
	RangeKey string

	mu    sync.Mutex
	items map[string]map[string]types.AttributeValue
	// PutCalls counts PutItem invocations, including rejected ones.
	PutCalls int
}

// NewFakeDynamo returns an empty table keyed by hashKey and optional rangeKey.
func NewFakeDynamo(hashKey, rangeKey string) *FakeDynamo {
	return &FakeDynamo{HashKey: hashKey, RangeKey: rangeKey, items: make(map[string]map[string]types.AttributeValue)}
}

func (f *FakeDynamo) keyOf(item map[string]types.AttributeValue) string {
	k := stringValue(item[f.HashKey])
	if f.RangeKey != "" {
		k += "\x00" + stringValue(item[f.RangeKey])
	}
	return k
}

func (f *FakeDynamo) GetItem(_ context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	item, ok := f.items[f.keyOf(in.Key)]
	if !ok {
		return &dynamodb.GetItemOutput{}, nil
	}
	return &dynamodb.GetItemOutput{Item: copyItem(item)}, nil
}

func (f *FakeDynamo) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.PutCalls++

	key := f.keyOf(in.Item)
	existing, exists := f.items[key]
	if cond := aws.ToString(in.ConditionExpression); cond != "" {
		ok, err := evalCondition(cond, existing, exists, in.ExpressionAttributeValues)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, &types.ConditionalCheckFailedException{Message: aws.String("The conditional request failed")}
		}
	}
	f.items[key] = copyItem(in.Item)
	return &dynamodb.PutItemOutput{}, nil
}

func (f *FakeDynamo) Query(_ context.Context, in *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	attr, placeholder, ok := splitEquality(aws.ToString(in.KeyConditionExpression))
	if !ok || attr != f.HashKey {
		return nil, fmt.Errorf("fake dynamo: unsupported key condition %q", aws.ToString(in.KeyConditionExpression))
	}
	want := stringValue(in.ExpressionAttributeValues[placeholder])

	var out []map[string]types.AttributeValue
	for _, item := range f.items {
		if stringValue(item[f.HashKey]) == want {
			out = append(out, copyItem(item))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return stringValue(out[i][f.RangeKey]) < stringValue(out[j][f.RangeKey])
	})
	if in.ScanIndexForward != nil && !*in.ScanIndexForward {
		for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
			out[i], out[j] = out[j], out[i]
		}
	}
	if in.Limit != nil && int(*in.Limit) < len(out) {
		out = out[:*in.Limit]
	}
	return &dynamodb.QueryOutput{Items: out, Count: int32(len(out))}, nil
}

// Len reports the number of stored items.
func (f *FakeDynamo) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.items)
}

func evalCondition(cond string, existing map[string]types.AttributeValue, exists bool, values map[string]types.AttributeValue) (bool, error) {
	if strings.HasPrefix(cond, "attribute_not_exists(") && strings.HasSuffix(cond, ")") {
		attr := strings.TrimSuffix(strings.TrimPrefix(cond, "attribute_not_exists("), ")")
		if !exists {
			return true, nil
		}
		_, has := existing[attr]
		return !has, nil
	}
	if attr, placeholder, ok := splitEquality(cond); ok {
		if !exists {
			return false, nil
		}
		return attrString(existing[attr]) == attrString(values[placeholder]), nil
	}
	return false, fmt.Errorf("fake dynamo: unsupported condition %q", cond)
}

func splitEquality(expr string) (attr, placeholder string, ok bool) {
	parts := strings.Split(expr, "=")
	if len(parts) != 2 {
		return "", "", false
	}
	attr, placeholder = strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1])
	return attr, placeholder, strings.HasPrefix(placeholder, ":")
}

func stringValue(v types.AttributeValue) string {
	if s, ok := v.(*types.AttributeValueMemberS); ok {
		return s.Value
	}
	return ""
}

func attrString(v types.AttributeValue) string {
	switch t := v.(type) {
	case *types.AttributeValueMemberS:
		return "S:" + t.Value
	case *types.AttributeValueMemberN:
		return "N:" + t.Value
	default:
		return fmt.Sprintf("%T", v)
	}
}

func copyItem(item map[string]types.AttributeValue) map[string]types.AttributeValue {
	out := make(map[string]types.AttributeValue, len(item))
	for k, v := range item {
		out[k] = v
	}
	return out
}
