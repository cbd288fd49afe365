package dynamostore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"

	"pastebin-lite/internal/clock"
	"pastebin-lite/internal/storage"
	"pastebin-lite/internal/storage/storetest"
)

// fakeDynamo evaluates the two condition expressions the store issues.
type fakeDynamo struct {
	mu    sync.Mutex
	items map[string]map[string]types.AttributeValue
	puts  int
}

func newFakeDynamo() *fakeDynamo {
	return &fakeDynamo{items: make(map[string]map[string]types.AttributeValue)}
}

func keyOf(av map[string]types.AttributeValue) string {
	if k, ok := av[attrKey].(*types.AttributeValueMemberS); ok {
		return k.Value
	}
	return ""
}

func (f *fakeDynamo) GetItem(ctx context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	it, ok := f.items[keyOf(in.Key)]
	if !ok {
		return &dynamodb.GetItemOutput{}, nil
	}
	cp := make(map[string]types.AttributeValue, len(it))
	for k, v := range it {
		cp[k] = v
	}
	return &dynamodb.GetItemOutput{Item: cp}, nil
}

func (f *fakeDynamo) PutItem(ctx context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.puts++
	key := keyOf(in.Item)
	cur, exists := f.items[key]

	if in.ConditionExpression != nil {
		ok, err := f.check(aws.ToString(in.ConditionExpression), cur, exists, in.ExpressionAttributeValues)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, &types.ConditionalCheckFailedException{Message: aws.String("The conditional request failed")}
		}
	}
	f.items[key] = in.Item
	return &dynamodb.PutItemOutput{}, nil
}

func (f *fakeDynamo) check(expr string, cur map[string]types.AttributeValue, exists bool, vals map[string]types.AttributeValue) (bool, error) {
	switch expr {
	case condAbsentOrExpired:
		if !exists {
			return true, nil
		}
		exp, ok := cur[attrExpires].(*types.AttributeValueMemberN)
		if !ok {
			return false, nil
		}
		deadline, _ := strconv.ParseInt(exp.Value, 10, 64)
		now, _ := strconv.ParseInt(vals[":now"].(*types.AttributeValueMemberN).Value, 10, 64)
		return deadline <= now, nil
	case condSameVersion:
		if !exists {
			return false, nil
		}
		ver, _ := cur[attrVersion].(*types.AttributeValueMemberS)
		want := vals[":ver"].(*types.AttributeValueMemberS)
		return ver != nil && ver.Value == want.Value, nil
	default:
		return false, fmt.Errorf("unsupported condition %q", expr)
	}
}

func (f *fakeDynamo) DescribeTable(ctx context.Context, in *dynamodb.DescribeTableInput, _ ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error) {
	return &dynamodb.DescribeTableOutput{Table: &types.TableDescription{TableName: in.TableName}}, nil
}

func TestContract(t *testing.T) {
	storetest.Run(t, func(t *testing.T) storetest.Harness {
		c := clock.NewManual(time.Unix(1_700_000_000, 0))
		return storetest.Harness{Store: New(newFakeDynamo(), "pastes", c), Advance: c.Advance}
	})
}

func TestItemCarriesTTLAttribute(t *testing.T) {
	fake := newFakeDynamo()
	c := clock.NewManual(time.UnixMilli(1_700_000_000_500))
	store := New(fake, "pastes", c)
	if err := store.SetEx(context.Background(), "paste:abc", []byte("x"), 10*time.Second); err != nil {
		t.Fatalf("setex: %v", err)
	}
	it := fake.items["paste:abc"]
	if got := it[attrExpires].(*types.AttributeValueMemberN).Value; got != "1700000010500" {
		t.Fatalf("expires_at_ms = %s", got)
	}
	// TTL is rounded up so DynamoDB never deletes before the deadline.
	if got := it[attrTTL].(*types.AttributeValueMemberN).Value; got != "1700000011" {
		t.Fatalf("ttl = %s", got)
	}
}

type conflictingDynamo struct{ *fakeDynamo }

func (c conflictingDynamo) PutItem(ctx context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	if in.ConditionExpression != nil && aws.ToString(in.ConditionExpression) == condSameVersion {
		return nil, &types.ConditionalCheckFailedException{Message: aws.String("always loses")}
	}
	return c.fakeDynamo.PutItem(ctx, in)
}

func TestUpdateGivesUpAfterRepeatedConflicts(t *testing.T) {
	store := New(conflictingDynamo{newFakeDynamo()}, "pastes", clock.Real)
	ctx := context.Background()
	if err := store.Set(ctx, "paste:hot", []byte("1")); err != nil {
		t.Fatalf("set: %v", err)
	}
	calls := 0
	err := store.Update(ctx, "paste:hot", func(cur []byte) ([]byte, time.Duration, error) {
		calls++
		return cur, 0, nil
	})
	if !errors.Is(err, storage.ErrConflict) {
		t.Fatalf("expected conflict got %v", err)
	}
	if calls != defaultUpdateAttempts {
		t.Fatalf("expected %d attempts got %d", defaultUpdateAttempts, calls)
	}
}

func TestIsConditionFailed(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"modeled", fmt.Errorf("put: %w", &types.ConditionalCheckFailedException{}), true},
		{"generic api error", &smithy.GenericAPIError{Code: "ConditionalCheckFailedException"}, true},
		{"other api error", &smithy.GenericAPIError{Code: "ThrottlingException"}, false},
		{"plain", errors.New("boom"), false},
	}
	for _, tc := range cases {
		if got := isConditionFailed(tc.err); got != tc.want {
			t.Errorf("%s: got %v want %v", tc.name, got, tc.want)
		}
	}
}
