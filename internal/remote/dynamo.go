package remote

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/falcon/restaurants/internal/cache/schema"
)

// ScanAPI is the part of the DynamoDB client DynamoSource uses.
type ScanAPI interface {
	Scan(ctx context.Context, params *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
}

// DynamoSource reads deltas straight from a DynamoDB table holding the
// records, keyed by id, with an updated_at string attribute.
type DynamoSource struct {
	Client    ScanAPI
	Table     string
	PageLimit int32
}

// NewDynamoSource builds a DynamoDB client from the default AWS config chain.
// endpoint overrides the service URL (e.g. DynamoDB Local) when set.
func NewDynamoSource(ctx context.Context, table, region, endpoint string) (*DynamoSource, error) {
	httpClient := &http.Client{
		Timeout: 30 * time.Second,
		Transport: &http.Transport{
			MaxIdleConns:        20,
			MaxIdleConnsPerHost: 10,
		},
	}

	opts := []func(*config.LoadOptions) error{config.WithHTTPClient(httpClient)}
	if region != "" {
		opts = append(opts, config.WithRegion(region))
	}

	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("error loading AWS config: %w", err)
	}

	if endpoint != "" {
		cfg.BaseEndpoint = aws.String(endpoint)
	}

	return &DynamoSource{
		Client:    dynamodb.NewFromConfig(cfg),
		Table:     table,
		PageLimit: 500,
	}, nil
}

// Fetch implements Source. The scan walks every page; a failure on any page
// fails the whole fetch so a partial delta is never applied.
func (s *DynamoSource) Fetch(ctx context.Context, watermark string) ([]schema.RemoteRecord, error) {
	var (
		out     []schema.RemoteRecord
		lastKey map[string]types.AttributeValue
	)

	for {
		input := &dynamodb.ScanInput{
			TableName:         aws.String(s.Table),
			ExclusiveStartKey: lastKey,
			FilterExpression:  aws.String("updated_at >= :w"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":w": &types.AttributeValueMemberS{Value: watermark},
			},
		}
		if s.PageLimit > 0 {
			input.Limit = aws.Int32(s.PageLimit)
		}

		page, err := s.Client.Scan(ctx, input)
		if err != nil {
			return nil, transportError(fmt.Errorf("scan %s failed: %w", s.Table, err))
		}

		var items []schema.RemoteRecord
		if err := attributevalue.UnmarshalListOfMaps(page.Items, &items); err != nil {
			return nil, transportError(fmt.Errorf("unmarshal failed: %w", err))
		}
		out = append(out, items...)

		if len(page.LastEvaluatedKey) == 0 {
			break
		}
		lastKey = page.LastEvaluatedKey
	}

	return out, nil
}
