package dynamo

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/zlnvch/fluxcanvas/store"
)

func newDynamoDBClient(ctx context.Context, devMode bool, dynamodbEndpoint string) (*dynamodb.Client, error) {
	var cfg aws.Config
	var err error

	if devMode {
		// Load config with dummy credentials and region for local/dev
		cfg, err = config.LoadDefaultConfig(ctx,
			config.WithRegion("us-east-1"),
			config.WithCredentialsProvider(
				credentials.NewStaticCredentialsProvider("dummy", "dummy", ""),
			),
		)
		if err != nil {
			return nil, err
		}

		// Override endpoint for DynamoDB locally
		return dynamodb.New(dynamodb.Options{
			Credentials:      cfg.Credentials,
			Region:           cfg.Region,
			EndpointResolver: dynamodb.EndpointResolverFromURL(dynamodbEndpoint),
		}), nil
	}

	// Production: default config (task role and AWS endpoints)
	cfg, err = config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, err
	}

	return dynamodb.NewFromConfig(cfg), nil
}

func getTables(client *dynamodb.Client, ctx context.Context) ([]string, error) {
	output, err := client.ListTables(ctx, &dynamodb.ListTablesInput{})
	if err != nil {
		return nil, err
	}

	return output.TableNames, nil
}

func itemKey(pk string, sk string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: pk},
		"SK": &types.AttributeValueMemberS{Value: sk},
	}
}

func itemExists(dynamoStore *DynamoCanvasStore, ctx context.Context, pk string, sk string) (bool, error) {
	resp, err := dynamoStore.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:            aws.String(dynamoStore.tableName),
		Key:                  itemKey(pk, sk),
		ConsistentRead:       aws.Bool(true),
		ProjectionExpression: aws.String("PK"),
	})
	if err != nil {
		return false, fmt.Errorf("GetItem failed: %w", err)
	}
	return resp.Item != nil, nil
}

// putItemIfAbsent inserts item only if no item with the same PK+SK exists.
func putItemIfAbsent[T any](dynamoStore *DynamoCanvasStore, ctx context.Context, item T) error {
	avMap, err := attributevalue.MarshalMap(item)
	if err != nil {
		return fmt.Errorf("marshal error: %w", err)
	}

	if _, ok := avMap["PK"]; !ok {
		return errors.New("struct missing PK field")
	}
	if _, ok := avMap["SK"]; !ok {
		return errors.New("struct missing SK field")
	}

	_, err = dynamoStore.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(dynamoStore.tableName),
		Item:                avMap,
		ConditionExpression: aws.String("attribute_not_exists(PK)"),
	})
	if err != nil {
		var cce *types.ConditionalCheckFailedException
		if errors.As(err, &cce) {
			return store.ErrConditionFailed
		}
		return fmt.Errorf("failed to put item: %w", err)
	}

	return nil
}

// queryItemsByPK returns the raw items under a partition key, ordered by SK.
// A non-empty skPrefix restricts the query with begins_with.
func queryItemsByPK(dynamoStore *DynamoCanvasStore, ctx context.Context, pk string, skPrefix string, consistentRead bool) ([]map[string]types.AttributeValue, error) {
	var results []map[string]types.AttributeValue

	keyCond := "PK = :pk"
	exprAttrValues := map[string]types.AttributeValue{
		":pk": &types.AttributeValueMemberS{Value: pk},
	}
	if skPrefix != "" {
		keyCond += " AND begins_with(SK, :skPrefix)"
		exprAttrValues[":skPrefix"] = &types.AttributeValueMemberS{Value: skPrefix}
	}

	input := &dynamodb.QueryInput{
		TableName:                 aws.String(dynamoStore.tableName),
		KeyConditionExpression:    aws.String(keyCond),
		ExpressionAttributeValues: exprAttrValues,
		ConsistentRead:            aws.Bool(consistentRead),
	}

	paginator := dynamodb.NewQueryPaginator(dynamoStore.client, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("query failed: %w", err)
		}
		results = append(results, page.Items...)
	}

	return results, nil
}

// queryAllByGSI returns every item of type T in a GSI partition, optionally
// restricted by a sort key upper bound (exclusive).
func queryAllByGSI[T any](dynamoStore *DynamoCanvasStore, ctx context.Context, indexName string, pkField string, pkValue string, skField string, skBefore *int64) ([]T, error) {
	var results []T

	keyCond := "#pk = :pk"
	exprAttrNames := map[string]string{
		"#pk": pkField,
	}
	exprAttrValues := map[string]types.AttributeValue{
		":pk": &types.AttributeValueMemberS{Value: pkValue},
	}
	if skField != "" && skBefore != nil {
		keyCond += " AND #sk < :sk"
		exprAttrNames["#sk"] = skField
		exprAttrValues[":sk"] = &types.AttributeValueMemberN{Value: strconv.FormatInt(*skBefore, 10)}
	}

	input := &dynamodb.QueryInput{
		TableName:                 aws.String(dynamoStore.tableName),
		IndexName:                 aws.String(indexName),
		KeyConditionExpression:    aws.String(keyCond),
		ExpressionAttributeNames:  exprAttrNames,
		ExpressionAttributeValues: exprAttrValues,
	}

	paginator := dynamodb.NewQueryPaginator(dynamoStore.client, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("query GSI failed: %w", err)
		}

		var pageItems []T
		if err := attributevalue.UnmarshalListOfMaps(page.Items, &pageItems); err != nil {
			return nil, fmt.Errorf("failed to unmarshal page items: %w", err)
		}
		results = append(results, pageItems...)
	}

	return results, nil
}

// conditionalUpdate runs an UpdateItem that requires the item to exist plus an
// optional extra condition. A failed condition is reported as ErrConditionFailed.
func conditionalUpdate(
	dynamoStore *DynamoCanvasStore,
	ctx context.Context,
	pk string,
	sk string,
	updateExpr string,
	exprAttrNames map[string]string,
	exprAttrValues map[string]types.AttributeValue,
	extraCondition string,
	returnValues types.ReturnValue,
) (map[string]types.AttributeValue, error) {
	condition := "attribute_exists(PK)"
	if extraCondition != "" {
		condition += " AND " + extraCondition
	}

	input := &dynamodb.UpdateItemInput{
		TableName:           aws.String(dynamoStore.tableName),
		Key:                 itemKey(pk, sk),
		UpdateExpression:    aws.String(updateExpr),
		ConditionExpression: aws.String(condition),
		ReturnValues:        returnValues,
	}
	if len(exprAttrNames) > 0 {
		input.ExpressionAttributeNames = exprAttrNames
	}
	if len(exprAttrValues) > 0 {
		input.ExpressionAttributeValues = exprAttrValues
	}

	out, err := dynamoStore.client.UpdateItem(ctx, input)
	if err != nil {
		var cce *types.ConditionalCheckFailedException
		if errors.As(err, &cce) {
			return nil, store.ErrConditionFailed
		}
		return nil, fmt.Errorf("update failed: %w", err)
	}

	return out.Attributes, nil
}

// incrementCounter atomically adds count to a numeric field of an existing item.
func incrementCounter(
	dynamoStore *DynamoCanvasStore,
	ctx context.Context,
	pk string,
	sk string,
	counterField string,
	count int,
) error {
	_, err := conditionalUpdate(dynamoStore, ctx, pk, sk,
		"SET #c = if_not_exists(#c, :zero) + :val",
		map[string]string{"#c": counterField},
		map[string]types.AttributeValue{
			":val":  &types.AttributeValueMemberN{Value: strconv.Itoa(count)},
			":zero": &types.AttributeValueMemberN{Value: "0"},
		},
		"", types.ReturnValueNone,
	)
	if errors.Is(err, store.ErrConditionFailed) {
		return fmt.Errorf("item does not exist: PK=%s, SK=%s, field=%s: %w", pk, sk, counterField, store.ErrItemNotFound)
	}
	return err
}

// bumpLayersVersion is the transaction step that accompanies every layer write.
func bumpLayersVersion(dynamoStore *DynamoCanvasStore, canvasId string) types.TransactWriteItem {
	return types.TransactWriteItem{
		Update: &types.Update{
			TableName:           aws.String(dynamoStore.tableName),
			Key:                 itemKey(canvasPK(canvasId), metaSK),
			UpdateExpression:    aws.String("ADD #lv :one"),
			ConditionExpression: aws.String("attribute_exists(PK)"),
			ExpressionAttributeNames: map[string]string{
				"#lv": "LayersVersion",
			},
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":one": &types.AttributeValueMemberN{Value: "1"},
			},
		},
	}
}

// transactWrite executes items atomically. On a cancelled transaction it returns
// the indices of the items whose condition check failed.
func transactWrite(dynamoStore *DynamoCanvasStore, ctx context.Context, items []types.TransactWriteItem) ([]int, error) {
	_, err := dynamoStore.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: items,
	})
	if err == nil {
		return nil, nil
	}

	var tce *types.TransactionCanceledException
	if errors.As(err, &tce) {
		var failed []int
		for i, reason := range tce.CancellationReasons {
			if aws.ToString(reason.Code) == "ConditionalCheckFailed" {
				failed = append(failed, i)
			}
		}
		if len(failed) > 0 {
			return failed, store.ErrConditionFailed
		}
	}
	return nil, fmt.Errorf("TransactWriteItems failed: %w", err)
}

// writeBatchRequests handles batch writes (Put or Delete) with retries of unprocessed items
func writeBatchRequests(dynamoStore *DynamoCanvasStore, ctx context.Context, requests []types.WriteRequest) error {
	if len(requests) == 0 {
		return nil
	}

	backoff := 50 * time.Millisecond

	for {
		resp, err := dynamoStore.client.BatchWriteItem(ctx, &dynamodb.BatchWriteItemInput{
			RequestItems: map[string][]types.WriteRequest{
				dynamoStore.tableName: requests,
			},
		})
		if err != nil {
			return fmt.Errorf("BatchWriteItem failed: %w", err)
		}

		unprocessed := resp.UnprocessedItems[dynamoStore.tableName]
		if len(unprocessed) == 0 {
			return nil
		}
		requests = unprocessed

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		if backoff < time.Second {
			backoff *= 2
		}
	}
}

// deleteItemWithCondition deletes an item by PK and SK, only if a specified field equals a given value.
// Returns ErrItemNotFound if the item does not exist and ErrConditionFailed if the condition is not met.
func deleteItemWithCondition(dynamoStore *DynamoCanvasStore, ctx context.Context, pk string, sk string, conditionField string, expectedValue string) error {
	input := &dynamodb.DeleteItemInput{
		TableName:           aws.String(dynamoStore.tableName),
		Key:                 itemKey(pk, sk),
		ConditionExpression: aws.String("attribute_exists(PK)"),
	}

	if conditionField != "" {
		input.ConditionExpression = aws.String("attribute_exists(PK) AND #f = :val")
		input.ExpressionAttributeNames = map[string]string{"#f": conditionField}
		input.ExpressionAttributeValues = map[string]types.AttributeValue{
			":val": &types.AttributeValueMemberS{Value: expectedValue},
		}
	}

	_, err := dynamoStore.client.DeleteItem(ctx, input)
	if err != nil {
		var cce *types.ConditionalCheckFailedException
		if errors.As(err, &cce) {
			// Could be because the item doesn't exist or condition not met
			exists, getErr := itemExists(dynamoStore, ctx, pk, sk)
			if getErr != nil {
				return fmt.Errorf("delete failed, and GetItem check also failed: %w", getErr)
			}
			if !exists {
				return store.ErrItemNotFound
			}
			return store.ErrConditionFailed
		}
		return fmt.Errorf("delete failed: %w", err)
	}

	return nil
}

// batchDeleteByPKThrottled deletes every item under pk whose SK starts with skPrefix,
// in 25-item batches with throttling between batches.
func batchDeleteByPKThrottled(dynamoStore *DynamoCanvasStore, ctx context.Context, pk string, skPrefix string, throttle time.Duration) error {
	var lastEvaluatedKey map[string]types.AttributeValue

	const queryPageSize int32 = 200

	for {
		resp, err := dynamoStore.client.Query(ctx, &dynamodb.QueryInput{
			TableName:              aws.String(dynamoStore.tableName),
			KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :skPrefix)"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":pk":       &types.AttributeValueMemberS{Value: pk},
				":skPrefix": &types.AttributeValueMemberS{Value: skPrefix},
			},
			ProjectionExpression: aws.String("PK, SK"),
			Limit:                aws.Int32(queryPageSize),
			ExclusiveStartKey:    lastEvaluatedKey,
		})
		if err != nil {
			return fmt.Errorf("query failed: %w", err)
		}

		delRequests := make([]types.WriteRequest, 0, len(resp.Items))
		for _, item := range resp.Items {
			delRequests = append(delRequests, types.WriteRequest{
				DeleteRequest: &types.DeleteRequest{
					Key: map[string]types.AttributeValue{
						"PK": item["PK"],
						"SK": item["SK"],
					},
				},
			})
		}

		for i := 0; i < len(delRequests); i += 25 {
			end := min(i+25, len(delRequests))

			startTime := time.Now()
			if err := writeBatchRequests(dynamoStore, ctx, delRequests[i:end]); err != nil {
				return fmt.Errorf("batch delete failed: %w", err)
			}

			elapsed := time.Since(startTime)
			if elapsed < throttle {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(throttle - elapsed):
				}
			}
		}

		lastEvaluatedKey = resp.LastEvaluatedKey
		if lastEvaluatedKey == nil {
			return nil
		}
	}
}
