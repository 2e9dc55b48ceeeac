package dynamo

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/zlnvch/fluxcanvas/models"
	"github.com/zlnvch/fluxcanvas/store"
)

const (
	discoveryIndex = "GSI_Discovery"
	expiryIndex    = "GSI_Expiry"

	// DynamoDB caps a single transaction at 100 items.
	maxTransactItems = 100
)

// Fields a layer update may overwrite. SortOrder, CreatedAt and the creator
// fields are fixed at insert.
var mutableLayerFields = []string{
	"Type", "X", "Y", "Width", "Height", "Rotation", "ZIndex", "PageIndex",
	"ImageUrl", "Caption", "Text", "FontSize", "FontColor", "FontFamily",
	"Animation", "UpdatedAt", "Version",
}

type DynamoCanvasStore struct {
	client    *dynamodb.Client
	tableName string
}

func NewDynamoCanvasStore(ctx context.Context, devMode bool, dynamodbEndpoint string, tableName string) (*DynamoCanvasStore, error) {
	client, err := newDynamoDBClient(context.Background(), devMode, dynamodbEndpoint)
	if err != nil {
		return nil, err
	}

	tables, err := getTables(client, ctx)
	if err != nil {
		return nil, err
	}

	if !slices.Contains(tables, tableName) {
		return nil, fmt.Errorf("given table name '%s' not found in dynamodb", tableName)
	}

	return &DynamoCanvasStore{client: client, tableName: tableName}, nil
}

func (dynamoStore *DynamoCanvasStore) CreateCanvas(ctx context.Context, canvas models.Canvas) error {
	dc := canvasToDynamo(canvas)
	dc.LayersVersion = 0
	if err := putItemIfAbsent(dynamoStore, ctx, dc); err != nil {
		if errors.Is(err, store.ErrConditionFailed) {
			return fmt.Errorf("canvas id already used: %w", store.ErrConditionFailed)
		}
		return err
	}

	for _, layer := range canvas.Layers {
		if err := dynamoStore.PutLayer(ctx, canvas.Id, layer); err != nil {
			return err
		}
	}
	return nil
}

func (dynamoStore *DynamoCanvasStore) GetCanvas(ctx context.Context, canvasId string) (models.Canvas, error) {
	items, err := queryItemsByPK(dynamoStore, ctx, canvasPK(canvasId), "", true)
	if err != nil {
		return models.Canvas{}, err
	}

	var meta *dynamoCanvas
	var dynamoLayers []dynamoLayer
	for _, item := range items {
		skAttr, ok := item["SK"].(*types.AttributeValueMemberS)
		if !ok {
			continue
		}

		switch {
		case skAttr.Value == metaSK:
			var dc dynamoCanvas
			if err := attributevalue.UnmarshalMap(item, &dc); err != nil {
				return models.Canvas{}, fmt.Errorf("failed to unmarshal canvas: %w", err)
			}
			meta = &dc
		case isLayerSK(skAttr.Value):
			var dl dynamoLayer
			if err := attributevalue.UnmarshalMap(item, &dl); err != nil {
				return models.Canvas{}, fmt.Errorf("failed to unmarshal layer: %w", err)
			}
			dynamoLayers = append(dynamoLayers, dl)
		}
	}

	if meta == nil {
		return models.Canvas{}, store.ErrCanvasNotFound
	}

	// Layer records are keyed by id, so insertion order comes from SortOrder.
	slices.SortFunc(dynamoLayers, func(a, b dynamoLayer) int {
		if a.SortOrder != b.SortOrder {
			if a.SortOrder < b.SortOrder {
				return -1
			}
			return 1
		}
		return strings.Compare(a.Id, b.Id)
	})

	canvas := canvasFromDynamo(*meta)
	canvas.Layers = make([]models.Layer, 0, len(dynamoLayers))
	for _, dl := range dynamoLayers {
		canvas.Layers = append(canvas.Layers, layerFromDynamo(dl))
	}

	return canvas, nil
}

func (dynamoStore *DynamoCanvasStore) DeleteCanvas(ctx context.Context, canvasId string, creatorId string) error {
	err := deleteItemWithCondition(dynamoStore, ctx, canvasPK(canvasId), metaSK, "CreatorId", creatorId)
	if errors.Is(err, store.ErrItemNotFound) {
		return store.ErrCanvasNotFound
	}
	return err
}

func (dynamoStore *DynamoCanvasStore) DeleteCanvasLayers(ctx context.Context, canvasId string) error {
	return batchDeleteByPKThrottled(dynamoStore, ctx, canvasPK(canvasId), layerSKPrefix, 50*time.Millisecond)
}

func (dynamoStore *DynamoCanvasStore) PutLayer(ctx context.Context, canvasId string, layer models.Layer) error {
	avMap, err := attributevalue.MarshalMap(layerToDynamo(canvasId, layer, time.Now().UnixNano()))
	if err != nil {
		return fmt.Errorf("marshal error: %w", err)
	}

	failed, err := transactWrite(dynamoStore, ctx, []types.TransactWriteItem{
		bumpLayersVersion(dynamoStore, canvasId),
		{
			Put: &types.Put{
				TableName:           aws.String(dynamoStore.tableName),
				Item:                avMap,
				ConditionExpression: aws.String("attribute_not_exists(PK)"),
			},
		},
	})
	if err != nil {
		return layerWriteError(failed, err, store.ErrLayerExists)
	}
	return nil
}

func (dynamoStore *DynamoCanvasStore) UpdateLayer(ctx context.Context, canvasId string, layer models.Layer, expectedVersion int64) (models.Layer, error) {
	layer.Version = expectedVersion + 1
	avMap, err := attributevalue.MarshalMap(layerToDynamo(canvasId, layer, 0))
	if err != nil {
		return models.Layer{}, fmt.Errorf("marshal error: %w", err)
	}

	updateExpr, names, values := layerUpdateExpression(avMap)
	names["#ver"] = "Version"
	values[":expected"] = &types.AttributeValueMemberN{Value: strconv.FormatInt(expectedVersion, 10)}

	failed, err := transactWrite(dynamoStore, ctx, []types.TransactWriteItem{
		bumpLayersVersion(dynamoStore, canvasId),
		{
			Update: &types.Update{
				TableName:                 aws.String(dynamoStore.tableName),
				Key:                       itemKey(canvasPK(canvasId), layerSK(layer.Id)),
				UpdateExpression:          aws.String(updateExpr),
				ConditionExpression:       aws.String("attribute_exists(PK) AND #ver = :expected"),
				ExpressionAttributeNames:  names,
				ExpressionAttributeValues: values,
			},
		},
	})
	if err != nil {
		if slices.Contains(failed, 1) && !slices.Contains(failed, 0) {
			exists, getErr := itemExists(dynamoStore, ctx, canvasPK(canvasId), layerSK(layer.Id))
			if getErr != nil {
				return models.Layer{}, getErr
			}
			if !exists {
				return models.Layer{}, store.ErrLayerNotFound
			}
			return models.Layer{}, store.ErrVersionConflict
		}
		return models.Layer{}, layerWriteError(failed, err, store.ErrVersionConflict)
	}

	return layer, nil
}

func (dynamoStore *DynamoCanvasStore) DeleteLayer(ctx context.Context, canvasId string, layerId string) error {
	failed, err := transactWrite(dynamoStore, ctx, []types.TransactWriteItem{
		bumpLayersVersion(dynamoStore, canvasId),
		{
			Delete: &types.Delete{
				TableName:           aws.String(dynamoStore.tableName),
				Key:                 itemKey(canvasPK(canvasId), layerSK(layerId)),
				ConditionExpression: aws.String("attribute_exists(PK)"),
			},
		},
	})
	if err != nil {
		return layerWriteError(failed, err, store.ErrLayerNotFound)
	}
	return nil
}

func (dynamoStore *DynamoCanvasStore) ReplaceLayers(ctx context.Context, canvasId string, layers []models.Layer, expectedLayersVersion int64) error {
	existing, err := queryItemsByPK(dynamoStore, ctx, canvasPK(canvasId), layerSKPrefix, true)
	if err != nil {
		return err
	}

	items := []types.TransactWriteItem{
		{
			Update: &types.Update{
				TableName:           aws.String(dynamoStore.tableName),
				Key:                 itemKey(canvasPK(canvasId), metaSK),
				UpdateExpression:    aws.String("SET #lv = :next"),
				ConditionExpression: aws.String("attribute_exists(PK) AND #lv = :expected"),
				ExpressionAttributeNames: map[string]string{
					"#lv": "LayersVersion",
				},
				ExpressionAttributeValues: map[string]types.AttributeValue{
					":expected": &types.AttributeValueMemberN{Value: strconv.FormatInt(expectedLayersVersion, 10)},
					":next":     &types.AttributeValueMemberN{Value: strconv.FormatInt(expectedLayersVersion+1, 10)},
				},
			},
		},
	}

	keep := make(map[string]struct{}, len(layers))
	for i, layer := range layers {
		keep[layerSK(layer.Id)] = struct{}{}

		avMap, err := attributevalue.MarshalMap(layerToDynamo(canvasId, layer, int64(i)))
		if err != nil {
			return fmt.Errorf("marshal error: %w", err)
		}
		items = append(items, types.TransactWriteItem{
			Put: &types.Put{
				TableName: aws.String(dynamoStore.tableName),
				Item:      avMap,
			},
		})
	}

	for _, item := range existing {
		skAttr, ok := item["SK"].(*types.AttributeValueMemberS)
		if !ok {
			continue
		}
		if _, kept := keep[skAttr.Value]; kept {
			continue
		}
		items = append(items, types.TransactWriteItem{
			Delete: &types.Delete{
				TableName: aws.String(dynamoStore.tableName),
				Key:       itemKey(canvasPK(canvasId), skAttr.Value),
			},
		})
	}

	if len(items) > maxTransactItems {
		return fmt.Errorf("replace of %d layers exceeds transaction limit of %d items", len(layers), maxTransactItems)
	}

	failed, err := transactWrite(dynamoStore, ctx, items)
	if err != nil {
		if slices.Contains(failed, 0) {
			exists, getErr := itemExists(dynamoStore, ctx, canvasPK(canvasId), metaSK)
			if getErr != nil {
				return getErr
			}
			if !exists {
				return store.ErrCanvasNotFound
			}
			return store.ErrVersionConflict
		}
		return err
	}
	return nil
}

func (dynamoStore *DynamoCanvasStore) IncrementViewCount(ctx context.Context, canvasId string, count int) error {
	err := incrementCounter(dynamoStore, ctx, canvasPK(canvasId), metaSK, "ViewCount", count)
	if errors.Is(err, store.ErrItemNotFound) {
		return store.ErrCanvasNotFound
	}
	return err
}

func (dynamoStore *DynamoCanvasStore) SetLike(ctx context.Context, canvasId string, userId string, liked bool) error {
	updateExpr := "ADD #lb :u, #lc :one"
	condition := "NOT contains(#lb, :uid)"
	delta := "1"
	if !liked {
		updateExpr = "DELETE #lb :u ADD #lc :one"
		condition = "contains(#lb, :uid)"
		delta = "-1"
	}

	_, err := dynamoStore.updateMeta(ctx, canvasId, updateExpr,
		map[string]string{"#lb": "LikedBy", "#lc": "LikeCount"},
		map[string]types.AttributeValue{
			":u":   &types.AttributeValueMemberSS{Value: []string{userId}},
			":uid": &types.AttributeValueMemberS{Value: userId},
			":one": &types.AttributeValueMemberN{Value: delta},
		},
		condition, types.ReturnValueNone,
	)
	return err
}

func (dynamoStore *DynamoCanvasStore) AddPendingRequest(ctx context.Context, canvasId string, userId string) error {
	_, err := dynamoStore.updateMeta(ctx, canvasId, "ADD #pr :u",
		map[string]string{"#pr": "PendingRequests"},
		map[string]types.AttributeValue{":u": &types.AttributeValueMemberSS{Value: []string{userId}}},
		"", types.ReturnValueNone,
	)
	return err
}

func (dynamoStore *DynamoCanvasStore) RemovePendingRequest(ctx context.Context, canvasId string, userId string) error {
	_, err := dynamoStore.updateMeta(ctx, canvasId, "DELETE #pr :u",
		map[string]string{"#pr": "PendingRequests"},
		map[string]types.AttributeValue{":u": &types.AttributeValueMemberSS{Value: []string{userId}}},
		"", types.ReturnValueNone,
	)
	return err
}

func (dynamoStore *DynamoCanvasStore) GrantMembership(ctx context.Context, canvasId string, userId string) error {
	_, err := dynamoStore.updateMeta(ctx, canvasId, "ADD #au :u DELETE #pr :u",
		map[string]string{"#au": "AllowedUsers", "#pr": "PendingRequests"},
		map[string]types.AttributeValue{":u": &types.AttributeValueMemberSS{Value: []string{userId}}},
		"", types.ReturnValueNone,
	)
	return err
}

func (dynamoStore *DynamoCanvasStore) AddPage(ctx context.Context, canvasId string) (int, error) {
	attrs, err := dynamoStore.updateMeta(ctx, canvasId, "ADD #tp :one",
		map[string]string{"#tp": "TotalPages"},
		map[string]types.AttributeValue{":one": &types.AttributeValueMemberN{Value: "1"}},
		"", types.ReturnValueUpdatedNew,
	)
	if err != nil {
		return 0, err
	}

	var updated struct {
		TotalPages int `dynamodbav:"TotalPages"`
	}
	if err := attributevalue.UnmarshalMap(attrs, &updated); err != nil {
		return 0, fmt.Errorf("failed to unmarshal page count: %w", err)
	}
	return updated.TotalPages, nil
}

func (dynamoStore *DynamoCanvasStore) SetExportedImageURL(ctx context.Context, canvasId string, url string) error {
	_, err := dynamoStore.updateMeta(ctx, canvasId, "SET #url = :url",
		map[string]string{"#url": "ExportedImageUrl"},
		map[string]types.AttributeValue{":url": &types.AttributeValueMemberS{Value: url}},
		"", types.ReturnValueNone,
	)
	return err
}

func (dynamoStore *DynamoCanvasStore) ListDiscoverable(ctx context.Context) ([]models.Canvas, error) {
	results, err := queryAllByGSI[dynamoCanvas](dynamoStore, ctx, discoveryIndex, "DiscoveryPK", discoveryPartition, "", nil)
	if err != nil {
		return nil, err
	}

	canvases := make([]models.Canvas, 0, len(results))
	for _, dc := range results {
		if dc.IsExpired {
			continue
		}
		canvases = append(canvases, canvasFromDynamo(dc))
	}
	return canvases, nil
}

func (dynamoStore *DynamoCanvasStore) ListExpiryCandidates(ctx context.Context, now time.Time) ([]string, error) {
	cutoff := now.UnixMilli()
	results, err := queryAllByGSI[dynamoCanvas](dynamoStore, ctx, expiryIndex, "ExpiryPK", expiryPartition, "ExpiresAt", &cutoff)
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(results))
	for _, dc := range results {
		ids = append(ids, dc.Id)
	}
	return ids, nil
}

func (dynamoStore *DynamoCanvasStore) MarkExpired(ctx context.Context, canvasId string) error {
	_, err := dynamoStore.updateMeta(ctx, canvasId, "SET #ie = :true REMOVE #dpk, #epk",
		map[string]string{"#ie": "IsExpired", "#dpk": "DiscoveryPK", "#epk": "ExpiryPK"},
		map[string]types.AttributeValue{":true": &types.AttributeValueMemberBOOL{Value: true}},
		"", types.ReturnValueNone,
	)
	return err
}

// updateMeta applies an update to the canvas META record. A failed condition is
// reported as ErrCanvasNotFound when the canvas is gone, else ErrConditionFailed.
func (dynamoStore *DynamoCanvasStore) updateMeta(
	ctx context.Context,
	canvasId string,
	updateExpr string,
	exprAttrNames map[string]string,
	exprAttrValues map[string]types.AttributeValue,
	extraCondition string,
	returnValues types.ReturnValue,
) (map[string]types.AttributeValue, error) {
	attrs, err := conditionalUpdate(dynamoStore, ctx, canvasPK(canvasId), metaSK, updateExpr, exprAttrNames, exprAttrValues, extraCondition, returnValues)
	if errors.Is(err, store.ErrConditionFailed) {
		if extraCondition == "" {
			return nil, store.ErrCanvasNotFound
		}
		exists, getErr := itemExists(dynamoStore, ctx, canvasPK(canvasId), metaSK)
		if getErr != nil {
			return nil, getErr
		}
		if !exists {
			return nil, store.ErrCanvasNotFound
		}
	}
	return attrs, err
}

// layerWriteError maps a cancelled layer transaction to a store error. Index 0
// is always the META version bump, index 1 the layer item.
func layerWriteError(failed []int, err error, layerErr error) error {
	if !errors.Is(err, store.ErrConditionFailed) {
		return err
	}
	if slices.Contains(failed, 0) {
		return store.ErrCanvasNotFound
	}
	if slices.Contains(failed, 1) {
		return layerErr
	}
	return err
}

// layerUpdateExpression builds a SET/REMOVE expression over mutableLayerFields
// from a marshalled layer. Optional fields missing from the map are removed.
func layerUpdateExpression(avMap map[string]types.AttributeValue) (string, map[string]string, map[string]types.AttributeValue) {
	names := make(map[string]string)
	values := make(map[string]types.AttributeValue)
	var sets, removes []string

	for i, field := range mutableLayerFields {
		nameKey := "#f" + strconv.Itoa(i)
		names[nameKey] = field
		if av, ok := avMap[field]; ok {
			valueKey := ":v" + strconv.Itoa(i)
			values[valueKey] = av
			sets = append(sets, nameKey+" = "+valueKey)
		} else {
			removes = append(removes, nameKey)
		}
	}

	expr := "SET " + strings.Join(sets, ", ")
	if len(removes) > 0 {
		expr += " REMOVE " + strings.Join(removes, ", ")
	}
	return expr, names, values
}
