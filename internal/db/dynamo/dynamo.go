// Package dynamo implements the event and device repositories on Amazon
// DynamoDB.
//
// The Events table is keyed by id and carries a global secondary index on
// (userId, eventTime) for the upcoming-events query. The Devices table is
// keyed by userId. Timestamps are stored as fixed-width UTC strings so the
// index sort key orders chronologically.
package dynamo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	dtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"

	"cookalert/internal/types"
)

// UserTimeIndex is the GSI used by ListUpcomingByUser.
const UserTimeIndex = "userId-eventTime-index"

const timeLayout = "2006-01-02T15:04:05.000Z"

// API is the subset of *dynamodb.Client the repositories use.
type API interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	DescribeTable(ctx context.Context, params *dynamodb.DescribeTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error)
	CreateTable(ctx context.Context, params *dynamodb.CreateTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.CreateTableOutput, error)
}

type eventItem struct {
	ID        string `dynamodbav:"id"`
	UserID    string `dynamodbav:"userId"`
	Title     string `dynamodbav:"title"`
	EventTime string `dynamodbav:"eventTime"`
	CreatedAt string `dynamodbav:"createdAt"`
}

func toItem(e *types.Event) eventItem {
	return eventItem{
		ID:        e.ID,
		UserID:    e.UserID,
		Title:     e.Title,
		EventTime: e.EventTime.UTC().Format(timeLayout),
		CreatedAt: e.CreatedAt.UTC().Format(timeLayout),
	}
}

func (it eventItem) event() (*types.Event, error) {
	eventTime, err := time.Parse(timeLayout, it.EventTime)
	if err != nil {
		return nil, fmt.Errorf("event %s: bad eventTime %q: %w", it.ID, it.EventTime, err)
	}
	createdAt, err := time.Parse(timeLayout, it.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("event %s: bad createdAt %q: %w", it.ID, it.CreatedAt, err)
	}
	return &types.Event{
		ID:        it.ID,
		UserID:    it.UserID,
		Title:     it.Title,
		EventTime: eventTime,
		CreatedAt: createdAt,
	}, nil
}

func unmarshalEvent(av map[string]dtypes.AttributeValue) (*types.Event, error) {
	var it eventItem
	if err := attributevalue.UnmarshalMap(av, &it); err != nil {
		return nil, err
	}
	return it.event()
}

func idKey(id string) map[string]dtypes.AttributeValue {
	return map[string]dtypes.AttributeValue{"id": &dtypes.AttributeValueMemberS{Value: id}}
}

func notFound() error {
	return types.NewAppError(types.ErrCodeNotFoundEvent, "event not found", types.ErrNotFound)
}

// EventRepository stores events in a DynamoDB table.
type EventRepository struct {
	client API
	table  string
	clock  types.Clock
}

// NewEventRepository creates an EventRepository over table.
func NewEventRepository(client API, table string) *EventRepository {
	return &EventRepository{client: client, table: table, clock: types.RealClock{}}
}

func (r *EventRepository) Create(ctx context.Context, e *types.Event) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = r.clock.Now().UTC()
	}
	e.EventTime = e.EventTime.UTC().Truncate(time.Millisecond)
	e.CreatedAt = e.CreatedAt.UTC().Truncate(time.Millisecond)

	av, err := attributevalue.MarshalMap(toItem(e))
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to encode event", err)
	}
	_, err = r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(r.table),
		Item:                av,
		ConditionExpression: aws.String("attribute_not_exists(id)"),
	})
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to create event", err)
	}
	return nil
}

func (r *EventRepository) GetByID(ctx context.Context, id string) (*types.Event, error) {
	out, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(r.table),
		Key:            idKey(id),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to retrieve event", err)
	}
	if len(out.Item) == 0 {
		return nil, notFound()
	}
	e, err := unmarshalEvent(out.Item)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to decode event", err)
	}
	return e, nil
}

// ListUpcomingByUser queries the user/time index, skipping page.Offset items
// and stopping once page.Limit events are collected. DynamoDB has no offset,
// so skipped items are still read.
func (r *EventRepository) ListUpcomingByUser(ctx context.Context, userID string, now time.Time, page types.Page) ([]*types.Event, error) {
	p := dynamodb.NewQueryPaginator(r.client, &dynamodb.QueryInput{
		TableName:              aws.String(r.table),
		IndexName:              aws.String(UserTimeIndex),
		KeyConditionExpression: aws.String("userId = :u AND eventTime > :now"),
		ExpressionAttributeValues: map[string]dtypes.AttributeValue{
			":u":   &dtypes.AttributeValueMemberS{Value: userID},
			":now": &dtypes.AttributeValueMemberS{Value: now.UTC().Format(timeLayout)},
		},
		ScanIndexForward: aws.Bool(true),
		Limit:            aws.Int32(int32(page.Offset + page.Limit)),
	})

	events := []*types.Event{}
	skip := page.Offset
	for p.HasMorePages() && len(events) < page.Limit {
		out, err := p.NextPage(ctx)
		if err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list events", err)
		}
		for _, av := range out.Items {
			if skip > 0 {
				skip--
				continue
			}
			if len(events) == page.Limit {
				break
			}
			e, err := unmarshalEvent(av)
			if err != nil {
				return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to decode event", err)
			}
			events = append(events, e)
		}
	}
	return events, nil
}

func (r *EventRepository) Update(ctx context.Context, id string, upd types.EventUpdate) (*types.Event, error) {
	if upd.IsEmpty() {
		return r.GetByID(ctx, id)
	}

	expr := "SET "
	values := map[string]dtypes.AttributeValue{}
	if upd.Title != nil {
		expr += "title = :title"
		values[":title"] = &dtypes.AttributeValueMemberS{Value: *upd.Title}
	}
	if upd.EventTime != nil {
		if len(values) > 0 {
			expr += ", "
		}
		expr += "eventTime = :eventTime"
		values[":eventTime"] = &dtypes.AttributeValueMemberS{Value: upd.EventTime.UTC().Format(timeLayout)}
	}

	out, err := r.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(r.table),
		Key:                       idKey(id),
		UpdateExpression:          aws.String(expr),
		ConditionExpression:       aws.String("attribute_exists(id)"),
		ExpressionAttributeValues: values,
		ReturnValues:              dtypes.ReturnValueAllNew,
	})
	if err != nil {
		var ccf *dtypes.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return nil, notFound()
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to update event", err)
	}
	e, err := unmarshalEvent(out.Attributes)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to decode event", err)
	}
	return e, nil
}

func (r *EventRepository) Delete(ctx context.Context, id string) (bool, error) {
	out, err := r.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName:    aws.String(r.table),
		Key:          idKey(id),
		ReturnValues: dtypes.ReturnValueAllOld,
	})
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to delete event", err)
	}
	return len(out.Attributes) > 0, nil
}

// DeviceRepository stores push tokens in a DynamoDB table keyed by userId.
type DeviceRepository struct {
	client API
	table  string
	clock  types.Clock
}

// NewDeviceRepository creates a DeviceRepository over table.
func NewDeviceRepository(client API, table string) *DeviceRepository {
	return &DeviceRepository{client: client, table: table, clock: types.RealClock{}}
}

func (r *DeviceRepository) SaveDeviceToken(ctx context.Context, userID, pushToken string) (*types.Device, error) {
	d := &types.Device{
		UserID:    userID,
		PushToken: pushToken,
		UpdatedAt: r.clock.Now().UTC().Truncate(time.Millisecond),
	}
	av, err := attributevalue.MarshalMap(d)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to encode device", err)
	}
	if _, err := r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(r.table),
		Item:      av,
	}); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to save device token", err)
	}
	return d, nil
}

func (r *DeviceRepository) GetDeviceToken(ctx context.Context, userID string) (string, error) {
	out, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(r.table),
		Key: map[string]dtypes.AttributeValue{
			"userId": &dtypes.AttributeValueMemberS{Value: userID},
		},
	})
	if err != nil {
		return "", types.NewAppError(types.ErrCodeInternalDB, "failed to retrieve device token", err)
	}
	if len(out.Item) == 0 {
		return "", nil
	}
	var d types.Device
	if err := attributevalue.UnmarshalMap(out.Item, &d); err != nil {
		return "", types.NewAppError(types.ErrCodeInternalDB, "failed to decode device", err)
	}
	return d.PushToken, nil
}

var (
	_ types.EventRepository  = (*EventRepository)(nil)
	_ types.DeviceRepository = (*DeviceRepository)(nil)
)
