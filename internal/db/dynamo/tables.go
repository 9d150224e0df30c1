package dynamo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	dtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// tableWait bounds how long EnsureTables waits for a new table to become
// ACTIVE.
const tableWait = 2 * time.Minute

// EnsureTables creates the events and devices tables when they do not exist.
// Intended for local development against DynamoDB Local or LocalStack;
// production tables are provisioned out of band.
func EnsureTables(ctx context.Context, client API, eventsTable, devicesTable string) error {
	if err := ensureTable(ctx, client, eventsTableInput(eventsTable)); err != nil {
		return err
	}
	return ensureTable(ctx, client, devicesTableInput(devicesTable))
}

func ensureTable(ctx context.Context, client API, in *dynamodb.CreateTableInput) error {
	name := aws.ToString(in.TableName)
	_, err := client.DescribeTable(ctx, &dynamodb.DescribeTableInput{TableName: in.TableName})
	if err == nil {
		return nil
	}
	var rnf *dtypes.ResourceNotFoundException
	if !errors.As(err, &rnf) {
		return fmt.Errorf("describe table %s: %w", name, err)
	}

	if _, err := client.CreateTable(ctx, in); err != nil {
		var inUse *dtypes.ResourceInUseException
		if errors.As(err, &inUse) {
			return nil
		}
		return fmt.Errorf("create table %s: %w", name, err)
	}

	waiter := dynamodb.NewTableExistsWaiter(client)
	if err := waiter.Wait(ctx, &dynamodb.DescribeTableInput{TableName: in.TableName}, tableWait); err != nil {
		return fmt.Errorf("wait for table %s: %w", name, err)
	}
	return nil
}

func eventsTableInput(table string) *dynamodb.CreateTableInput {
	return &dynamodb.CreateTableInput{
		TableName:   aws.String(table),
		BillingMode: dtypes.BillingModePayPerRequest,
		AttributeDefinitions: []dtypes.AttributeDefinition{
			{AttributeName: aws.String("id"), AttributeType: dtypes.ScalarAttributeTypeS},
			{AttributeName: aws.String("userId"), AttributeType: dtypes.ScalarAttributeTypeS},
			{AttributeName: aws.String("eventTime"), AttributeType: dtypes.ScalarAttributeTypeS},
		},
		KeySchema: []dtypes.KeySchemaElement{
			{AttributeName: aws.String("id"), KeyType: dtypes.KeyTypeHash},
		},
		GlobalSecondaryIndexes: []dtypes.GlobalSecondaryIndex{{
			IndexName: aws.String(UserTimeIndex),
			KeySchema: []dtypes.KeySchemaElement{
				{AttributeName: aws.String("userId"), KeyType: dtypes.KeyTypeHash},
				{AttributeName: aws.String("eventTime"), KeyType: dtypes.KeyTypeRange},
			},
			Projection: &dtypes.Projection{ProjectionType: dtypes.ProjectionTypeAll},
		}},
	}
}

func devicesTableInput(table string) *dynamodb.CreateTableInput {
	return &dynamodb.CreateTableInput{
		TableName:   aws.String(table),
		BillingMode: dtypes.BillingModePayPerRequest,
		AttributeDefinitions: []dtypes.AttributeDefinition{
			{AttributeName: aws.String("userId"), AttributeType: dtypes.ScalarAttributeTypeS},
		},
		KeySchema: []dtypes.KeySchemaElement{
			{AttributeName: aws.String("userId"), KeyType: dtypes.KeyTypeHash},
		},
	}
}
