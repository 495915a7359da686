package tokenstore

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/minervavault/vault/internal/config"
	"github.com/sirupsen/logrus"
)

// DynamoAPI is the subset of the DynamoDB client the store uses.
type DynamoAPI interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
}

type tokenItem struct {
	PK        string `dynamodbav:"PK"`
	SK        string `dynamodbav:"SK"`
	Value     string `dynamodbav:"Value"`
	UpdatedAt string `dynamodbav:"UpdatedAt"`
}

// Dynamo keeps tokens in a single-table layout: PK=TOKEN#<prefix>, SK=<key>.
type Dynamo struct {
	client    DynamoAPI
	tableName string
	prefix    string
	logger    *logrus.Logger
}

func NewDynamoClient(ctx context.Context, cfg *config.DynamoDBConfig) (*dynamodb.Client, error) {
	var awsCfg aws.Config
	var err error

	if cfg.Endpoint != "" {
		awsCfg, err = awsconfig.LoadDefaultConfig(ctx,
			awsconfig.WithRegion(cfg.Region),
			awsconfig.WithEndpointResolverWithOptions(aws.EndpointResolverWithOptionsFunc(
				func(service, region string, options ...interface{}) (aws.Endpoint, error) {
					return aws.Endpoint{
						URL:           cfg.Endpoint,
						SigningRegion: cfg.Region,
					}, nil
				})),
		)
	} else {
		awsCfg, err = awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	}

	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return dynamodb.NewFromConfig(awsCfg), nil
}

func NewDynamo(client DynamoAPI, tableName, prefix string, logger *logrus.Logger) *Dynamo {
	return &Dynamo{
		client:    client,
		tableName: tableName,
		prefix:    prefix,
		logger:    logger,
	}
}

func (s *Dynamo) itemKey(key string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: fmt.Sprintf("TOKEN#%s", s.prefix)},
		"SK": &types.AttributeValueMemberS{Value: key},
	}
}

func (s *Dynamo) Get(key string) (string, bool) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	result, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.tableName),
		Key:            s.itemKey(key),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		s.logger.WithError(err).WithField("key", key).Error("Failed to get token from DynamoDB")
		return "", false
	}

	if result.Item == nil {
		return "", false
	}

	var item tokenItem
	if err := attributevalue.UnmarshalMap(result.Item, &item); err != nil {
		s.logger.WithError(err).WithField("key", key).Error("Failed to unmarshal token item")
		return "", false
	}
	return item.Value, true
}

func (s *Dynamo) Set(key, value string) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	item, err := attributevalue.MarshalMap(tokenItem{
		PK:        fmt.Sprintf("TOKEN#%s", s.prefix),
		SK:        key,
		Value:     value,
		UpdatedAt: time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		s.logger.WithError(err).WithField("key", key).Error("Failed to marshal token item")
		return
	}

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.tableName),
		Item:      item,
	})
	if err != nil {
		s.logger.WithError(err).WithField("key", key).Error("Failed to store token in DynamoDB")
	}
}

func (s *Dynamo) Remove(key string) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	_, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(s.tableName),
		Key:       s.itemKey(key),
	})
	if err != nil {
		s.logger.WithError(err).WithField("key", key).Error("Failed to delete token from DynamoDB")
	}
}
