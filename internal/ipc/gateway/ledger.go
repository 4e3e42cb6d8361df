package gateway

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/bitfantasy/nimo-ipc/internal/config"
	"github.com/bitfantasy/nimo-ipc/internal/ipc/entity"
)

// DynamoPutter DynamoDB 写入接口
type DynamoPutter interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
}

// DynamoLedgerSink 将过账请求投递到总账服务读取的 DynamoDB 表
//
// 表结构：PK id (string)
type DynamoLedgerSink struct {
	ddb   DynamoPutter
	table string
}

func NewDynamoLedgerSink(ddb DynamoPutter, table string) *DynamoLedgerSink {
	return &DynamoLedgerSink{ddb: ddb, table: table}
}

// NewDynamoClient 根据配置创建客户端；endpoint 用于本地 DynamoDB
func NewDynamoClient(ctx context.Context, cfg config.LedgerConfig) (*dynamodb.Client, error) {
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	loadOpts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}
	if cfg.AccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	}), nil
}

type postingItem struct {
	ID            string `dynamodbav:"id"`
	CertificateID string `dynamodbav:"certificate_id"`
	Round         int    `dynamodbav:"round"`
	ContractID    string `dynamodbav:"contract_id"`
	Currency      string `dynamodbav:"currency"`
	Lines         string `dynamodbav:"lines"`
	TotalDebit    string `dynamodbav:"total_debit"`
	TotalCredit   string `dynamodbav:"total_credit"`
	CreatedAt     string `dynamodbav:"created_at"`
}

// Deliver 条件写入，同一过账请求重复投递视为成功
func (s *DynamoLedgerSink) Deliver(ctx context.Context, posting *entity.LedgerPosting) error {
	av, err := attributevalue.MarshalMap(postingItem{
		ID:            posting.ID,
		CertificateID: posting.CertificateID,
		Round:         posting.Round,
		ContractID:    posting.ContractID,
		Currency:      posting.Currency,
		Lines:         string(posting.Lines),
		TotalDebit:    posting.TotalDebit.StringFixed(3),
		TotalCredit:   posting.TotalCredit.StringFixed(3),
		CreatedAt:     posting.CreatedAt.UTC().Format("2006-01-02T15:04:05Z"),
	})
	if err != nil {
		return err
	}

	_, err = s.ddb.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(s.table),
		Item:                av,
		ConditionExpression: aws.String("attribute_not_exists(#id)"),
		ExpressionAttributeNames: map[string]string{
			"#id": "id",
		},
	})
	var ccf *types.ConditionalCheckFailedException
	if errors.As(err, &ccf) {
		return nil
	}
	return err
}
