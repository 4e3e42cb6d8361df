package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/bitfantasy/nimo-ipc/internal/config"
	"github.com/bitfantasy/nimo-ipc/internal/ipc/entity"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFlatRateTax(t *testing.T) {
	tax, err := NewFlatRateTax(map[string]string{"default": "0.15", "exempt": "0"})
	require.NoError(t, err)

	vat, err := tax.VAT(context.Background(), decimal.RequireFromString("1000.005"), "")
	require.NoError(t, err)
	assert.Equal(t, "150.001", vat.StringFixed(3))

	vat, err = tax.VAT(context.Background(), decimal.NewFromInt(1000), "exempt")
	require.NoError(t, err)
	assert.True(t, vat.IsZero())

	_, err = tax.VAT(context.Background(), decimal.NewFromInt(1), "mars")
	assert.Error(t, err)

	_, err = NewFlatRateTax(map[string]string{"default": "abc"})
	assert.Error(t, err)
}

func TestHTTPIndexSource(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		switch r.URL.Path {
		case "/indices/LAB":
			json.NewEncoder(w).Encode(map[string]string{"index_code": "LAB", "date": r.URL.Query().Get("date"), "value": "112.5"})
		case "/indices/OLD":
			json.NewEncoder(w).Encode(map[string]string{"index_code": "OLD", "date": "2020-01-01", "value": "90"})
		case "/indices/BROKEN":
			w.WriteHeader(http.StatusBadGateway)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	src := NewHTTPIndexSource(srv.URL, "secret", time.Second)
	ctx := context.Background()
	date := time.Date(2026, 3, 31, 0, 0, 0, 0, time.UTC)

	v, found, err := src.Reading(ctx, "LAB", date)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "112.5", v.String())

	_, found, err = src.Reading(ctx, "STEEL", date)
	require.NoError(t, err)
	assert.False(t, found)

	_, found, err = src.Reading(ctx, "OLD", date)
	require.NoError(t, err)
	assert.False(t, found, "a reading for another date is not substituted")

	_, _, err = src.Reading(ctx, "BROKEN", date)
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusBadGateway, se.StatusCode)
}

func TestStaticIndexSource(t *testing.T) {
	src := StaticIndexSource{"LAB": {"2026-03-31": decimal.NewFromInt(110)}}
	v, found, err := src.Reading(context.Background(), "LAB", time.Date(2026, 3, 31, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "110", v.String())

	_, found, _ = src.Reading(context.Background(), "LAB", time.Date(2026, 3, 30, 0, 0, 0, 0, time.UTC))
	assert.False(t, found)
}

func TestStaticBonding(t *testing.T) {
	b, err := NewStaticBonding(config.PolicyConfig{
		RetentionPercentage: "0.10",
		MaxRetentionMode:    "percentage",
		MaxRetentionValue:   "0.05",
	})
	require.NoError(t, err)
	p, err := b.Policy(context.Background(), "C-001")
	require.NoError(t, err)
	assert.Equal(t, "0.1", p.RetentionPercentage.String())
	assert.True(t, p.AdvanceRecoveryPercentage.IsZero())

	_, err = NewStaticBonding(config.PolicyConfig{RetentionPercentage: "ten"})
	assert.Error(t, err)
}

type fakePutter struct {
	calls int
	err   error
	input *dynamodb.PutItemInput
}

func (f *fakePutter) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.calls++
	f.input = in
	return &dynamodb.PutItemOutput{}, f.err
}

func TestDynamoLedgerSink(t *testing.T) {
	posting := &entity.LedgerPosting{
		ID:            "post-1",
		CertificateID: "ipc-1",
		ContractID:    "c-1",
		Lines:         []byte(`[{"account":"contract_works","debit":"100","credit":"0"}]`),
		TotalDebit:    decimal.NewFromInt(100),
		TotalCredit:   decimal.NewFromInt(100),
	}

	putter := &fakePutter{}
	sink := NewDynamoLedgerSink(putter, "postings")
	require.NoError(t, sink.Deliver(context.Background(), posting))
	assert.Equal(t, "postings", aws.ToString(putter.input.TableName))
	assert.Equal(t, "attribute_not_exists(#id)", aws.ToString(putter.input.ConditionExpression))
	assert.Equal(t, &types.AttributeValueMemberS{Value: "100.000"}, putter.input.Item["total_debit"])

	putter.err = &types.ConditionalCheckFailedException{Message: aws.String("exists")}
	assert.NoError(t, sink.Deliver(context.Background(), posting), "redelivery is idempotent")

	putter.err = errors.New("throttled")
	assert.Error(t, sink.Deliver(context.Background(), posting))
}
