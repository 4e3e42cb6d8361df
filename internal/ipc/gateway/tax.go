package gateway

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/bitfantasy/nimo-ipc/internal/ipc/calc"
	"github.com/shopspring/decimal"
)

// FlatRateTax 按辖区固定税率计算增值税
type FlatRateTax struct {
	rates map[string]decimal.Decimal
}

// NewFlatRateTax rates 为 辖区 → 税率 字符串（如 "0.15"）
func NewFlatRateTax(rates map[string]string) (*FlatRateTax, error) {
	parsed := make(map[string]decimal.Decimal, len(rates))
	for k, v := range rates {
		d, err := decimal.NewFromString(v)
		if err != nil {
			return nil, fmt.Errorf("tax rate %s: %w", k, err)
		}
		parsed[k] = d
	}
	return &FlatRateTax{rates: parsed}, nil
}

func (t *FlatRateTax) VAT(_ context.Context, taxable decimal.Decimal, jurisdiction string) (decimal.Decimal, error) {
	if jurisdiction == "" {
		jurisdiction = "default"
	}
	rate, ok := t.rates[jurisdiction]
	if !ok {
		return decimal.Zero, fmt.Errorf("no VAT rate for jurisdiction %q", jurisdiction)
	}
	return calc.Mul(taxable, rate), nil
}

// HTTPTaxService 外部税务服务：POST /vat
type HTTPTaxService struct {
	client *apiClient
}

func NewHTTPTaxService(baseURL, token string, timeout time.Duration) *HTTPTaxService {
	return &HTTPTaxService{client: newAPIClient(baseURL, token, timeout)}
}

type vatRequest struct {
	Taxable      decimal.Decimal `json:"taxable"`
	Jurisdiction string          `json:"jurisdiction"`
}

type vatResponse struct {
	VAT decimal.Decimal `json:"vat"`
}

func (t *HTTPTaxService) VAT(ctx context.Context, taxable decimal.Decimal, jurisdiction string) (decimal.Decimal, error) {
	var out vatResponse
	if err := t.client.doRequest(ctx, http.MethodPost, "/vat", vatRequest{Taxable: taxable, Jurisdiction: jurisdiction}, &out); err != nil {
		return decimal.Zero, err
	}
	return calc.Round(out.VAT), nil
}
