// Package catalog serves the read-only product, order and prediction
// listings exposed next to the relay. The data is a fixed development set.
package catalog

import (
	"context"

	"github.com/aparajitverma/TheExportExpress-sub004/pkg/models"
	"github.com/shopspring/decimal"
)

// Service lists catalog data.
type Service interface {
	ListProducts(ctx context.Context) ([]models.Product, error)
	ListOrders(ctx context.Context) ([]models.Order, error)
	ListPredictions(ctx context.Context) ([]models.Prediction, error)
}

// Fixtures is a Service backed by static data.
type Fixtures struct {
	products    []models.Product
	orders      []models.Order
	predictions []models.Prediction
}

// NewFixtures returns the default development data set.
func NewFixtures() *Fixtures {
	return &Fixtures{
		products: []models.Product{
			{
				ID:       "product_001",
				Name:     "Premium Kashmiri Saffron",
				Category: "spices",
				Pricing: models.ProductPricing{
					CurrentPrice:   decimal.NewFromInt(2800),
					PredictedPrice: decimal.NewFromInt(3200),
				},
				Inventory: models.ProductInventory{Available: 500},
			},
		},
		orders: []models.Order{
			{
				ID:             "order_001",
				OrderNumber:    "EXP-2024-001",
				Client:         models.OrderClient{CompanyName: "US Natural Products Inc"},
				StatusTracking: models.OrderStatusTracking{CurrentStatus: "processing"},
			},
		},
		predictions: []models.Prediction{
			{
				ProductID: "product_001",
				Predictions: models.PricePredictions{
					PriceIn3Days: models.Forecast{Value: decimal.NewFromInt(3200), Confidence: 0.85},
				},
				ArbitrageOpportunities: []models.ArbitrageOpportunity{
					{Market: "US", NetProfit: decimal.NewFromInt(1000), Confidence: 0.85},
				},
			},
		},
	}
}

// ListProducts implements Service.
func (f *Fixtures) ListProducts(ctx context.Context) ([]models.Product, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return append([]models.Product(nil), f.products...), nil
}

// ListOrders implements Service.
func (f *Fixtures) ListOrders(ctx context.Context) ([]models.Order, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return append([]models.Order(nil), f.orders...), nil
}

// ListPredictions implements Service.
func (f *Fixtures) ListPredictions(ctx context.Context) ([]models.Prediction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return append([]models.Prediction(nil), f.predictions...), nil
}
