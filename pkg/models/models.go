package models

import (
	"github.com/shopspring/decimal"
)

func init() {
	// listings carry prices as JSON numbers
	decimal.MarshalJSONWithoutQuotes = true
}

// Product is an export product listed by the catalog
type Product struct {
	ID        string           `json:"id"`
	Name      string           `json:"name"`
	Category  string           `json:"category"`
	Pricing   ProductPricing   `json:"pricing"`
	Inventory ProductInventory `json:"inventory"`
}

// ProductPricing holds current and forecast unit prices
type ProductPricing struct {
	CurrentPrice   decimal.Decimal `json:"current_price"`
	PredictedPrice decimal.Decimal `json:"predicted_price"`
}

// ProductInventory holds stock levels
type ProductInventory struct {
	Available int64 `json:"available"`
}

// Order is an export order
type Order struct {
	ID             string              `json:"id"`
	OrderNumber    string              `json:"order_number"`
	Client         OrderClient         `json:"client"`
	StatusTracking OrderStatusTracking `json:"status_tracking"`
}

// OrderClient identifies the buyer of an order
type OrderClient struct {
	CompanyName string `json:"company_name"`
}

// OrderStatusTracking holds the order lifecycle state
type OrderStatusTracking struct {
	CurrentStatus string `json:"current_status"` // processing, shipped, delivered, cancelled
}

// Forecast is a predicted value with its confidence in [0, 1]
type Forecast struct {
	Value      decimal.Decimal `json:"value"`
	Confidence float64         `json:"confidence"`
}

// PricePredictions groups forecasts by horizon
type PricePredictions struct {
	PriceIn3Days Forecast `json:"price_3_days"`
}

// ArbitrageOpportunity is a market where a product can be sold at a profit
type ArbitrageOpportunity struct {
	Market     string          `json:"market"`
	NetProfit  decimal.Decimal `json:"net_profit"`
	Confidence float64         `json:"confidence"`
}

// Prediction is the forecast set for one product
type Prediction struct {
	ProductID              string                 `json:"product_id"`
	Predictions            PricePredictions       `json:"predictions"`
	ArbitrageOpportunities []ArbitrageOpportunity `json:"arbitrage_opportunities"`
}
