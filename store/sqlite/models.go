package sqlite

import (
	"encoding/json"
	"time"

	"github.com/xraph/grove"

	"github.com/xraph/redeem/catalog"
	"github.com/xraph/redeem/id"
	"github.com/xraph/redeem/order"
	"github.com/xraph/redeem/session"
	"github.com/xraph/redeem/types"
)

// ──────────────────────────────────────────────────
// Order model
// ──────────────────────────────────────────────────

type orderModel struct {
	grove.BaseModel `grove:"table:redeem_orders"`

	ID               string     `grove:"id,pk"`
	CustomerID       string     `grove:"customer_id"`
	CatalogProductID string     `grove:"catalog_product_id"`
	Product          string     `grove:"product"`
	ChargeReference  string     `grove:"charge_reference"`
	PayCode          string     `grove:"pay_code"`
	Degraded         bool       `grove:"degraded"`
	Status           string     `grove:"status"`
	Payload          string     `grove:"activation_payload"`
	OverrideProduct  *string    `grove:"activation_override_product"`
	Result           string     `grove:"activation_result"`
	LastError        string     `grove:"last_error"`
	CreditAmount     int64      `grove:"credit_amount"`
	CreditCurrency   string     `grove:"credit_currency"`
	CreditConsumed   bool       `grove:"credit_consumed"`
	ConsumeReason    string     `grove:"consume_reason"`
	ManualApproval   bool       `grove:"manual_approval"`
	NeedsReview      bool       `grove:"needs_review"`
	ReviewReason     string     `grove:"review_reason"`
	Version          int64      `grove:"version"`
	PaidAt           *time.Time `grove:"paid_at"`
	CompletedAt      *time.Time `grove:"completed_at"`
	CreatedAt        time.Time  `grove:"created_at"`
	UpdatedAt        time.Time  `grove:"updated_at"`
}

func toOrderModel(o *order.Order) (*orderModel, error) {
	product, err := json.Marshal(o.Product)
	if err != nil {
		return nil, err
	}

	var override *string
	if o.ActivationOverrideProduct != nil {
		raw, err := json.Marshal(o.ActivationOverrideProduct)
		if err != nil {
			return nil, err
		}
		s := string(raw)
		override = &s
	}

	return &orderModel{
		ID:               o.ID.String(),
		CustomerID:       o.CustomerID,
		CatalogProductID: o.CatalogProductID.String(),
		Product:          string(product),
		ChargeReference:  o.ChargeReference,
		PayCode:          o.PayCode,
		Degraded:         o.Degraded,
		Status:           string(o.Status),
		Payload:          o.ActivationPayload,
		OverrideProduct:  override,
		Result:           o.ActivationResult,
		LastError:        o.LastError,
		CreditAmount:     o.CreditAmount.Amount,
		CreditCurrency:   o.CreditAmount.Currency,
		CreditConsumed:   o.CreditConsumed,
		ConsumeReason:    o.ConsumeReason,
		ManualApproval:   o.ManualApproval,
		NeedsReview:      o.NeedsReview,
		ReviewReason:     o.ReviewReason,
		Version:          o.Version,
		PaidAt:           o.PaidAt,
		CompletedAt:      o.CompletedAt,
		CreatedAt:        o.CreatedAt,
		UpdatedAt:        o.UpdatedAt,
	}, nil
}

func fromOrderModel(m *orderModel) (*order.Order, error) {
	orderID, err := id.ParseOrderID(m.ID)
	if err != nil {
		return nil, err
	}
	productID, err := id.ParseProductID(m.CatalogProductID)
	if err != nil {
		return nil, err
	}

	var product order.ProductSnapshot
	if err := json.Unmarshal([]byte(m.Product), &product); err != nil {
		return nil, err
	}

	var override *order.ProductSnapshot
	if m.OverrideProduct != nil && *m.OverrideProduct != "" {
		override = new(order.ProductSnapshot)
		if err := json.Unmarshal([]byte(*m.OverrideProduct), override); err != nil {
			return nil, err
		}
	}

	return &order.Order{
		Entity: types.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:                        orderID,
		CustomerID:                m.CustomerID,
		CatalogProductID:          productID,
		Product:                   product,
		ChargeReference:           m.ChargeReference,
		PayCode:                   m.PayCode,
		Degraded:                  m.Degraded,
		Status:                    order.Status(m.Status),
		ActivationPayload:         m.Payload,
		ActivationOverrideProduct: override,
		ActivationResult:          m.Result,
		LastError:                 m.LastError,
		CreditAmount:              types.Money{Amount: m.CreditAmount, Currency: m.CreditCurrency},
		CreditConsumed:            m.CreditConsumed,
		ConsumeReason:             m.ConsumeReason,
		ManualApproval:            m.ManualApproval,
		NeedsReview:               m.NeedsReview,
		ReviewReason:              m.ReviewReason,
		Version:                   m.Version,
		PaidAt:                    m.PaidAt,
		CompletedAt:               m.CompletedAt,
	}, nil
}

// ──────────────────────────────────────────────────
// Session model
// ──────────────────────────────────────────────────

type sessionModel struct {
	grove.BaseModel `grove:"table:redeem_sessions"`

	CustomerID     string     `grove:"customer_id,pk"`
	State          string     `grove:"state"`
	CurrentOrderID *string    `grove:"current_order_id"`
	CreditOrderID  *string    `grove:"credit_order_id"`
	CreditAmount   int64      `grove:"available_credit"`
	CreditCurrency string     `grove:"credit_currency"`
	Extra          string     `grove:"extra"`
	SilenceUntil   *time.Time `grove:"silence_until"`
	NeedsReview    bool       `grove:"needs_review"`
	ReviewReason   string     `grove:"review_reason"`
	Version        int64      `grove:"version"`
	CreatedAt      time.Time  `grove:"created_at"`
	UpdatedAt      time.Time  `grove:"updated_at"`
}

func toSessionModel(s *session.Session) (*sessionModel, error) {
	extra, err := json.Marshal(s.Extra)
	if err != nil {
		return nil, err
	}

	var silence *time.Time
	if !s.SilenceUntil.IsZero() {
		t := s.SilenceUntil.UTC()
		silence = &t
	}

	return &sessionModel{
		CustomerID:     s.CustomerID,
		State:          string(s.State),
		CurrentOrderID: optionalID(s.CurrentOrderID),
		CreditOrderID:  optionalID(s.CreditOrderID),
		CreditAmount:   s.AvailableCredit.Amount,
		CreditCurrency: s.AvailableCredit.Currency,
		Extra:          string(extra),
		SilenceUntil:   silence,
		NeedsReview:    s.NeedsReview,
		ReviewReason:   s.ReviewReason,
		Version:        s.Version,
		CreatedAt:      s.CreatedAt,
		UpdatedAt:      s.UpdatedAt,
	}, nil
}

func fromSessionModel(m *sessionModel) (*session.Session, error) {
	current, err := parseOptionalID(m.CurrentOrderID)
	if err != nil {
		return nil, err
	}
	credit, err := parseOptionalID(m.CreditOrderID)
	if err != nil {
		return nil, err
	}

	extra := map[string]string{}
	if m.Extra != "" {
		if err := json.Unmarshal([]byte(m.Extra), &extra); err != nil {
			return nil, err
		}
	}

	var silence time.Time
	if m.SilenceUntil != nil {
		silence = *m.SilenceUntil
	}

	return &session.Session{
		Entity: types.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		CustomerID:      m.CustomerID,
		State:           session.State(m.State),
		CurrentOrderID:  current,
		CreditOrderID:   credit,
		AvailableCredit: types.Money{Amount: m.CreditAmount, Currency: m.CreditCurrency},
		Extra:           extra,
		SilenceUntil:    silence,
		NeedsReview:     m.NeedsReview,
		ReviewReason:    m.ReviewReason,
		Version:         m.Version,
	}, nil
}

// ──────────────────────────────────────────────────
// Product model
// ──────────────────────────────────────────────────

type productModel struct {
	grove.BaseModel `grove:"table:redeem_products"`

	ID                 string    `grove:"id,pk"`
	Name               string    `grove:"name"`
	PriceAmount        int64     `grove:"price_amount"`
	PriceCurrency      string    `grove:"price_currency"`
	ActivationModuleID string    `grove:"activation_module_id"`
	Active             bool      `grove:"active"`
	Metadata           string    `grove:"metadata"`
	CreatedAt          time.Time `grove:"created_at"`
	UpdatedAt          time.Time `grove:"updated_at"`
}

func toProductModel(p *catalog.Product) *productModel {
	metadata, _ := json.Marshal(p.Metadata) //nolint:errcheck // map[string]string always marshals
	return &productModel{
		ID:                 p.ID.String(),
		Name:               p.Name,
		PriceAmount:        p.Price.Amount,
		PriceCurrency:      p.Price.Currency,
		ActivationModuleID: p.ActivationModuleID,
		Active:             p.Active,
		Metadata:           string(metadata),
		CreatedAt:          p.CreatedAt,
		UpdatedAt:          p.UpdatedAt,
	}
}

func fromProductModel(m *productModel) (*catalog.Product, error) {
	productID, err := id.ParseProductID(m.ID)
	if err != nil {
		return nil, err
	}

	var metadata map[string]string
	if m.Metadata != "" && m.Metadata != "null" {
		if err := json.Unmarshal([]byte(m.Metadata), &metadata); err != nil {
			return nil, err
		}
	}

	return &catalog.Product{
		Entity: types.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:                 productID,
		Name:               m.Name,
		Price:              types.Money{Amount: m.PriceAmount, Currency: m.PriceCurrency},
		ActivationModuleID: m.ActivationModuleID,
		Active:             m.Active,
		Metadata:           metadata,
	}, nil
}

func optionalID(v id.ID) *string {
	if v.IsNil() {
		return nil
	}
	s := v.String()
	return &s
}

func parseOptionalID(s *string) (id.ID, error) {
	if s == nil || *s == "" {
		return id.Nil, nil
	}
	return id.ParseOrderID(*s)
}
