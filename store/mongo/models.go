package mongo

import (
	"fmt"
	"time"

	"github.com/xraph/grove"

	"github.com/xraph/redeem/catalog"
	"github.com/xraph/redeem/id"
	"github.com/xraph/redeem/order"
	"github.com/xraph/redeem/session"
	"github.com/xraph/redeem/types"
)

// ==================== Order models ====================

type orderModel struct {
	grove.BaseModel `grove:"table:redeem_orders"`

	ID               string         `grove:"id,pk"                       bson:"_id"`
	CustomerID       string         `grove:"customer_id"                 bson:"customer_id"`
	CatalogProductID string         `grove:"catalog_product_id"          bson:"catalog_product_id"`
	Product          snapshotModel  `grove:"product"                     bson:"product"`
	ChargeReference  string         `grove:"charge_reference"            bson:"charge_reference"`
	PayCode          string         `grove:"pay_code"                    bson:"pay_code"`
	Degraded         bool           `grove:"degraded"                    bson:"degraded"`
	Status           string         `grove:"status"                      bson:"status"`
	Payload          string         `grove:"activation_payload"          bson:"activation_payload"`
	OverrideProduct  *snapshotModel `grove:"activation_override_product" bson:"activation_override_product,omitempty"`
	Result           string         `grove:"activation_result"           bson:"activation_result"`
	LastError        string         `grove:"last_error"                  bson:"last_error"`
	CreditAmount     int64          `grove:"credit_amount"               bson:"credit_amount"`
	CreditCurrency   string         `grove:"credit_currency"             bson:"credit_currency"`
	CreditConsumed   bool           `grove:"credit_consumed"             bson:"credit_consumed"`
	ConsumeReason    string         `grove:"consume_reason"              bson:"consume_reason"`
	ManualApproval   bool           `grove:"manual_approval"             bson:"manual_approval"`
	NeedsReview      bool           `grove:"needs_review"                bson:"needs_review"`
	ReviewReason     string         `grove:"review_reason"               bson:"review_reason"`
	Version          int64          `grove:"version"                     bson:"version"`
	PaidAt           *time.Time     `grove:"paid_at"                     bson:"paid_at,omitempty"`
	CompletedAt      *time.Time     `grove:"completed_at"                bson:"completed_at,omitempty"`
	CreatedAt        time.Time      `grove:"created_at"                  bson:"created_at"`
	UpdatedAt        time.Time      `grove:"updated_at"                  bson:"updated_at"`
}

type snapshotModel struct {
	ProductID          string `bson:"product_id"`
	Name               string `bson:"name"`
	PriceAmount        int64  `bson:"price_amount"`
	PriceCurrency      string `bson:"price_currency"`
	ActivationModuleID string `bson:"activation_module_id"`
}

func toSnapshotModel(p order.ProductSnapshot) snapshotModel {
	return snapshotModel{
		ProductID:          p.ProductID.String(),
		Name:               p.Name,
		PriceAmount:        p.Price.Amount,
		PriceCurrency:      p.Price.Currency,
		ActivationModuleID: p.ActivationModuleID,
	}
}

func fromSnapshotModel(m snapshotModel) (order.ProductSnapshot, error) {
	productID, err := id.ParseProductID(m.ProductID)
	if err != nil {
		return order.ProductSnapshot{}, fmt.Errorf("parse snapshot product id %q: %w", m.ProductID, err)
	}
	return order.ProductSnapshot{
		ProductID:          productID,
		Name:               m.Name,
		Price:              types.Money{Amount: m.PriceAmount, Currency: m.PriceCurrency},
		ActivationModuleID: m.ActivationModuleID,
	}, nil
}

func toOrderModel(o *order.Order) *orderModel {
	var override *snapshotModel
	if o.ActivationOverrideProduct != nil {
		sm := toSnapshotModel(*o.ActivationOverrideProduct)
		override = &sm
	}

	return &orderModel{
		ID:               o.ID.String(),
		CustomerID:       o.CustomerID,
		CatalogProductID: o.CatalogProductID.String(),
		Product:          toSnapshotModel(o.Product),
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
	}
}

func fromOrderModel(m *orderModel) (*order.Order, error) {
	orderID, err := id.ParseOrderID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("parse order id %q: %w", m.ID, err)
	}
	productID, err := id.ParseProductID(m.CatalogProductID)
	if err != nil {
		return nil, fmt.Errorf("parse product id %q: %w", m.CatalogProductID, err)
	}
	product, err := fromSnapshotModel(m.Product)
	if err != nil {
		return nil, err
	}

	var override *order.ProductSnapshot
	if m.OverrideProduct != nil {
		p, err := fromSnapshotModel(*m.OverrideProduct)
		if err != nil {
			return nil, err
		}
		override = &p
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

// ==================== Session models ====================

type sessionModel struct {
	grove.BaseModel `grove:"table:redeem_sessions"`

	CustomerID     string            `grove:"customer_id,pk"   bson:"_id"`
	State          string            `grove:"state"            bson:"state"`
	CurrentOrderID string            `grove:"current_order_id" bson:"current_order_id"`
	CreditOrderID  string            `grove:"credit_order_id"  bson:"credit_order_id"`
	CreditAmount   int64             `grove:"available_credit" bson:"available_credit"`
	CreditCurrency string            `grove:"credit_currency"  bson:"credit_currency"`
	Extra          map[string]string `grove:"extra"            bson:"extra,omitempty"`
	SilenceUntil   *time.Time        `grove:"silence_until"    bson:"silence_until,omitempty"`
	NeedsReview    bool              `grove:"needs_review"     bson:"needs_review"`
	ReviewReason   string            `grove:"review_reason"    bson:"review_reason"`
	Version        int64             `grove:"version"          bson:"version"`
	CreatedAt      time.Time         `grove:"created_at"       bson:"created_at"`
	UpdatedAt      time.Time         `grove:"updated_at"       bson:"updated_at"`
}

func toSessionModel(s *session.Session) *sessionModel {
	var silence *time.Time
	if !s.SilenceUntil.IsZero() {
		t := s.SilenceUntil.UTC()
		silence = &t
	}

	return &sessionModel{
		CustomerID:     s.CustomerID,
		State:          string(s.State),
		CurrentOrderID: s.CurrentOrderID.String(),
		CreditOrderID:  s.CreditOrderID.String(),
		CreditAmount:   s.AvailableCredit.Amount,
		CreditCurrency: s.AvailableCredit.Currency,
		Extra:          s.Extra,
		SilenceUntil:   silence,
		NeedsReview:    s.NeedsReview,
		ReviewReason:   s.ReviewReason,
		Version:        s.Version,
		CreatedAt:      s.CreatedAt,
		UpdatedAt:      s.UpdatedAt,
	}
}

func fromSessionModel(m *sessionModel) (*session.Session, error) {
	current, err := parseOptionalOrderID(m.CurrentOrderID)
	if err != nil {
		return nil, err
	}
	credit, err := parseOptionalOrderID(m.CreditOrderID)
	if err != nil {
		return nil, err
	}

	var silence time.Time
	if m.SilenceUntil != nil {
		silence = *m.SilenceUntil
	}

	extra := m.Extra
	if extra == nil {
		extra = map[string]string{}
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

func parseOptionalOrderID(s string) (id.ID, error) {
	if s == "" {
		return id.Nil, nil
	}
	v, err := id.ParseOrderID(s)
	if err != nil {
		return id.Nil, fmt.Errorf("parse order id %q: %w", s, err)
	}
	return v, nil
}

// ==================== Product models ====================

type productModel struct {
	grove.BaseModel `grove:"table:redeem_products"`

	ID                 string            `grove:"id,pk"                bson:"_id"`
	Name               string            `grove:"name"                 bson:"name"`
	PriceAmount        int64             `grove:"price_amount"         bson:"price_amount"`
	PriceCurrency      string            `grove:"price_currency"       bson:"price_currency"`
	ActivationModuleID string            `grove:"activation_module_id" bson:"activation_module_id"`
	Active             bool              `grove:"active"               bson:"active"`
	Metadata           map[string]string `grove:"metadata"             bson:"metadata,omitempty"`
	CreatedAt          time.Time         `grove:"created_at"           bson:"created_at"`
	UpdatedAt          time.Time         `grove:"updated_at"           bson:"updated_at"`
}

func toProductModel(p *catalog.Product) *productModel {
	return &productModel{
		ID:                 p.ID.String(),
		Name:               p.Name,
		PriceAmount:        p.Price.Amount,
		PriceCurrency:      p.Price.Currency,
		ActivationModuleID: p.ActivationModuleID,
		Active:             p.Active,
		Metadata:           p.Metadata,
		CreatedAt:          p.CreatedAt,
		UpdatedAt:          p.UpdatedAt,
	}
}

func fromProductModel(m *productModel) (*catalog.Product, error) {
	productID, err := id.ParseProductID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("parse product id %q: %w", m.ID, err)
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
		Metadata:           m.Metadata,
	}, nil
}
