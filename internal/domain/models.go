// Package domain defines the persistence models for identities, negotiations,
// orders, and their message ledgers. These types are mapped with GORM and form
// the core data layer of the negotiation backend.
package domain

import (
	"time"
)

// Role tags a participant as a customer or as dealer staff.
type Role string

const (
	RoleCustomer Role = "CUSTOMER"
	RoleDealer   Role = "DEALER"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool { return r == RoleCustomer || r == RoleDealer }

// Identity is a lightweight participant record keyed by phone and/or email.
// It is not an authenticated account.
//
// Fields:
//   - ID: stable UUID primary key (char(36)).
//   - Name: display name, last writer wins.
//   - Phone: digits-only phone; unique when present.
//   - Email: lowercased email; unique when present.
//   - Role: CUSTOMER or DEALER, never changed after creation.
//   - CreatedAt / UpdatedAt: timestamps managed by GORM.
//
// Identities are never deleted; they are kept for message history.
type Identity struct {
	ID        string    `json:"id"         gorm:"type:char(36);primaryKey"`
	Name      string    `json:"name"       gorm:"type:varchar(255);not null"`
	Phone     *string   `json:"phone,omitempty" gorm:"type:varchar(32);uniqueIndex:ux_identity_phone"`
	Email     *string   `json:"email,omitempty" gorm:"type:varchar(255);uniqueIndex:ux_identity_email"`
	Role      Role      `json:"role"       gorm:"type:varchar(16);not null;check:role IN ('CUSTOMER','DEALER')"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName returns the database table name for Identity.
func (Identity) TableName() string { return "identities" }

// NegotiationType tells whether the customer wants to buy or sell a vehicle.
type NegotiationType string

const (
	NegotiationBuy  NegotiationType = "BUY"
	NegotiationSell NegotiationType = "SELL"
)

// Valid reports whether t is a known negotiation type.
func (t NegotiationType) Valid() bool { return t == NegotiationBuy || t == NegotiationSell }

// Negotiation is a buy/sell conversation thread between a customer and the
// dealer. The customer is always referenced as the buyer and the dealer
// identity as the seller, for both negotiation types.
//
// When no catalog vehicle is linked, the free-text vehicle fields describe
// the car being discussed (typical for SELL negotiations).
type Negotiation struct {
	ID       string            `json:"id"        gorm:"type:char(36);primaryKey"`
	Type     NegotiationType   `json:"type"      gorm:"type:varchar(8);not null"`
	Status   NegotiationStatus `json:"status"    gorm:"type:varchar(16);not null;default:'OPEN';index"`
	BuyerID  string            `json:"buyer_id"  gorm:"type:char(36);not null;index"`
	SellerID string            `json:"seller_id" gorm:"type:char(36);not null;index"`

	VehicleID      *string `json:"vehicle_id,omitempty"      gorm:"type:varchar(64);index"`
	VehicleMake    string  `json:"vehicle_make,omitempty"    gorm:"type:varchar(64)"`
	VehicleModel   string  `json:"vehicle_model,omitempty"   gorm:"type:varchar(64)"`
	VehicleYear    int     `json:"vehicle_year,omitempty"`
	VehicleMileage int     `json:"vehicle_mileage,omitempty"`
	AskingPrice    int64   `json:"asking_price,omitempty"` // cents

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Buyer  Identity `json:"buyer"  gorm:"foreignKey:BuyerID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:RESTRICT"`
	Seller Identity `json:"seller" gorm:"foreignKey:SellerID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:RESTRICT"`
}

// TableName returns the database table name for Negotiation.
func (Negotiation) TableName() string { return "negotiations" }

// PaymentMethod is how a checkout is paid.
type PaymentMethod string

const (
	PaymentCash      PaymentMethod = "CASH"
	PaymentFinancing PaymentMethod = "FINANCING"
	PaymentCard      PaymentMethod = "CARD"
	PaymentPix       PaymentMethod = "PIX"
)

// Valid reports whether m is a supported payment method.
func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentCash, PaymentFinancing, PaymentCard, PaymentPix:
		return true
	}
	return false
}

// Order is the result of an anonymous checkout for one catalog vehicle.
// Orders carry the customer's name/phone/RG instead of an Identity
// reference, and their chat is authorized against CustomerName.
type Order struct {
	ID            string        `json:"id"             gorm:"type:char(36);primaryKey"`
	VehicleID     string        `json:"vehicle_id"     gorm:"type:varchar(64);not null;index"`
	CustomerName  string        `json:"customer_name"  gorm:"type:varchar(255);not null"`
	CustomerPhone string        `json:"customer_phone" gorm:"type:varchar(32);not null;index"`
	CustomerRG    string        `json:"customer_rg"    gorm:"type:varchar(32);not null"`
	PaymentMethod PaymentMethod `json:"payment_method" gorm:"type:varchar(16);not null"`
	Installments  int           `json:"installments"   gorm:"not null;default:1"`
	DownPayment   int64         `json:"down_payment"` // cents
	TotalPrice    int64         `json:"total_price"`  // cents
	Status        OrderStatus   `json:"status"         gorm:"type:varchar(16);not null;default:'PENDING';index"`
	CompletedAt   *time.Time    `json:"completed_at,omitempty"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
}

// ChatLocked reports whether the order chat is closed. An order that was
// ever COMPLETED stays locked, even if staff cancels it afterwards.
func (o *Order) ChatLocked() bool {
	return o.Status.ChatLocked() || o.CompletedAt != nil
}

// TableName returns the database table name for Order.
func (Order) TableName() string { return "orders" }

// NegotiationMessage is one immutable entry of a negotiation ledger.
//
// ID is auto-incremented so that (CreatedAt, ID) orders messages by
// creation time with insertion order as the tiebreak. ClientKey is unique per
// negotiation and makes retried inserts idempotent.
type NegotiationMessage struct {
	ID            uint64    `json:"id"             gorm:"primaryKey;autoIncrement"`
	NegotiationID string    `json:"negotiation_id" gorm:"type:char(36);not null;index:idx_negotiation_msgs,priority:1;uniqueIndex:ux_negotiation_msg_key,priority:1"`
	SenderID      string    `json:"sender_id"      gorm:"type:char(36);not null;index"`
	SenderRole    Role      `json:"sender_role"    gorm:"type:varchar(16);not null"`
	Content       string    `json:"content"        gorm:"type:text;not null"`
	ClientKey     string    `json:"-"              gorm:"type:varchar(200);not null;uniqueIndex:ux_negotiation_msg_key,priority:2"`
	CreatedAt     time.Time `json:"created_at"     gorm:"index:idx_negotiation_msgs,priority:2"`

	// Sender is the authoring identity; shared across threads.
	Sender Identity `json:"-" gorm:"foreignKey:SenderID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:RESTRICT"`
	// Negotiation owns its messages; they go away with it.
	Negotiation Negotiation `json:"-" gorm:"foreignKey:NegotiationID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for NegotiationMessage.
func (NegotiationMessage) TableName() string { return "negotiation_messages" }

// OrderMessage is one immutable entry of an order ledger. The sender is a
// role tag plus a free-text name, mirroring the anonymous checkout model.
type OrderMessage struct {
	ID         uint64    `json:"id"          gorm:"primaryKey;autoIncrement"`
	OrderID    string    `json:"order_id"    gorm:"type:char(36);not null;index:idx_order_msgs,priority:1;uniqueIndex:ux_order_msg_key,priority:1"`
	SenderRole Role      `json:"sender_role" gorm:"type:varchar(16);not null;check:sender_role IN ('CUSTOMER','DEALER')"`
	SenderName string    `json:"sender_name" gorm:"type:varchar(255);not null"`
	Content    string    `json:"content"     gorm:"type:text;not null"`
	ClientKey  string    `json:"-"           gorm:"type:varchar(200);not null;uniqueIndex:ux_order_msg_key,priority:2"`
	CreatedAt  time.Time `json:"created_at"  gorm:"index:idx_order_msgs,priority:2"`

	Order Order `json:"-" gorm:"foreignKey:OrderID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for OrderMessage.
func (OrderMessage) TableName() string { return "order_messages" }
