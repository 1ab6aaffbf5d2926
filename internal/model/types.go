package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Role of a user account
type Role string

const (
	RoleCustomer Role = "customer"
	RoleAdmin    Role = "admin"
)

// OTPBucket selects which one-time-code state of a user is addressed
type OTPBucket int

const (
	EmailVerification OTPBucket = iota + 1
	PasswordReset
)

func (b OTPBucket) String() string {
	switch b {
	case EmailVerification:
		return "email_verification"
	case PasswordReset:
		return "password_reset"
	default:
		return "unknown"
	}
}

// OTPState is the per-purpose one-time-code state embedded in a User
type OTPState struct {
	CodeHash  *string     `json:"code_hash,omitempty"`
	ExpiresAt *time.Time  `json:"expires_at,omitempty"`
	Attempts  int         `json:"attempts"`
	History   []time.Time `json:"history,omitempty"`
}

// User represents a storefront account
type User struct {
	ID                uuid.UUID
	FullName          string
	Email             string
	PasswordHash      string
	Phone             *string
	Role              Role
	IsActive          bool
	EmailVerified     bool
	EmailVerifiedAt   *time.Time
	LastLoginAt       *time.Time
	EmailVerification OTPState
	PasswordReset     OTPState
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// OTP returns a pointer to the bucket's state so callers can mutate it in place
func (u *User) OTP(b OTPBucket) *OTPState {
	switch b {
	case EmailVerification:
		return &u.EmailVerification
	case PasswordReset:
		return &u.PasswordReset
	default:
		return nil
	}
}

// Session is a refresh-token session. Only the hash of the token's random part is stored.
type Session struct {
	ID               uuid.UUID
	UserID           uuid.UUID
	RefreshTokenHash string
	ExpiresAt        time.Time
	RevokedAt        *time.Time
	UserAgent        string
	IP               string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Product is a catalog entry. Price is in minor currency units.
type Product struct {
	ID          uuid.UUID
	Name        string
	Slug        string
	Description string
	Price       int64
	Stock       int
	Category    string
	Images      []string
	IsActive    bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// CartStatus values
const (
	CartActive    = "active"
	CartConverted = "converted"
)

// Cart belongs to a user; at most one is active per user
type Cart struct {
	ID        uuid.UUID
	UserID    uuid.UUID
	Status    string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// CartItem is a product line in a cart with the unit price captured when added
type CartItem struct {
	ID              uuid.UUID
	CartID          uuid.UUID
	ProductID       uuid.UUID
	Quantity        int
	PriceAtAddition int64
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// CartLine is a cart item joined with the live product row
type CartLine struct {
	Item    CartItem
	Product Product
}

// Order status values
const (
	OrderPendingPayment = "pending_payment"
	OrderPaid           = "paid"
	OrderCancelled      = "cancelled"
)

// ShippingAddress is stored verbatim on the order
type ShippingAddress struct {
	FullName   string `json:"full_name"`
	Phone      string `json:"phone"`
	Line1      string `json:"line1"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city"`
	State      string `json:"state"`
	PostalCode string `json:"postal_code"`
	Country    string `json:"country"`
}

// Order is the immutable record of a checkout
type Order struct {
	ID              uuid.UUID
	UserID          uuid.UUID
	Status          string
	TotalAmount     int64
	Currency        string
	ShippingAddress ShippingAddress
	Notes           string
	PaymentIntentID *string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// OrderItem is a denormalized order line
type OrderItem struct {
	ID          uuid.UUID
	OrderID     uuid.UUID
	ProductID   uuid.UUID
	ProductName string
	UnitPrice   int64
	Quantity    int
	Subtotal    int64
}

// Payment gateways
const (
	GatewayRazorpay = "razorpay"
	GatewayManual   = "manual"
)

// Payment status values
const (
	PaymentInitiated  = "initiated"
	PaymentAuthorized = "authorized"
	PaymentCaptured   = "captured"
	PaymentFailed     = "failed"
	PaymentRefunded   = "refunded"
)

// Payment tracks the gateway side of an order
type Payment struct {
	ID            uuid.UUID
	OrderID       uuid.UUID
	UserID        uuid.UUID
	Gateway       string
	Status        string
	Amount        int64
	Currency      string
	TransactionID *string
	RawResponse   json.RawMessage
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// PaymentRaw is the shape of Payment.RawResponse
type PaymentRaw struct {
	GatewayOrder json.RawMessage   `json:"gatewayOrder,omitempty"`
	Events       []json.RawMessage `json:"events,omitempty"`
}

// GatewayOrderID returns the gateway order id recorded in the raw response, if any
func (p Payment) GatewayOrderID() string {
	if len(p.RawResponse) == 0 {
		return ""
	}
	var raw PaymentRaw
	if err := json.Unmarshal(p.RawResponse, &raw); err != nil || len(raw.GatewayOrder) == 0 {
		return ""
	}
	var order struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(raw.GatewayOrder, &order); err != nil {
		return ""
	}
	return order.ID
}

// Captured reports whether the payment has been captured with a transaction id
func (p Payment) Captured() bool {
	return p.Status == PaymentCaptured && p.TransactionID != nil && *p.TransactionID != ""
}
