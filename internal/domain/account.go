package domain

import "time"

// Account is a phone-verified user wallet. The orchestrator only ever
// reads the signing key and wallet address; creation happens at
// registration, outside this service.
type Account struct {
	ID            int64     `json:"id"`
	PhoneNumber   string    `json:"phone_number"`
	WalletAddress string    `json:"wallet_address"`
	SigningKey    string    `json:"-"`
	DefaultChain  string    `json:"default_chain"`
	IsUnified     bool      `json:"is_unified"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// MerchantAccount is an alternate counterparty in payment flows, owned
// by a regular Account.
type MerchantAccount struct {
	ID            int64     `json:"id"`
	MerchantID    string    `json:"merchant_id"`
	BusinessName  string    `json:"business_name"`
	OwnerID       int64     `json:"owner_id"`
	PhoneNumber   string    `json:"phone_number"`
	WalletAddress string    `json:"wallet_address"`
	SigningKey    string    `json:"-"`
	DefaultChain  string    `json:"default_chain"`
	CreatedAt     time.Time `json:"created_at"`
}
