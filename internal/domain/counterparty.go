package domain

import "time"

type CounterpartyType string

const (
	CounterpartySupplier CounterpartyType = "supplier"
	CounterpartyCustomer CounterpartyType = "customer"
	CounterpartyBank     CounterpartyType = "bank"
)

func (t CounterpartyType) Valid() bool {
	switch t {
	case CounterpartySupplier, CounterpartyCustomer, CounterpartyBank:
		return true
	}
	return false
}

type Counterparty struct {
	ID        string           `json:"id"`
	Name      string           `json:"name"`
	TaxID     string           `json:"tax_id,omitempty"`
	Country   string           `json:"country,omitempty"`
	Type      CounterpartyType `json:"counterparty_type"`
	Category  string           `json:"category,omitempty"`
	IsActive  bool             `json:"is_active"`
	CreatedAt time.Time        `json:"created_at"`
}
