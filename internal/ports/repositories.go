package ports

import (
	"context"

	"pump-control/internal/domain/exchange"
)

// UnitOfWork interface is used to manage transactions across multiple repository operations.
type UnitOfWork interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// ExchangeRepository stores settled relay exchanges.
type ExchangeRepository interface {
	Append(ctx context.Context, ex *exchange.Exchange) error
}
