package paymentmethod

import (
	"github.com/smallbiznis/billsync/internal/paymentmethod/repository"
	"github.com/smallbiznis/billsync/internal/paymentmethod/service"
	"go.uber.org/fx"
)

var Module = fx.Module("paymentmethod.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
