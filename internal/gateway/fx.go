package gateway

import (
	"github.com/smallbiznis/billsync/internal/gateway/razorpay"
	"go.uber.org/fx"
)

var Module = fx.Module("gateway",
	fx.Provide(razorpay.New),
)
