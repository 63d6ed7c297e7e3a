package providers

import (
	"github.com/smallbiznis/billsync/internal/providers/pdf"
	"go.uber.org/fx"
)

var Module = fx.Module("providers",
	pdf.Module,
)
