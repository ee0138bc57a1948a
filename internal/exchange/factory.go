package exchange

import (
	"fmt"
	"strings"
)

// SupportedExchanges - список поддерживаемых режимов исполнения
var SupportedExchanges = []string{
	"paper",
	"gateway",
}

// Options - параметры создания биржи
type Options struct {
	Paper   PaperConfig
	Gateway GatewayConfig
	Hub     *FillHub
}

// NewExchange создает биржу по имени режима
func NewExchange(name string, opts Options) (Exchange, error) {
	name = strings.ToLower(name)

	switch name {
	case "paper":
		if opts.Hub == nil {
			return nil, fmt.Errorf("paper exchange requires a fill hub")
		}
		return NewPaper(opts.Paper, opts.Hub), nil
	case "gateway":
		gw, err := NewGateway(opts.Gateway)
		if err != nil {
			return nil, err
		}
		return gw, nil
	default:
		return nil, fmt.Errorf("unsupported exchange: %s", name)
	}
}

// IsSupported проверяет, поддерживается ли режим
func IsSupported(name string) bool {
	name = strings.ToLower(name)
	for _, supported := range SupportedExchanges {
		if name == supported {
			return true
		}
	}
	return false
}
