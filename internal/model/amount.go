package model

import (
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
)

const TokenDecimals = 9

var raoPerTao = decimal.New(1, TokenDecimals)

// ParseTao converts a human TAO amount such as "1.5" into rao.
func ParseTao(s string) (uint64, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	if !d.IsPositive() {
		return 0, fmt.Errorf("amount must be positive: %s", s)
	}
	rao := d.Mul(raoPerTao)
	if !rao.Equal(rao.Truncate(0)) {
		return 0, fmt.Errorf("amount %s has more than %d decimals", s, TokenDecimals)
	}
	bi := rao.BigInt()
	if !bi.IsUint64() {
		return 0, fmt.Errorf("amount %s out of range", s)
	}
	return bi.Uint64(), nil
}

// FormatTao renders rao as a TAO decimal string.
func FormatTao(rao uint64) string {
	return RaoDecimal(rao).Div(raoPerTao).StringFixed(TokenDecimals)
}

func RaoDecimal(rao uint64) decimal.Decimal {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(rao), 0)
}
