package payment

import (
	"fmt"
	"math/big"
	"strconv"

	xerrors "ToolPay-Chain/internal/errors"
)

// QuoteDecimals 是报价金额保留的小数位数。客户端按同一报价付款，
// 金额向上取整保证不会因为截断而少付。
const QuoteDecimals = 5

// weiPerQuoteUnit = 10^(18-QuoteDecimals)，把报价单位换算成 wei。
var weiPerQuoteUnit = new(big.Int).Exp(big.NewInt(10), big.NewInt(18-QuoteDecimals), nil)

// Quote 是针对一次工具调用派生出的临时报价。不落库，每次请求重新计算。
type Quote struct {
	PriceUSD       float64  `json:"price_usd"`
	ExchangeRate   float64  `json:"exchange_rate"`
	RequiredNative string   `json:"required_native"`
	RequiredWei    *big.Int `json:"-"`
}

// NewQuote 按当前汇率把美元价格换算为原生代币数量，并向上取整到
// QuoteDecimals 位小数。浮点先经最短十进制表示转成有理数再相除：
// 0.05 这类十进制价格按 1/20 参与运算，而不是按二进制近似值，
// 整除的价格不会被多收一个最小单位。
func NewQuote(priceUSD, exchangeRate float64) (*Quote, error) {
	if priceUSD < 0 {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "价格不能为负数")
	}
	if exchangeRate <= 0 {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "汇率必须大于零")
	}

	price, ok := new(big.Rat).SetString(strconv.FormatFloat(priceUSD, 'f', -1, 64))
	if !ok {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "价格不是有限数")
	}
	rate, ok := new(big.Rat).SetString(strconv.FormatFloat(exchangeRate, 'f', -1, 64))
	if !ok {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "汇率不是有限数")
	}

	// required = price / rate，放大 10^QuoteDecimals 后对分数向上取整。
	required := new(big.Rat).Quo(price, rate)
	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(QuoteDecimals), nil)
	scaled := new(big.Rat).Mul(required, new(big.Rat).SetInt(scale))
	units := new(big.Int).Quo(scaled.Num(), scaled.Denom())
	if new(big.Int).Mul(units, scaled.Denom()).Cmp(scaled.Num()) != 0 {
		units.Add(units, big.NewInt(1))
	}

	return &Quote{
		PriceUSD:       priceUSD,
		ExchangeRate:   exchangeRate,
		RequiredNative: formatUnits(units),
		RequiredWei:    new(big.Int).Mul(units, weiPerQuoteUnit),
	}, nil
}

// formatUnits 把放大后的整数格式化为固定 QuoteDecimals 位小数的字符串。
func formatUnits(units *big.Int) string {
	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(QuoteDecimals), nil)
	whole := new(big.Int)
	frac := new(big.Int)
	whole.QuoRem(units, scale, frac)
	return fmt.Sprintf("%s.%0*s", whole.String(), QuoteDecimals, frac.String())
}
