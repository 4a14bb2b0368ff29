package presale

import (
	"math/big"

	"github.com/holiman/uint256"
)

// AffiliateDenominator is the parts-per-million scale of AffiliatePPM.
const AffiliateDenominator = 1_000_000

var affiliateDenominator = uint256.NewInt(AffiliateDenominator)

func cloneAmount(v *uint256.Int) *uint256.Int {
	if v == nil {
		return nil
	}
	return new(uint256.Int).Set(v)
}

func amountOrZero(v *uint256.Int) *uint256.Int {
	if v == nil {
		return new(uint256.Int)
	}
	return new(uint256.Int).Set(v)
}

func isPositive(v *uint256.Int) bool {
	return v != nil && !v.IsZero()
}

func checkedAdd(a, b *uint256.Int) (*uint256.Int, error) {
	sum, overflow := new(uint256.Int).AddOverflow(amountOrZero(a), amountOrZero(b))
	if overflow {
		return nil, ErrAmountOverflow
	}
	return sum, nil
}

// TokensFor converts a payment into sale-token units, truncating toward zero.
// The intermediate product is computed at 512 bits so only a result that does
// not fit in 256 bits is reported as an overflow.
func TokensFor(payment *uint256.Int, price Price) (*uint256.Int, error) {
	if !isPositive(price.PerPayment) {
		return nil, ErrInvalidConfig
	}
	tokens, overflow := new(uint256.Int).MulDivOverflow(amountOrZero(payment), amountOrZero(price.Tokens), price.PerPayment)
	if overflow {
		return nil, ErrAmountOverflow
	}
	return tokens, nil
}

// CommissionFor returns floor(payment * ppm / 1_000_000). With ppm bounded by
// AffiliateDenominator the commission never exceeds the payment.
func CommissionFor(payment *uint256.Int, ppm uint32) (*uint256.Int, error) {
	if ppm > AffiliateDenominator {
		return nil, ErrInvalidConfig
	}
	commission, overflow := new(uint256.Int).MulDivOverflow(amountOrZero(payment), uint256.NewInt(uint64(ppm)), affiliateDenominator)
	if overflow {
		return nil, ErrAmountOverflow
	}
	return commission, nil
}

// ParseAmount parses a base-10 amount. Scientific shorthand such as "2e17" is
// accepted because deployment parameters are commonly written that way.
func ParseAmount(raw string) (*uint256.Int, error) {
	if v, err := uint256.FromDecimal(raw); err == nil {
		return v, nil
	}
	f, ok := new(big.Float).SetPrec(1024).SetString(raw)
	if !ok || f.Sign() < 0 || !f.IsInt() {
		return nil, ErrInvalidAmount
	}
	// Reject before materialising the integer; exponents are attacker sized.
	if f.MantExp(nil) > 256 {
		return nil, ErrAmountOverflow
	}
	i, _ := f.Int(nil)
	v, overflow := uint256.FromBig(i)
	if overflow {
		return nil, ErrAmountOverflow
	}
	return v, nil
}

// FormatAmount renders an amount as a base-10 string, treating nil as zero.
func FormatAmount(v *uint256.Int) string {
	if v == nil {
		return "0"
	}
	return v.Dec()
}

func toBig(v *uint256.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return v.ToBig()
}

func fromBig(v *big.Int) (*uint256.Int, error) {
	if v == nil {
		return new(uint256.Int), nil
	}
	if v.Sign() < 0 {
		return nil, ErrInvalidAmount
	}
	out, overflow := uint256.FromBig(v)
	if overflow {
		return nil, ErrAmountOverflow
	}
	return out, nil
}
