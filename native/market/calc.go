package market

import (
	"fmt"
	"math/big"

	"github.com/holiman/uint256"
)

// BasisPointsDenominator is the divisor for every rate: 10000 = 100%.
const BasisPointsDenominator = 10_000

var bpsDenominator = uint256.NewInt(BasisPointsDenominator)

// MarginAndFee computes floor(total*marginBps/10000) and
// floor(total*feeBps/10000). Values and intermediates are bounded to 256 bits;
// anything larger fails with ErrArithmeticOverflow.
func MarginAndFee(totalPrice *big.Int, marginBps, feeBps uint32) (*big.Int, *big.Int, error) {
	total, err := toUint256(totalPrice)
	if err != nil {
		return nil, nil, err
	}
	margin, err := applyBps(total, marginBps)
	if err != nil {
		return nil, nil, err
	}
	fee, err := applyBps(total, feeBps)
	if err != nil {
		return nil, nil, err
	}
	return margin.ToBig(), fee.ToBig(), nil
}

// TotalPrice returns quantity*unitPrice under the same 256-bit bound.
func TotalPrice(quantity uint64, unitPrice *big.Int) (*big.Int, error) {
	price, err := toUint256(unitPrice)
	if err != nil {
		return nil, err
	}
	total, overflow := new(uint256.Int).MulOverflow(price, uint256.NewInt(quantity))
	if overflow {
		return nil, fmt.Errorf("%w: %d x %s", ErrArithmeticOverflow, quantity, unitPrice)
	}
	return total.ToBig(), nil
}

// SumAmounts adds amounts under the 256-bit bound.
func SumAmounts(amounts ...*big.Int) (*big.Int, error) {
	sum := new(uint256.Int)
	for _, amt := range amounts {
		v, err := toUint256(amt)
		if err != nil {
			return nil, err
		}
		var overflow bool
		sum, overflow = new(uint256.Int).AddOverflow(sum, v)
		if overflow {
			return nil, fmt.Errorf("%w: sum exceeds 256 bits", ErrArithmeticOverflow)
		}
	}
	return sum.ToBig(), nil
}

func applyBps(total *uint256.Int, bps uint32) (*uint256.Int, error) {
	product, overflow := new(uint256.Int).MulOverflow(total, uint256.NewInt(uint64(bps)))
	if overflow {
		return nil, fmt.Errorf("%w: %s x %d bps", ErrArithmeticOverflow, total.Dec(), bps)
	}
	return product.Div(product, bpsDenominator), nil
}

func toUint256(v *big.Int) (*uint256.Int, error) {
	if v == nil {
		return new(uint256.Int), nil
	}
	if v.Sign() < 0 {
		return nil, fmt.Errorf("%w: negative amount %s", ErrInvalidArgument, v)
	}
	out, overflow := uint256.FromBig(v)
	if overflow {
		return nil, fmt.Errorf("%w: %s exceeds 256 bits", ErrArithmeticOverflow, v)
	}
	return out, nil
}
