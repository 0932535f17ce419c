package calculator

import (
	"fmt"
	"math"
	"math/big"

	"github.com/okian/halom/internal/domain/model"
)

// DefaultScaleDigits is the fixed-point scale (10^18) used by NthRoot.
const DefaultScaleDigits = 18

const (
	minScaleDigits = 0
	maxScaleDigits = 60
	floatPrec      = 512
)

// NthRoot returns the n-th root of x using DefaultScaleDigits of fixed-point
// precision. x must be finite and non-negative, n must be at least 1.
func NthRoot(x float64, n int) (float64, error) {
	return NthRootScaled(x, n, DefaultScaleDigits)
}

// FourthRoot returns NthRoot(x, 4).
func FourthRoot(x float64) (float64, error) {
	return NthRoot(x, 4)
}

// NthRootScaled returns the n-th root of x computed by integer Newton
// iteration on x scaled by 10^scaleDigits.
//
// The radicand X·S^(n-1) is held as a big.Int so the repeated power term
// never overflows, whatever the magnitude of x or n. The iteration starts
// above the true root and stops as soon as the estimate stops decreasing,
// which leaves floor(root(x)·S).
//
// For n >= 3 a positive x below 10^-scaleDigits truncates to zero at the
// scale and the result is 0, not an error. Degrees 1 and 2 take the float
// path and keep full precision.
func NthRootScaled(x float64, n, scaleDigits int) (float64, error) {
	switch {
	case n < 1:
		return 0, fmt.Errorf("%w: root degree %d", model.ErrInvalidInput, n)
	case math.IsNaN(x) || math.IsInf(x, 0):
		return 0, fmt.Errorf("%w: non-finite radicand", model.ErrInvalidInput)
	case x < 0:
		return 0, fmt.Errorf("%w: negative radicand %g", model.ErrInvalidInput, x)
	case scaleDigits < minScaleDigits || scaleDigits > maxScaleDigits:
		return 0, fmt.Errorf("%w: scale digits %d", model.ErrInvalidInput, scaleDigits)
	}

	switch {
	case x == 0:
		return 0, nil
	case n == 1:
		return x, nil
	case n == 2:
		return math.Sqrt(x), nil
	}

	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(scaleDigits)), nil)
	scaled, _ := new(big.Float).SetPrec(floatPrec).Mul(
		new(big.Float).SetPrec(floatPrec).SetFloat64(x),
		new(big.Float).SetPrec(floatPrec).SetInt(scale),
	).Int(nil)
	if scaled.Sign() == 0 {
		return 0, nil
	}

	degree := big.NewInt(int64(n))
	degreeMinusOne := big.NewInt(int64(n - 1))

	// radicand = X · S^(n-1), so that root(radicand) = root(x) · S.
	radicand := new(big.Int).Mul(scaled, new(big.Int).Exp(scale, degreeMinusOne, nil))

	z := initialEstimate(x, n, scale)
	for new(big.Int).Exp(z, degree, nil).Cmp(radicand) < 0 {
		z.Lsh(z, 1)
	}

	y := new(big.Int)
	pow := new(big.Int)
	for {
		// y = ((n-1)·z + radicand / z^(n-1)) / n
		pow.Exp(z, degreeMinusOne, nil)
		y.Quo(radicand, pow)
		y.Add(y, new(big.Int).Mul(degreeMinusOne, z))
		y.Quo(y, degree)
		if y.Cmp(z) >= 0 {
			break
		}
		z.Set(y)
	}

	root, _ := new(big.Float).SetPrec(floatPrec).Quo(
		new(big.Float).SetPrec(floatPrec).SetInt(z),
		new(big.Float).SetPrec(floatPrec).SetInt(scale),
	).Float64()
	return root, nil
}

// initialEstimate seeds the iteration slightly above the floating point root.
func initialEstimate(x float64, n int, scale *big.Int) *big.Int {
	guess := math.Pow(x, 1/float64(n)) * 1.001
	z, _ := new(big.Float).SetPrec(floatPrec).Mul(
		new(big.Float).SetPrec(floatPrec).SetFloat64(guess),
		new(big.Float).SetPrec(floatPrec).SetInt(scale),
	).Int(nil)
	return z.Add(z, big.NewInt(1))
}
