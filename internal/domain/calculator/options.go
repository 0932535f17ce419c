package calculator

// Option applies a configuration option to the Calculator.
type Option func(*Calculator)

// WithRootPower sets the root degree used for governance and reward weighting.
// Values outside [MinRootPower, MaxRootPower] make New fail.
func WithRootPower(n int) Option {
	return func(c *Calculator) {
		c.rootPower = n
	}
}

// WithScaleDigits sets the fixed-point scale used for root extraction.
func WithScaleDigits(digits int) Option {
	return func(c *Calculator) {
		c.scaleDigits = digits
	}
}
