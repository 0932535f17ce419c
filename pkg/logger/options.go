package logger

// Output formats.
const (
	FormatText = "text"
	FormatJSON = "json"
)

type options struct {
	file       string
	format     string
	maxSizeMB  int
	maxBackups int
	maxAgeDays int
	compress   bool
}

// Option configures InitWithOptions.
type Option func(*options)

// WithFile additionally writes logs to path, rotated by size.
func WithFile(path string) Option {
	return func(o *options) {
		o.file = path
	}
}

// WithFormat selects FormatText or FormatJSON. Empty keeps the default.
func WithFormat(format string) Option {
	return func(o *options) {
		if format != "" {
			o.format = format
		}
	}
}

// WithRotation sets the rotation limits of the log file.
func WithRotation(maxSizeMB, maxBackups, maxAgeDays int, compress bool) Option {
	return func(o *options) {
		if maxSizeMB > 0 {
			o.maxSizeMB = maxSizeMB
		}
		if maxBackups >= 0 {
			o.maxBackups = maxBackups
		}
		if maxAgeDays >= 0 {
			o.maxAgeDays = maxAgeDays
		}
		o.compress = compress
	}
}
