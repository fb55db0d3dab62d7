package optname

// Flag names shared between command wiring and config resolution.
const (
	APIKey         = "api-key"
	APISecret      = "api-secret"
	BaseURL        = "base-url"
	Concurrency    = "concurrency"
	ConfigFile     = "config"
	ConnTimeout    = "connect-timeout"
	Force          = "force"
	LoggingLevel   = "log-level"
	RequestTimeout = "request-timeout"
	Resume         = "resume"
	Retries        = "retries"
	Tenancy        = "tenancy"
	UserID         = "user-id"
	Verbose        = "verbose"
	VerifyChecksum = "verify-checksum"
)
