package config

const (
	EnvPrefix = "LASTBITE"

	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	EnvAppEnv   = "LASTBITE_APP_ENV"
	EnvPort     = "LASTBITE_APP_PORT"
	EnvLogLevel = "LASTBITE_LOG_LEVEL"

	EnvDBDSN  = "LASTBITE_DB_DSN"
	EnvDBHost = "LASTBITE_DB_HOST"
	EnvDBUser = "LASTBITE_DB_USER"
	EnvDBName = "LASTBITE_DB_NAME"

	EnvRedisURL  = "LASTBITE_REDIS_URL"
	EnvJWTSecret = "LASTBITE_JWT_SECRET"
	EnvJWTIssuer = "LASTBITE_JWT_ISSUER"

	EnvReservationTTL     = "LASTBITE_RESERVATION_TTL"
	EnvPickupCodeTTL      = "LASTBITE_PICKUP_CODE_TTL"
	EnvPlatformFeePercent = "LASTBITE_PLATFORM_FEE_PERCENT"
	EnvPaymentFirst       = "LASTBITE_PAYMENT_FIRST"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
