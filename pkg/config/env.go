package config

const (
	EnvPrefix = "STORYLINE"

	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	DBDriverPostgres = "postgres"
	DBDriverSQLite   = "sqlite"

	EnvAppEnv          = "STORYLINE_APP_ENV"
	EnvPort            = "STORYLINE_APP_PORT"
	EnvDBDSN           = "STORYLINE_DB_DSN"
	EnvDBHost          = "STORYLINE_DB_HOST"
	EnvDBUser          = "STORYLINE_DB_USER"
	EnvDBName          = "STORYLINE_DB_NAME"
	EnvRedisURL        = "STORYLINE_REDIS_URL"
	EnvUseSQLite       = "STORYLINE_USE_SQLITE"
	EnvFingerprint     = "STORYLINE_FINGERPRINT_SECRET"
	EnvAdminAllowedIPs = "STORYLINE_ADMIN_ALLOWED_IPS"
	EnvAdminToken      = "STORYLINE_ADMIN_TOKEN"
	EnvCheckoutMinimum = "STORYLINE_CHECKOUT_MINIMUM_AMOUNT"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
