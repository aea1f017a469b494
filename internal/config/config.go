package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v9"
)

type Config struct {
	TelegramToken string `env:"BOT_TOKEN,required"`

	SpreadsheetID          string `env:"GOOGLE_SHEETS_ID,required"`
	ProductsWorksheet      string `env:"GOOGLE_SHEET_NAME" envDefault:"products"`
	UsersWorksheet         string `env:"GOOGLE_USERS_SHEET" envDefault:"users"`
	PromoSettingsWorksheet string `env:"GOOGLE_PROMO_SETTINGS_SHEET" envDefault:"promo_settings"`
	OrdersWorksheet        string `env:"GOOGLE_ORDERS_SHEET" envDefault:"orders"`
	ServiceAccountFile     string `env:"GOOGLE_SERVICE_ACCOUNT_FILE" envDefault:"service_account.json"`

	CRMAPIKey   string `env:"CRM_API_KEY,required"`
	CRMBaseURL  string `env:"CRM_API_BASE_URL,required"`
	CRMOfficeID int    `env:"CRM_OFFICE_ID,required"`
	CRMCountry  string `env:"CRM_COUNTRY" envDefault:"UA"`
	CRMSite     string `env:"CRM_SITE" envDefault:"telegram"`

	CustomersDBPath string `env:"CUSTOMERS_DB_PATH" envDefault:"customers.db"`

	RedisAddr     string        `env:"REDIS_ADDR,required"`
	RedisPassword string        `env:"REDIS_PASSWORD"`
	RedisDB       int           `env:"REDIS_DB" envDefault:"0"`
	SessionTTL    time.Duration `env:"SESSION_TTL" envDefault:"24h"`

	CacheUpdateInterval time.Duration `env:"CACHE_UPDATE_INTERVAL" envDefault:"5m"`
	PromoTickInterval   time.Duration `env:"PROMO_TICK_INTERVAL" envDefault:"5m"`
	BroadcastBatchSize  int           `env:"BROADCAST_BATCH_SIZE" envDefault:"20"`
	Timezone            string        `env:"BOT_TIMEZONE" envDefault:"Europe/Kyiv"`

	AdminIDs []int64 `env:"ADMIN_IDS" envSeparator:","`

	AfterOrderGroupURL  string `env:"AFTER_ORDER_GROUP_URL"`
	AfterOrderImagePath string `env:"AFTER_ORDER_IMAGE_PATH"`
}

func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}
