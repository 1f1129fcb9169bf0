// Package config loads the process-wide typed configuration tree once at
// startup, following the teacher's LoadFromEnv convention: godotenv for a
// local .env file, os.Getenv plus small typed helpers for everything else.
// Configuration is read-only after Load returns.
package config

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"kis-trader/internal/domain"
)

// Config is the full process configuration tree.
type Config struct {
	Database DatabaseConfig
	Redis    RedisConfig
	KIS      KISConfig
	Risk     RiskConfig
	Scanner  ScannerConfig
	Sell     SellConfig
	Signal   SignalConfig
	Scoring  ScoringConfig
	Scout    ScoutConfig
	Telegram TelegramConfig
	Infra    InfraConfig
	DryRun   bool
}

// IsMock reports whether the process should never place a real order.
func (c *Config) IsMock() bool {
	return c.KIS.IsPaper || c.DryRun
}

type DatabaseConfig struct {
	Host     string
	Port     string
	Name     string
	User     string
	Password string
	SSLMode  string
}

// DSN renders the Postgres connection string gorm's postgres driver expects.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%s dbname=%s user=%s password=%s sslmode=%s",
		d.Host, d.Port, d.Name, d.User, d.Password, d.SSLMode)
}

type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
}

type KISConfig struct {
	AppKey        string
	AppSecret     string
	BaseURL       string
	WSURL         string
	AccountNo     string
	IsPaper       bool
	TokenFilePath string
	GatewayURL    string
}

// RiskConfig carries the Buy Executor's pre-trade gates and Portfolio
// Guard thresholds.
type RiskConfig struct {
	HardFloorScore        float64
	CorrelationBlockThreshold float64
	MaxBuyCountPerDay     int
	MaxPortfolioSize      int
	MaxSectorStocks       int
	MaxSectorValuePct     float64
	MaxStockValuePct      float64
	PortfolioHeatLimitPct float64
	StoplossCooldownDays  int
	// GuardEnabled is the Portfolio Guard's overall kill switch; false runs
	// the guard in shadow mode (unconditional pass; no check is evaluated).
	GuardEnabled bool
	// DynamicSectorBudgetEnabled gates the sector_budget:active Redis hash
	// lookup; when false (or the hash has no entry for the sector) the
	// guard falls back to MaxSectorStocks.
	DynamicSectorBudgetEnabled bool
	// CashFloorPctByRegime is the minimum post-buy cash ratio, indexed by regime.
	CashFloorPctByRegime map[domain.MarketRegime]float64
}

// ScannerConfig carries the Signal Detector's gate cascade and strategy params.
type ScannerConfig struct {
	MinBars                 int
	NoTradeWindowStart      string // "HH:MM" KST
	NoTradeWindowEnd        string
	DangerZoneStart         string
	DangerZoneEnd           string
	RSICapDefault           float64
	RSICapBull              float64
	SellCooldownSec         int
	MomentumMaxGainPct      float64
	MomentumConfirmationBars int
	ConvictionEntryEnabled  bool
	ConvictionMinHybridScore float64
	ConvictionMinLLMScore   float64
	ConvictionWindowStart   string
	ConvictionWindowEnd     string
	ConvictionMaxGainPct    float64
	RSIReboundThresholdByRegime map[domain.MarketRegime]float64
}

// SellConfig carries the Position Monitor's exit-rule thresholds.
type SellConfig struct {
	StopLossPct                float64
	ProfitTargetPct            float64
	ProfitFloorActivationPct   float64
	ProfitFloorLevelPct        float64
	TrailingActivationPct      float64
	TrailingMinProfitPct       float64
	TrailingDropByRegime       map[domain.MarketRegime]float64
	ScaleOutLevelsByRegime     map[domain.MarketRegime][]float64
	MaxHoldingDaysByRegime     map[domain.MarketRegime]int
}

// SignalConfig carries thresholds shared by both gate and exit evaluation.
type SignalConfig struct {
	RSIOverboughtThreshold float64
	LimitOrderPremiumPct   float64
	MomentumLimitTimeoutSec int
}

// ScoringConfig is a pass-through: the core reads these but never writes them.
type ScoringConfig struct {
	HardFloor float64
}

// ScoutConfig is a pass-through: watchlist sizing the core never mutates.
type ScoutConfig struct {
	WatchlistSize int
}

type TelegramConfig struct {
	BotToken string
	ChatID   string
}

type InfraConfig struct {
	SnapshotBucket string
	SnapshotRegion string
}

// Load reads the process configuration from the environment, falling back
// to a local .env file if present.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		// absence of a .env file is normal in production; not fatal.
		_ = err
	}

	cfg := &Config{
		Database: DatabaseConfig{
			Host:     getEnvOrDefault("DB_HOST", "localhost"),
			Port:     getEnvOrDefault("DB_PORT", "5432"),
			Name:     getEnvOrDefault("DB_NAME", "kis_trader"),
			User:     getEnvOrDefault("DB_USER", "kis_trader"),
			Password: getEnvOrDefault("DB_PASSWORD", ""),
			SSLMode:  getEnvOrDefault("DB_SSLMODE", "disable"),
		},
		Redis: RedisConfig{
			Host:     getEnvOrDefault("REDIS_HOST", "localhost"),
			Port:     getEnvOrDefault("REDIS_PORT", "6379"),
			Password: getEnvOrDefault("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		KIS: KISConfig{
			AppKey:        os.Getenv("KIS_APP_KEY"),
			AppSecret:     os.Getenv("KIS_APP_SECRET"),
			BaseURL:       getEnvOrDefault("KIS_BASE_URL", "https://openapi.koreainvestment.com:9443"),
			WSURL:         getEnvOrDefault("KIS_WS_URL", "ws://ops.koreainvestment.com:21000"),
			AccountNo:     os.Getenv("KIS_ACCOUNT_NO"),
			IsPaper:       getEnvBool("KIS_IS_PAPER", false),
			TokenFilePath: getEnvOrDefault("KIS_TOKEN_FILE_PATH", "/tmp/kis_token.json"),
			GatewayURL:    getEnvOrDefault("KIS_GATEWAY_URL", "http://localhost:8080"),
		},
		Risk: RiskConfig{
			HardFloorScore:            getEnvFloat("RISK_HARD_FLOOR_SCORE", 40.0),
			CorrelationBlockThreshold: getEnvFloat("RISK_CORRELATION_BLOCK_THRESHOLD", 0.85),
			MaxBuyCountPerDay:         getEnvInt("RISK_MAX_BUY_COUNT_PER_DAY", 10),
			MaxPortfolioSize:          getEnvInt("RISK_MAX_PORTFOLIO_SIZE", 20),
			MaxSectorStocks:           getEnvInt("RISK_MAX_SECTOR_STOCKS", 3),
			MaxSectorValuePct:         getEnvFloat("RISK_MAX_SECTOR_VALUE_PCT", 30.0),
			MaxStockValuePct:          getEnvFloat("RISK_MAX_STOCK_VALUE_PCT", 18.0),
			PortfolioHeatLimitPct:     getEnvFloat("RISK_PORTFOLIO_HEAT_LIMIT_PCT", 5.0),
			StoplossCooldownDays:      getEnvInt("RISK_STOPLOSS_COOLDOWN_DAYS", 3),
			GuardEnabled:               getEnvBool("RISK_GUARD_ENABLED", true),
			DynamicSectorBudgetEnabled: getEnvBool("RISK_DYNAMIC_SECTOR_BUDGET_ENABLED", false),
			CashFloorPctByRegime: map[domain.MarketRegime]float64{
				domain.RegimeStrongBull: 5.0,
				domain.RegimeBull:       10.0,
				domain.RegimeSideways:   15.0,
				domain.RegimeBear:       25.0,
				domain.RegimeStrongBear: 25.0,
			},
		},
		Scanner: ScannerConfig{
			MinBars:                  getEnvInt("SCANNER_MIN_BARS", 20),
			NoTradeWindowStart:       getEnvOrDefault("SCANNER_NO_TRADE_START", "09:00"),
			NoTradeWindowEnd:         getEnvOrDefault("SCANNER_NO_TRADE_END", "09:15"),
			DangerZoneStart:          getEnvOrDefault("SCANNER_DANGER_ZONE_START", "14:00"),
			DangerZoneEnd:            getEnvOrDefault("SCANNER_DANGER_ZONE_END", "15:00"),
			RSICapDefault:            getEnvFloat("SCANNER_RSI_CAP_DEFAULT", 75.0),
			RSICapBull:               getEnvFloat("SCANNER_RSI_CAP_BULL", 85.0),
			SellCooldownSec:          getEnvInt("SCANNER_SELL_COOLDOWN_SEC", 600),
			MomentumMaxGainPct:       getEnvFloat("SCANNER_MOMENTUM_MAX_GAIN_PCT", 7.0),
			MomentumConfirmationBars: getEnvInt("SCANNER_MOMENTUM_CONFIRMATION_BARS", 1),
			ConvictionEntryEnabled:   getEnvBool("SCANNER_CONVICTION_ENTRY_ENABLED", true),
			ConvictionMinHybridScore: getEnvFloat("SCANNER_CONVICTION_MIN_HYBRID_SCORE", 70.0),
			ConvictionMinLLMScore:    getEnvFloat("SCANNER_CONVICTION_MIN_LLM_SCORE", 72.0),
			ConvictionWindowStart:    getEnvOrDefault("SCANNER_CONVICTION_WINDOW_START", "09:15"),
			ConvictionWindowEnd:      getEnvOrDefault("SCANNER_CONVICTION_WINDOW_END", "10:30"),
			ConvictionMaxGainPct:     getEnvFloat("SCANNER_CONVICTION_MAX_GAIN_PCT", 3.0),
			RSIReboundThresholdByRegime: map[domain.MarketRegime]float64{
				domain.RegimeSideways:   40.0,
				domain.RegimeBear:       30.0,
				domain.RegimeStrongBear: 25.0,
			},
		},
		Sell: SellConfig{
			StopLossPct:              getEnvFloat("SELL_STOP_LOSS_PCT", 7.0),
			ProfitTargetPct:          getEnvFloat("SELL_PROFIT_TARGET_PCT", 20.0),
			ProfitFloorActivationPct: getEnvFloat("SELL_PROFIT_FLOOR_ACTIVATION_PCT", 15.0),
			ProfitFloorLevelPct:      getEnvFloat("SELL_PROFIT_FLOOR_LEVEL_PCT", 10.0),
			TrailingActivationPct:    getEnvFloat("SELL_TRAILING_ACTIVATION_PCT", 5.0),
			TrailingMinProfitPct:     getEnvFloat("SELL_TRAILING_MIN_PROFIT_PCT", 3.0),
			TrailingDropByRegime: map[domain.MarketRegime]float64{
				domain.RegimeStrongBull: 3.0,
				domain.RegimeBull:       3.0,
				domain.RegimeSideways:   3.5,
				domain.RegimeBear:       3.5,
				domain.RegimeStrongBear: 4.0,
			},
			ScaleOutLevelsByRegime: map[domain.MarketRegime][]float64{
				domain.RegimeStrongBull: {3.0, 7.0, 15.0, 25.0},
				domain.RegimeBull:       {3.0, 7.0, 15.0, 25.0},
				domain.RegimeSideways:   {3.0, 7.0, 12.0, 18.0},
				domain.RegimeBear:       {2.0, 5.0, 8.0, 12.0},
				domain.RegimeStrongBear: {2.0, 5.0, 8.0, 12.0},
			},
			MaxHoldingDaysByRegime: map[domain.MarketRegime]int{
				domain.RegimeStrongBull: 20,
				domain.RegimeBull:       20,
				domain.RegimeSideways:   35,
				domain.RegimeBear:       35,
				domain.RegimeStrongBear: 35,
			},
		},
		Signal: SignalConfig{
			RSIOverboughtThreshold:  getEnvFloat("SIGNAL_RSI_OVERBOUGHT_THRESHOLD", 75.0),
			LimitOrderPremiumPct:    getEnvFloat("SIGNAL_LIMIT_ORDER_PREMIUM_PCT", -0.5),
			MomentumLimitTimeoutSec: getEnvInt("SIGNAL_MOMENTUM_LIMIT_TIMEOUT_SEC", 30),
		},
		Scoring: ScoringConfig{
			HardFloor: getEnvFloat("SCORING_HARD_FLOOR", 40.0),
		},
		Scout: ScoutConfig{
			WatchlistSize: getEnvInt("SCOUT_WATCHLIST_SIZE", 50),
		},
		Telegram: TelegramConfig{
			BotToken: os.Getenv("TELEGRAM_BOT_TOKEN"),
			ChatID:   os.Getenv("TELEGRAM_CHAT_ID"),
		},
		Infra: InfraConfig{
			SnapshotBucket: os.Getenv("INFRA_SNAPSHOT_BUCKET"),
			SnapshotRegion: getEnvOrDefault("INFRA_SNAPSHOT_REGION", "ap-northeast-2"),
		},
		DryRun: getEnvBool("DRYRUN", false),
	}

	return cfg, nil
}

func getEnvInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	var out int
	if _, err := fmt.Sscanf(v, "%d", &out); err != nil {
		return def
	}
	return out
}

func getEnvFloat(key string, def float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	var out float64
	if _, err := fmt.Sscanf(v, "%f", &out); err != nil {
		return def
	}
	return out
}

func getEnvBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v == "true" || v == "1"
}

func getEnvOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
