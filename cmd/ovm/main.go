package main

import (
	"context"
	"os"
	"strconv"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/arcadia-markets/ovm/internal/collateral"
	"github.com/arcadia-markets/ovm/internal/config"
	"github.com/arcadia-markets/ovm/internal/engine"
	"github.com/arcadia-markets/ovm/internal/hedger"
	"github.com/arcadia-markets/ovm/internal/ledger"
	"github.com/arcadia-markets/ovm/internal/logger"
	"github.com/arcadia-markets/ovm/internal/oracle"
	"github.com/arcadia-markets/ovm/internal/pool"
	"github.com/arcadia-markets/ovm/internal/pricing"
	"github.com/arcadia-markets/ovm/internal/state"
	"github.com/arcadia-markets/ovm/internal/web"
)

const (
	LOOP_INTERVAL = 10 * time.Minute

	DEFAULT_PARAMS_VERSION = 1
)

// main is the entry point for the OVM system.
func main() {
	// --- 1. Initialization Phase ---
	if err := godotenv.Load(); err != nil {
		log.Warn().Msg("Warning: .env file not found. Relying on OS environment variables.")
	}

	// Load configuration from environment variables
	if err := config.LoadConfig(); err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logger.Initialize(os.Getenv("LOG_LEVEL"))
	log.Info().Str("market", config.MarketName).Msg("OVM Core Logic Starting...")

	// Initialize Database Connection (parameters and cycle snapshots)
	dbCfg := state.DBConfig{
		Host: os.Getenv("DB_HOST"), Port: mustAtoi(os.Getenv("DB_PORT"), 5432),
		User: os.Getenv("DB_USER"), Password: os.Getenv("DB_PASSWORD"),
		DBName: os.Getenv("DB_NAME"), SSLMode: os.Getenv("DB_SSLMODE"),
	}
	if err := state.InitDB(dbCfg); err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize database")
	}
	defer state.CloseDB()
	if err := state.EnsureSchema(); err != nil {
		log.Fatal().Err(err).Msg("Failed to ensure database schema")
	}

	// Load the parameter bundle for this market
	params, err := state.LoadActiveParameters(config.MarketName)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to load active parameters, using defaults and saving.")
		defaultParams := config.DefaultParameters
		if _, err := state.SaveParameters(defaultParams, config.MarketName, DEFAULT_PARAMS_VERSION, true); err != nil {
			log.Fatal().Err(err).Msg("Failed to save initial default parameters.")
		}
		params = &defaultParams
	}
	log.Info().Msg("Parameters loaded successfully.")

	// --- 2. Market Adapter Initialization (with Safety Switch) ---
	// The only adapter currently wired is the in-memory one: a fixed spot and
	// fee schedule supplied by environment. Deploying against a live venue
	// means implementing oracle.PriceFeed and oracle.Exchange for it.
	ovmMode := os.Getenv("OVM_MODE")
	if ovmMode != "static" {
		log.Fatal().Msg("OVM_MODE is not set to 'static'. Halting to prevent accidental execution. Set OVM_MODE=static to run against the in-memory market adapter.")
	}

	spot, err := sdkmath.LegacyNewDecFromStr(os.Getenv("OVM_SPOT_PRICE"))
	if err != nil {
		log.Fatal().Err(err).Msg("OVM_SPOT_PRICE must be a valid decimal")
	}
	quoteBaseFee := mustDec(os.Getenv("OVM_QUOTE_BASE_FEE"), "0")
	baseQuoteFee := mustDec(os.Getenv("OVM_BASE_QUOTE_FEE"), "0")
	market := oracle.NewStatic(spot, config.QuoteDenom, config.BaseDenom, quoteBaseFee, baseQuoteFee)
	log.Info().Str("spot", spot.String()).Msg("In-memory market adapter initialized")

	// --- 3. Engine Assembly ---
	log.Info().Msg("Assembling option market engines...")

	optionLedger := ledger.NewLedger()

	model := pricing.NewBlackScholes()
	cache, err := ledger.NewGreekCache(params.GreekCache, model)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create greek cache")
	}

	collat, err := collateral.NewEngine(params.MinCollateral, params.ForceClose, params.Liquidation, params.GreekCache.RateAndCarry, model)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create collateral engine")
	}

	liquidityPool, err := pool.New(pool.Config{
		Params:       params.Pool,
		QuoteDenom:   config.QuoteDenom,
		BaseDenom:    config.BaseDenom,
		Feed:         market,
		Exchange:     market,
		Ledger:       optionLedger,
		GreekCache:   cache,
		Collateral:   collat,
		Model:        model,
		RateAndCarry: params.GreekCache.RateAndCarry,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create liquidity pool")
	}

	deltaHedger, err := hedger.NewSynthetic(params.Hedger, market, market, liquidityPool.HedgerNetDelta(), liquidityPool.HedgerFunding())
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create delta hedger")
	}
	liquidityPool.SetHedger(deltaHedger)

	// --- Start Web Server ---
	webServer := web.NewWebServer(config.WebPort, liquidityPool)
	go func() {
		log.Info().Str("port", config.WebPort).Str("url", "http://localhost:"+config.WebPort).Msg("Starting OVM status API")
		if err := webServer.Start(); err != nil {
			log.Error().Err(err).Msg("Web server failed to start")
		}
	}()

	// --- 4. Start Engine Main Loop ---
	engineInstance, err := engine.New(engine.Config{
		Pool:       liquidityPool,
		Ledger:     optionLedger,
		Hedger:     deltaHedger,
		Feed:       market,
		ConfigName: config.MarketName,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create engine instance")
	}

	log.Info().Str("interval", LOOP_INTERVAL.String()).Msg("Starting OVM main loop")

	ctx := context.Background()
	engineInstance.RunLoop(ctx, LOOP_INTERVAL)
}

// Helper to convert string to int with a default value
func mustAtoi(s string, defaultValue int) int {
	i, err := strconv.Atoi(s)
	if err != nil {
		return defaultValue
	}
	return i
}

// Helper to parse a decimal with a default value for unset variables
func mustDec(s, defaultValue string) sdkmath.LegacyDec {
	if s == "" {
		s = defaultValue
	}
	d, err := sdkmath.LegacyNewDecFromStr(s)
	if err != nil {
		log.Fatal().Str("value", s).Msg("Invalid decimal environment value")
	}
	return d
}
