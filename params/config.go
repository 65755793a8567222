package params

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
)

// Devnet defaults for the system accounts. Real deployments set them.
var (
	DefaultCustody       = common.HexToAddress("0x000000000000000000000000000000000000c057")
	DefaultCommunityFund = common.HexToAddress("0x000000000000000000000000000000000000f00d")
)

type Exchange struct {
	Admin            common.Address
	Custody          common.Address
	CommunityFund    common.Address
	Treasury         common.Address // zero means CommunityFund
	FeePercent       int64
	MaxOrdersPerUser int
}

type Node struct {
	ChainID int64
	// DataDir holds the Pebble database. Empty runs fully in memory.
	DataDir string
	// MinBlockTime is how often the sequencer cuts a block. Empty blocks are
	// never produced, so an idle node does no work.
	MinBlockTime time.Duration
	MempoolSize  int
	LogFile      string
	LogLevel     string
	// TxGen feeds generated traffic from funded simulated traders.
	// TxGenMode is "default" or "high".
	TxGen     bool
	TxGenMode string
}

type API struct {
	Addr          string
	CORSOrigins   []string
	FaucetEnabled bool
}

type Config struct {
	Exchange Exchange
	Node     Node
	API      API
}

func Default() Config {
	return Config{
		Exchange: Exchange{
			Custody:          DefaultCustody,
			CommunityFund:    DefaultCommunityFund,
			FeePercent:       1,
			MaxOrdersPerUser: 100,
		},
		Node: Node{
			ChainID:      1337,
			DataDir:      "data/chain",
			MinBlockTime: 200 * time.Millisecond,
			MempoolSize:  10_000,
			LogFile:      "data/node.log",
			LogLevel:     "info",
		},
		API: API{
			Addr:        ":8080",
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:3001"},
		},
	}
}

// LoadFromEnv loads configuration from .env file (if exists) and environment variables
// Priority: ENV > .env file > defaults
func LoadFromEnv(envPath string) (Config, error) {
	cfg := Default()

	// Try to load .env file (optional - won't fail if not exists)
	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load() // loads .env from current directory
	}

	var errs []error
	address := func(key string, dst *common.Address) {
		v := os.Getenv(key)
		if v == "" {
			return
		}
		if !common.IsHexAddress(v) {
			errs = append(errs, fmt.Errorf("%s: invalid address %q", key, v))
			return
		}
		*dst = common.HexToAddress(v)
	}
	integer := func(key string, set func(int64)) {
		v := os.Getenv(key)
		if v == "" {
			return
		}
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", key, err))
			return
		}
		set(n)
	}

	address("ADMIN_ADDRESS", &cfg.Exchange.Admin)
	address("CUSTODY_ADDRESS", &cfg.Exchange.Custody)
	address("COMMUNITY_FUND_ADDRESS", &cfg.Exchange.CommunityFund)
	address("TREASURY_ADDRESS", &cfg.Exchange.Treasury)
	integer("FEE_PERCENT", func(n int64) { cfg.Exchange.FeePercent = n })
	integer("MAX_ORDERS_PER_USER", func(n int64) { cfg.Exchange.MaxOrdersPerUser = int(n) })

	integer("CHAIN_ID", func(n int64) { cfg.Node.ChainID = n })
	integer("NODE_MIN_BLOCK_TIME_MS", func(n int64) { cfg.Node.MinBlockTime = time.Duration(n) * time.Millisecond })
	integer("MEMPOOL_SIZE", func(n int64) { cfg.Node.MempoolSize = int(n) })
	if v, ok := os.LookupEnv("DATA_DIR"); ok {
		cfg.Node.DataDir = v
	}
	cfg.Node.LogFile = getEnv("LOG_FILE", cfg.Node.LogFile)
	cfg.Node.LogLevel = getEnv("LOG_LEVEL", cfg.Node.LogLevel)
	cfg.Node.TxGen = os.Getenv("ENABLE_TXGEN") == "true"
	cfg.Node.TxGenMode = getEnv("TXGEN_MODE", "default")

	cfg.API.Addr = getEnv("API_ADDR", cfg.API.Addr)
	if origins := os.Getenv("CORS_ORIGINS"); origins != "" {
		cfg.API.CORSOrigins = splitList(origins)
	}
	if v := os.Getenv("FAUCET_ENABLED"); v != "" {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("FAUCET_ENABLED: %w", err))
		}
		cfg.API.FaucetEnabled = enabled
	}

	return cfg, errors.Join(errs...)
}

// Validate rejects configurations the exchange cannot start with
func (c Config) Validate() error {
	if c.Exchange.Admin == (common.Address{}) {
		return errors.New("ADMIN_ADDRESS is required")
	}
	if c.Exchange.Custody == (common.Address{}) {
		return errors.New("custody address must not be zero")
	}
	if c.Exchange.CommunityFund == (common.Address{}) {
		return errors.New("community fund address must not be zero")
	}
	if c.Exchange.FeePercent < 0 || c.Exchange.FeePercent > 100 {
		return fmt.Errorf("fee percent %d outside 0..100", c.Exchange.FeePercent)
	}
	if c.Exchange.MaxOrdersPerUser <= 0 {
		return fmt.Errorf("max orders per user must be positive, got %d", c.Exchange.MaxOrdersPerUser)
	}
	if c.Node.MinBlockTime <= 0 {
		return fmt.Errorf("min block time must be positive, got %s", c.Node.MinBlockTime)
	}
	if c.Node.ChainID <= 0 {
		return fmt.Errorf("chain id must be positive, got %d", c.Node.ChainID)
	}
	return nil
}

// getEnv returns environment variable value or default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
