package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config represents the application configuration
type Config struct {
	Server   ServerConfig   `json:"server"`
	Database DatabaseConfig `json:"database"`
	Stellar  StellarConfig  `json:"stellar"`
	Swap     SwapConfig     `json:"swap"`
	Storage  StorageConfig  `json:"storage"`
	Security SecurityConfig `json:"security"`
	Logging  LoggingConfig  `json:"logging"`
}

// ServerConfig represents server configuration
type ServerConfig struct {
	Host         string        `json:"host"`
	Port         int           `json:"port"`
	ReadTimeout  time.Duration `json:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout"`
	IdleTimeout  time.Duration `json:"idle_timeout"`
}

// DatabaseConfig represents database configuration
type DatabaseConfig struct {
	Host           string        `json:"host"`
	Port           int           `json:"port"`
	User           string        `json:"user"`
	Password       string        `json:"password"`
	DBName         string        `json:"db_name"`
	SSLMode        string        `json:"ssl_mode"`
	MaxConnections int           `json:"max_connections"`
	MaxIdleConns   int           `json:"max_idle_conns"`
	MaxLifetime    time.Duration `json:"max_lifetime"`
}

// StellarConfig holds ledger access and the intermediary account identity.
// The intermediary secret key is the only key material the service holds;
// issuer keys are never accepted over the wire.
type StellarConfig struct {
	HorizonURL            string `json:"horizon_url"`
	SorobanRPCURL         string `json:"soroban_rpc_url"`
	Network               string `json:"network"` // "testnet" or "public"
	IntermediarySecretKey string `json:"intermediary_secret_key"`
	ControllerContractID  string `json:"controller_contract_id"`
	BaseFee               int64  `json:"base_fee"`
}

// SwapConfig bounds the swap coordinator's reservations and confirmation waits.
type SwapConfig struct {
	ReservationTTL      time.Duration `json:"reservation_ttl"`
	SweepInterval       time.Duration `json:"sweep_interval"`
	ConfirmationTimeout time.Duration `json:"confirmation_timeout"`
}

// StorageConfig names the bucket holding proof documents.
type StorageConfig struct {
	Bucket string `json:"bucket"`
}

// SecurityConfig
type SecurityConfig struct {
	JWTSecret string `json:"jwt_secret"`
}

// LoggingConfig
type LoggingConfig struct {
	Level string `json:"level"`
}

// LoadConfig loads configuration from file and environment variables
func LoadConfig(configPath string) (*Config, error) {
	// Local development overrides, ignored when the file is absent
	_ = godotenv.Load()

	// Default config
	config := &Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8080,
		},
		Database: DatabaseConfig{
			Host:           "localhost",
			Port:           5432,
			User:           os.Getenv("USER"),
			DBName:         "carbon_marketplace",
			SSLMode:        "disable",
			MaxConnections: 25,
			MaxIdleConns:   5,
		},
		Stellar: StellarConfig{
			HorizonURL:    "https://horizon-testnet.stellar.org",
			SorobanRPCURL: "https://soroban-testnet.stellar.org",
			Network:       "testnet",
			BaseFee:       100,
		},
		Swap: SwapConfig{
			ReservationTTL:      10 * time.Minute,
			SweepInterval:       time.Minute,
			ConfirmationTimeout: 5 * time.Minute,
		},
		Storage: StorageConfig{
			Bucket: "carbon-marketplace-proofs",
		},
	}

	// Load from file if exists
	if configPath != "" {
		if data, err := os.ReadFile(configPath); err == nil {
			if err := json.Unmarshal(data, config); err != nil {
				return nil, fmt.Errorf("failed to parse config file: %w", err)
			}
		}
	}

	// Override with environment variables
	overrideWithEnv(config)

	if config.Stellar.IntermediarySecretKey == "" {
		return nil, fmt.Errorf("stellar intermediary secret key is not configured")
	}

	return config, nil
}

func overrideWithEnv(config *Config) {
	if host := os.Getenv("SERVER_HOST"); host != "" {
		config.Server.Host = host
	}
	if port := os.Getenv("SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}
	if dbHost := os.Getenv("DATABASE_HOST"); dbHost != "" {
		config.Database.Host = dbHost
	}
	if dbUser := os.Getenv("DATABASE_USER"); dbUser != "" {
		config.Database.User = dbUser
	}
	if dbPass := os.Getenv("DATABASE_PASSWORD"); dbPass != "" {
		config.Database.Password = dbPass
	}
	if dbName := os.Getenv("DATABASE_DBNAME"); dbName != "" {
		config.Database.DBName = dbName
	}
	if horizon := os.Getenv("STELLAR_HORIZON_URL"); horizon != "" {
		config.Stellar.HorizonURL = horizon
	}
	if rpc := os.Getenv("STELLAR_SOROBAN_RPC_URL"); rpc != "" {
		config.Stellar.SorobanRPCURL = rpc
	}
	if network := os.Getenv("STELLAR_NETWORK"); network != "" {
		config.Stellar.Network = network
	}
	if secret := os.Getenv("STELLAR_INTERMEDIARY_SECRET"); secret != "" {
		config.Stellar.IntermediarySecretKey = secret
	}
	if contract := os.Getenv("STELLAR_CONTROLLER_CONTRACT"); contract != "" {
		config.Stellar.ControllerContractID = contract
	}
	if bucket := os.Getenv("STORAGE_BUCKET"); bucket != "" {
		config.Storage.Bucket = bucket
	}
	if jwtSecret := os.Getenv("JWT_SECRET"); jwtSecret != "" {
		config.Security.JWTSecret = jwtSecret
	}
	if ttl := os.Getenv("SWAP_RESERVATION_TTL"); ttl != "" {
		if d, err := time.ParseDuration(ttl); err == nil {
			config.Swap.ReservationTTL = d
		}
	}
}

// GetDatabaseURL returns the database connection string
func (c *DatabaseConfig) GetDatabaseURL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.DBName, c.SSLMode)
}

// GetServerAddr returns the server address
func (c *ServerConfig) GetServerAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
