package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"

	"agora/crypto"

	"github.com/BurntSushi/toml"
)

type Config struct {
	ListenAddress    string    `toml:"ListenAddress"`
	MetricsAddress   string    `toml:"MetricsAddress"`
	DataDir          string    `toml:"DataDir"`
	Environment      string    `toml:"Environment"`
	LogFile          string    `toml:"LogFile"`
	ChainID          uint64    `toml:"ChainID"`
	OperatorKeystore string    `toml:"OperatorKeystore"`
	Admin            string    `toml:"Admin"`
	Treasury         string    `toml:"Treasury"`
	OracleAuthority  string    `toml:"OracleAuthority"`
	Genesis          Genesis   `toml:"genesis"`
	Telemetry        Telemetry `toml:"telemetry"`
	Global           Global    `toml:"global"`
}

type loadOptions struct {
	passphrase    string
	hasPassphrase bool
	source        func() (string, error)
}

// LoadOption customises Load.
type LoadOption func(*loadOptions)

// WithKeystorePassphrase supplies the passphrase used when Load has to create
// the operator keystore.
func WithKeystorePassphrase(passphrase string) LoadOption {
	return func(o *loadOptions) {
		o.passphrase = passphrase
		o.hasPassphrase = true
	}
}

// WithKeystorePassphraseSource defers passphrase resolution until Load
// actually needs to create the operator keystore.
func WithKeystorePassphraseSource(source func() (string, error)) LoadOption {
	return func(o *loadOptions) {
		o.source = source
	}
}

var errMissingPassphrase = errors.New("config: keystore passphrase required to create operator key")

// Load loads the configuration from the given path, writing a default file
// (and a fresh operator key) when none exists.
func Load(path string, opts ...LoadOption) (*Config, error) {
	options := loadOptions{}
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path, options)
	}

	cfg := &Config{Global: defaultGlobalConfig()}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	applyDefaults(cfg)
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if strings.TrimSpace(cfg.ListenAddress) == "" {
		cfg.ListenAddress = ":8545"
	}
	if strings.TrimSpace(cfg.DataDir) == "" {
		cfg.DataDir = "./agora-data"
	}
	if strings.TrimSpace(cfg.Environment) == "" {
		cfg.Environment = "dev"
	}
	if cfg.ChainID == 0 {
		cfg.ChainID = 1
	}
	if cfg.Genesis.Allocations == nil {
		cfg.Genesis.Allocations = []Allocation{}
	}
}

// createDefault creates and saves a default configuration file. The operator
// key it generates holds every administrative role until the file is edited.
func createDefault(path string, options loadOptions) (*Config, error) {
	if !options.hasPassphrase && options.source != nil {
		passphrase, err := options.source()
		if err != nil {
			return nil, err
		}
		options.passphrase = passphrase
		options.hasPassphrase = true
	}
	if !options.hasPassphrase {
		return nil, errMissingPassphrase
	}
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		return nil, err
	}
	keystorePath := defaultKeystorePath(path)
	if err := crypto.SaveToKeystore(keystorePath, key, options.passphrase); err != nil {
		return nil, err
	}
	operator := key.PubKey().Address().String()

	cfg := &Config{
		ListenAddress:    ":8545",
		MetricsAddress:   ":9100",
		DataDir:          "./agora-data",
		Environment:      "dev",
		ChainID:          1,
		OperatorKeystore: keystorePath,
		Admin:            operator,
		Treasury:         operator,
		OracleAuthority:  operator,
		Global:           defaultGlobalConfig(),
	}
	applyDefaults(cfg)

	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}

func defaultKeystorePath(configPath string) string {
	return filepath.Join(filepath.Dir(configPath), "operator.keystore")
}
