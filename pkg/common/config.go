package common

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
	"github.com/rs/zerolog/log"
)

const (
	// ConfigPathEnv points at a yaml or json file layered over the defaults
	ConfigPathEnv = "CONFIG_PATH"

	// ConfigJSONEnv holds an inline JSON document layered last
	ConfigJSONEnv = "CONFIG_JSON"
)

//go:embed config.default.yaml
var defaultConfig []byte

// ConfigManager loads configuration of type T from the embedded defaults,
// an optional file and an optional inline JSON blob, in that order.
type ConfigManager[T any] struct {
	kf     *koanf.Koanf
	config T
}

func NewConfigManager[T any]() (*ConfigManager[T], error) {
	cm := &ConfigManager[T]{
		kf: koanf.New("."),
	}

	if err := cm.LoadConfig(rawbytes.Provider(defaultConfig), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("load default config: %w", err)
	}

	if path := os.Getenv(ConfigPathEnv); path != "" {
		parser, err := parserFor(path)
		if err != nil {
			return nil, err
		}
		if err := cm.LoadConfig(file.Provider(path), parser); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
		log.Debug().Str("path", path).Msg("loaded config file")
	}

	if raw := os.Getenv(ConfigJSONEnv); raw != "" {
		if err := cm.LoadConfig(rawbytes.Provider([]byte(raw)), json.Parser()); err != nil {
			return nil, fmt.Errorf("load %s: %w", ConfigJSONEnv, err)
		}
	}

	if err := cm.unmarshal(); err != nil {
		return nil, err
	}

	return cm, nil
}

// LoadConfig merges another source into the current configuration
func (cm *ConfigManager[T]) LoadConfig(provider koanf.Provider, parser koanf.Parser) error {
	return cm.kf.Load(provider, parser)
}

// GetConfig returns the decoded configuration
func (cm *ConfigManager[T]) GetConfig() T {
	return cm.config
}

func (cm *ConfigManager[T]) unmarshal() error {
	var out T
	err := cm.kf.UnmarshalWithConf("", &out, koanf.UnmarshalConf{
		Tag: "key",
		DecoderConfig: &mapstructure.DecoderConfig{
			DecodeHook: mapstructure.ComposeDecodeHookFunc(
				mapstructure.StringToTimeDurationHookFunc(),
				mapstructure.StringToSliceHookFunc(","),
			),
			Result:           &out,
			TagName:          "key",
			WeaklyTypedInput: true,
		},
	})
	if err != nil {
		return fmt.Errorf("decode config: %w", err)
	}

	cm.config = out
	return nil
}

func parserFor(path string) (koanf.Parser, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return yaml.Parser(), nil
	case ".json":
		return json.Parser(), nil
	default:
		return nil, fmt.Errorf("unsupported config file extension: %s", path)
	}
}
