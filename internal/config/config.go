// Package config loads the settings of the gqlws-subscribe command from flags,
// environment variables and an optional config file.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v2"

	"github.com/TykTechnologies/graphql-ws-client/internal/sink"
)

const (
	EnvPrefix         = "GQLWS"
	DefaultConfigName = ".gqlws"
)

const (
	KeyEndpoint      = "endpoint"
	KeyQuery         = "query"
	KeyQueryFile     = "query-file"
	KeyVariables     = "variables"
	KeyVariablesFile = "variables-file"
	KeyOperationName = "operation-name"
	KeyCookie        = "cookie"
	KeyHeader        = "header"
	KeyValidateQuery = "validate-query"
	KeyTransport     = "transport"
	KeyCloseTimeout  = "close-timeout"
	KeyLogLevel      = "log-level"
	KeySink          = "sink"
	KeySinkURL       = "sink-url"
	KeySinkTopic     = "sink-topic"
	KeySinkClientID  = "sink-client-id"
	KeySinkQoS       = "sink-qos"
	KeySinkTimeout   = "sink-timeout"
)

const (
	TransportNet  = "net"
	TransportHTTP = "http"
)

var ErrInvalidConfig = errors.New("invalid config")

type Config struct {
	Endpoint      string        `mapstructure:"endpoint"`
	Query         string        `mapstructure:"query"`
	QueryFile     string        `mapstructure:"query-file"`
	Variables     string        `mapstructure:"variables"`
	VariablesFile string        `mapstructure:"variables-file"`
	OperationName string        `mapstructure:"operation-name"`
	Cookies       []string      `mapstructure:"cookie"`
	Headers       []string      `mapstructure:"header"`
	ValidateQuery bool          `mapstructure:"validate-query"`
	Transport     string        `mapstructure:"transport"`
	CloseTimeout  time.Duration `mapstructure:"close-timeout"`
	LogLevel      string        `mapstructure:"log-level"`

	Sink         string        `mapstructure:"sink"`
	SinkURLs     []string      `mapstructure:"sink-url"`
	SinkTopic    string        `mapstructure:"sink-topic"`
	SinkClientID string        `mapstructure:"sink-client-id"`
	SinkQoS      int           `mapstructure:"sink-qos"`
	SinkTimeout  time.Duration `mapstructure:"sink-timeout"`

	// VariablesJSON is the JSON encoding of Variables or the content of VariablesFile.
	VariablesJSON json.RawMessage `mapstructure:"-"`
}

// NewViper returns a viper instance reading GQLWS_ prefixed environment variables.
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	SetDefaults(v)
	return v
}

func SetDefaults(v *viper.Viper) {
	v.SetDefault(KeyCookie, []string{})
	v.SetDefault(KeyHeader, []string{})
	v.SetDefault(KeySinkURL, []string{})
	v.SetDefault(KeyTransport, TransportNet)
	v.SetDefault(KeyCloseTimeout, "5s")
	v.SetDefault(KeyLogLevel, "info")
	v.SetDefault(KeySink, string(sink.KindStdout))
	v.SetDefault(KeySinkQoS, 0)
	v.SetDefault(KeySinkTimeout, "10s")
}

// ReadConfigFile reads the config file at path, a leading ~ is expanded to the home directory.
// Without a path $HOME/.gqlws.{yaml,json,toml} is read if it exists.
func ReadConfigFile(v *viper.Viper, path string) error {
	if path != "" {
		expanded, err := homedir.Expand(path)
		if err != nil {
			return err
		}
		v.SetConfigFile(expanded)
		return v.ReadInConfig()
	}

	home, err := homedir.Dir()
	if err != nil {
		return nil
	}
	v.AddConfigPath(home)
	v.SetConfigName(DefaultConfigName)

	err = v.ReadInConfig()
	if _, ok := err.(viper.ConfigFileNotFoundError); ok {
		return nil
	}
	return err
}

// Load decodes and validates the settings held by v. Query and variables files are read here.
func Load(v *viper.Viper) (*Config, error) {
	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidConfig, err.Error())
	}

	if config.Query == "" && config.QueryFile != "" {
		query, err := readFile(config.QueryFile)
		if err != nil {
			return nil, err
		}
		config.Query = string(query)
	}

	variables := []byte(config.Variables)
	if len(strings.TrimSpace(config.Variables)) == 0 && config.VariablesFile != "" {
		content, err := readFile(config.VariablesFile)
		if err != nil {
			return nil, err
		}
		variables = content
	}

	variablesJSON, err := VariablesToJSON(variables)
	if err != nil {
		return nil, err
	}
	config.VariablesJSON = variablesJSON

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.Endpoint) == "" {
		return fmt.Errorf("%w: %s must be set", ErrInvalidConfig, KeyEndpoint)
	}
	if strings.TrimSpace(c.Query) == "" {
		return fmt.Errorf("%w: one of %s or %s must be set", ErrInvalidConfig, KeyQuery, KeyQueryFile)
	}

	switch c.Transport {
	case TransportNet, TransportHTTP:
	default:
		return fmt.Errorf("%w: unknown %s %q", ErrInvalidConfig, KeyTransport, c.Transport)
	}

	if _, err := c.CookieValues(); err != nil {
		return err
	}
	if _, err := c.HeaderValues(); err != nil {
		return err
	}

	if c.SinkQoS < 0 || c.SinkQoS > 2 {
		return fmt.Errorf("%w: %s must be 0, 1 or 2", ErrInvalidConfig, KeySinkQoS)
	}

	return c.SinkOptions().Validate()
}

// NameValue is a single cookie or header.
type NameValue struct {
	Name  string
	Value string
}

// CookieValues parses the cookie settings, each in the form name=value.
func (c *Config) CookieValues() ([]NameValue, error) {
	return splitPairs(c.Cookies, "=", KeyCookie)
}

// HeaderValues parses the header settings, each in the form "Name: value".
func (c *Config) HeaderValues() ([]NameValue, error) {
	return splitPairs(c.Headers, ":", KeyHeader)
}

func (c *Config) SinkOptions() sink.Options {
	return sink.Options{
		Kind:     sink.Kind(c.Sink),
		URLs:     c.SinkURLs,
		Topic:    c.SinkTopic,
		ClientID: c.SinkClientID,
		QoS:      byte(c.SinkQoS),
		Timeout:  c.SinkTimeout,
	}
}

func splitPairs(pairs []string, separator, key string) ([]NameValue, error) {
	values := make([]NameValue, 0, len(pairs))
	for _, pair := range pairs {
		name, value, found := strings.Cut(pair, separator)
		name, value = strings.TrimSpace(name), strings.TrimSpace(value)
		if !found || name == "" || value == "" {
			return nil, fmt.Errorf("%w: malformed %s %q", ErrInvalidConfig, key, pair)
		}
		values = append(values, NameValue{Name: name, Value: value})
	}
	return values, nil
}

// VariablesToJSON converts a YAML or JSON document into JSON. Blank input yields nil.
func VariablesToJSON(document []byte) (json.RawMessage, error) {
	if len(strings.TrimSpace(string(document))) == 0 {
		return nil, nil
	}

	var value interface{}
	if err := yaml.Unmarshal(document, &value); err != nil {
		return nil, fmt.Errorf("%w: %s: %s", ErrInvalidConfig, KeyVariables, err.Error())
	}

	value = normalizeYAML(value)
	if _, ok := value.(map[string]interface{}); !ok && value != nil {
		return nil, fmt.Errorf("%w: %s must be an object", ErrInvalidConfig, KeyVariables)
	}

	out, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %s", ErrInvalidConfig, KeyVariables, err.Error())
	}
	return out, nil
}

// normalizeYAML turns the map[interface{}]interface{} values yaml.v2 produces into JSON compatible maps.
func normalizeYAML(value interface{}) interface{} {
	switch typed := value.(type) {
	case map[interface{}]interface{}:
		out := make(map[string]interface{}, len(typed))
		for key, item := range typed {
			out[fmt.Sprint(key)] = normalizeYAML(item)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(typed))
		for i, item := range typed {
			out[i] = normalizeYAML(item)
		}
		return out
	default:
		return value
	}
}

func readFile(path string) ([]byte, error) {
	expanded, err := homedir.Expand(path)
	if err != nil {
		return nil, err
	}
	content, err := os.ReadFile(filepath.Clean(expanded))
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidConfig, err.Error())
	}
	return content, nil
}
