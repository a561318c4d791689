// Package mqtt publishes optimization results to an MQTT broker with the
// Eclipse Paho client.
package mqtt

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"

	paho "github.com/eclipse/paho.mqtt.golang"
)

// Config defines the connection parameters for the Paho MQTT client.
type Config struct {
	Enabled     bool   `json:"enabled" yaml:"enabled" koanf:"enabled"`
	Broker      string `json:"broker" yaml:"broker" koanf:"broker" validate:"required_if=Enabled true"`
	ClientID    string `json:"client_id" yaml:"client_id" koanf:"client_id" default:"connopt"`
	Username    string `json:"username" yaml:"username" koanf:"username"`
	Password    string `json:"password" yaml:"password" koanf:"password"`
	TopicPrefix string `json:"topic_prefix" yaml:"topic_prefix" koanf:"topic_prefix" default:"connopt"`
	QoS         byte   `json:"qos" yaml:"qos" koanf:"qos" default:"1" validate:"lte=2"`
	Retain      bool   `json:"retain" yaml:"retain" koanf:"retain"`
	UseTLS      bool   `json:"use_tls" yaml:"use_tls" koanf:"use_tls"`
	ClientCert  string `json:"client_cert" yaml:"client_cert" koanf:"client_cert"`
	ClientKey   string `json:"client_key" yaml:"client_key" koanf:"client_key"`
	CABundle    string `json:"ca_bundle" yaml:"ca_bundle" koanf:"ca_bundle"`
	MaxRetries  int    `json:"max_retries" yaml:"max_retries" koanf:"max_retries" default:"3" validate:"gte=0"`
	BackoffMS   int    `json:"backoff_ms" yaml:"backoff_ms" koanf:"backoff_ms" default:"100" validate:"gte=0"`
	TimeoutMS   int    `json:"timeout_ms" yaml:"timeout_ms" koanf:"timeout_ms" default:"5000" validate:"gte=0"`

	TLSConfig *tls.Config `json:"-" yaml:"-" koanf:"-"`
}

// StatusTopic is the retained availability topic of the publisher.
func (c Config) StatusTopic() string { return c.TopicPrefix + "/status" }

// ResultTopic is the topic results of the schedule are published on.
func (c Config) ResultTopic(scheduleID string) string {
	return fmt.Sprintf("%s/%s/result", c.TopicPrefix, scheduleID)
}

// pahoClient is the subset of paho.Client the publisher uses.
type pahoClient interface {
	IsConnected() bool
	Connect() paho.Token
	Disconnect(quiesce uint)
	Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token
}

var newMQTTClient = func(opts *paho.ClientOptions) pahoClient {
	return paho.NewClient(opts)
}

// NewClientOptions builds paho client options from Config. The broker is
// told to mark the publisher offline when the connection drops.
func NewClientOptions(cfg Config) (*paho.ClientOptions, error) {
	opts := paho.NewClientOptions().AddBroker(cfg.Broker).SetClientID(cfg.ClientID)
	opts.AutoReconnect = true
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}
	if cfg.UseTLS {
		tlsCfg, err := cfg.LoadTLSConfig()
		if err != nil {
			return nil, err
		}
		opts.SetTLSConfig(tlsCfg)
	}
	if cfg.TopicPrefix != "" {
		opts.SetWill(cfg.StatusTopic(), "offline", cfg.QoS, true)
	}
	return opts, nil
}

// LoadTLSConfig loads the TLS configuration from the file paths in the config.
func (c Config) LoadTLSConfig() (*tls.Config, error) {
	if c.TLSConfig != nil {
		return c.TLSConfig, nil
	}
	if c.ClientCert == "" || c.ClientKey == "" || c.CABundle == "" {
		return nil, fmt.Errorf("tls config requires client_cert, client_key and ca_bundle")
	}
	cert, err := tls.LoadX509KeyPair(c.ClientCert, c.ClientKey)
	if err != nil {
		return nil, fmt.Errorf("load cert: %w", err)
	}
	caBytes, err := os.ReadFile(c.CABundle)
	if err != nil {
		return nil, fmt.Errorf("read ca: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(caBytes) {
		return nil, fmt.Errorf("ca bundle %s holds no certificate", c.CABundle)
	}
	return &tls.Config{Certificates: []tls.Certificate{cert}, RootCAs: pool, MinVersion: tls.VersionTLS12}, nil
}
