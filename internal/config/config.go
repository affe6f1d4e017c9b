// Package config loads gateway settings from the environment, with an
// optional YAML file underneath. Env keys use the VOICEGATE_ prefix:
// VOICEGATE_OPENAI_API_KEY maps to openai.api_key.
package config

import (
	"fmt"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

type Config struct {
	Server   ServerConfig   `koanf:"server"`
	Voice    VoiceConfig    `koanf:"voice"`
	OpenAI   OpenAIConfig   `koanf:"openai"`
	Nova     NovaConfig     `koanf:"nova"`
	Handover HandoverConfig `koanf:"handover"`
	Connect  ConnectConfig  `koanf:"connect"`
	Twilio   TwilioConfig   `koanf:"twilio"`
	HubSpot  HubSpotConfig  `koanf:"hubspot"`
	KB       KBConfig       `koanf:"kb"`
}

type ServerConfig struct {
	Host string `koanf:"host"`
	Port int    `koanf:"port"`
	// PublicHost is the externally reachable host used in TwiML stream
	// URLs, e.g. an ngrok or load balancer hostname.
	PublicHost string `koanf:"public_host"`
}

type VoiceConfig struct {
	// Provider selects the speech backend: "openai" or "nova".
	Provider     string `koanf:"provider"`
	SystemPrompt string `koanf:"system_prompt"`
	// EscalationMode is "tool" (model decides) or "keyword".
	EscalationMode string `koanf:"escalation_mode"`
}

type OpenAIConfig struct {
	APIKey string `koanf:"api_key"`
	Model  string `koanf:"model"`
	Voice  string `koanf:"voice"`
}

type NovaConfig struct {
	Region  string `koanf:"region"`
	ModelID string `koanf:"model_id"`
	VoiceID string `koanf:"voice_id"`
}

type HandoverConfig struct {
	// Store is "dynamo" or "sqlite".
	Store           string `koanf:"store"`
	Region          string `koanf:"region"`
	Table           string `koanf:"table"`
	SQLitePath      string `koanf:"sqlite_path"`
	TokenLength     int    `koanf:"token_length"`
	TokenTTLSeconds int    `koanf:"token_ttl_seconds"`
}

type ConnectConfig struct {
	PhoneNumber string `koanf:"phone_number"`
}

type TwilioConfig struct {
	// AuthToken enables webhook signature validation when set.
	AuthToken string `koanf:"auth_token"`
}

type HubSpotConfig struct {
	AccessToken string `koanf:"access_token"`
	BaseURL     string `koanf:"base_url"`
}

type KBConfig struct {
	KnowledgeBaseID string `koanf:"knowledge_base_id"`
	Region          string `koanf:"region"`
}

const envPrefix = "VOICEGATE_"

// Load reads configuration and applies defaults. configFile may be ""
// to load from the environment only.
func Load(configFile string) (*Config, error) {
	k := koanf.New(".")

	if configFile != "" {
		if err := k.Load(file.Provider(configFile), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file: %w", err)
		}
	}

	// Env wins over the file. The first underscore separates the
	// section from the key.
	if err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, envPrefix)), "_", ".", 1)
	}), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	defaults := map[string]any{
		"server.host":                "0.0.0.0",
		"server.port":                8080,
		"voice.provider":             "openai",
		"voice.escalation_mode":      "tool",
		"voice.system_prompt":        defaultSystemPrompt,
		"openai.model":               "gpt-4o-realtime-preview-2024-12-17",
		"openai.voice":               "verse",
		"nova.region":                "us-east-1",
		"nova.model_id":              "amazon.nova-sonic-v1:0",
		"nova.voice_id":              "olivia",
		"handover.store":             "dynamo",
		"handover.region":            "ap-southeast-2",
		"handover.table":             "HandoverTokens",
		"handover.sqlite_path":       "voicegate.db",
		"handover.token_length":      10,
		"handover.token_ttl_seconds": 600,
	}
	for key, val := range defaults {
		if !k.Exists(key) {
			k.Set(key, val)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the settings the selected components actually need.
// Misconfiguration fails at startup, not on the first call.
func (c *Config) Validate() error {
	switch c.Voice.Provider {
	case "openai":
		if c.OpenAI.APIKey == "" {
			return fmt.Errorf("config: openai.api_key is required when voice.provider=openai")
		}
	case "nova":
		if c.Nova.Region == "" {
			return fmt.Errorf("config: nova.region is required when voice.provider=nova")
		}
	default:
		return fmt.Errorf("config: unknown voice.provider %q", c.Voice.Provider)
	}

	switch c.Handover.Store {
	case "dynamo":
		if c.Handover.Table == "" {
			return fmt.Errorf("config: handover.table is required when handover.store=dynamo")
		}
	case "sqlite":
		if c.Handover.SQLitePath == "" {
			return fmt.Errorf("config: handover.sqlite_path is required when handover.store=sqlite")
		}
	default:
		return fmt.Errorf("config: unknown handover.store %q", c.Handover.Store)
	}

	switch c.Voice.EscalationMode {
	case "tool", "keyword":
	default:
		return fmt.Errorf("config: unknown voice.escalation_mode %q", c.Voice.EscalationMode)
	}
	return nil
}

const defaultSystemPrompt = "You are a friendly phone assistant. Keep replies short and " +
	"conversational; the caller hears them as speech. Use your search tools to answer " +
	"product and service questions. If the caller asks for a person, or you cannot help, " +
	"use the escalate_to_human tool."
