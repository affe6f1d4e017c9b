package voice

import (
	"fmt"
	"log/slog"
	"sync"
)

// Config carries everything an adapter needs to open a session. Only the
// block for the selected provider has to be populated.
type Config struct {
	Provider     string
	SystemPrompt string
	Tools        ToolRunner
	Logger       *slog.Logger

	OpenAI OpenAIConfig
	Nova   NovaConfig
}

// OpenAIConfig configures the OpenAI Realtime adapter.
type OpenAIConfig struct {
	APIKey string
	Model  string
	Voice  string
	// BaseURL overrides the realtime endpoint. Tests point it at a
	// local server.
	BaseURL string
}

// NovaConfig configures the Nova Sonic adapter.
type NovaConfig struct {
	Region  string
	ModelID string
	VoiceID string
}

// Factory builds a client for one provider.
type Factory func(cfg Config) (Client, error)

var (
	factoriesMu sync.RWMutex
	factories   = make(map[string]Factory)
)

// RegisterFactory makes a provider available under the given name.
// Provider packages call this from their Register functions; panics on a
// duplicate name to surface wiring mistakes at startup.
func RegisterFactory(name string, f Factory) {
	factoriesMu.Lock()
	defer factoriesMu.Unlock()
	if _, exists := factories[name]; exists {
		panic(fmt.Sprintf("voice: factory %q registered twice", name))
	}
	factories[name] = f
}

// New builds a client for the provider named in cfg.Provider.
func New(cfg Config) (Client, error) {
	factoriesMu.RLock()
	f, ok := factories[cfg.Provider]
	factoriesMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("voice: unknown provider %q", cfg.Provider)
	}
	return f(cfg)
}

// ClearFactories removes all registered factories. Test use only.
func ClearFactories() {
	factoriesMu.Lock()
	defer factoriesMu.Unlock()
	factories = make(map[string]Factory)
}
