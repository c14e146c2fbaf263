package channels

import (
	"sort"
	"sync"

	"gptbridge/pkg/api"
	"gptbridge/pkg/config"

	jsoniter "github.com/json-iterator/go"
)

// Deps are the shared resources handed to every channel factory.
type Deps struct {
	System  *config.SystemConfig
	History api.HistorySource // Replays stored turns, may be nil
}

// ChannelFactory creates a platform channel from its raw config block.
// New platforms register a factory without touching the gateway.
type ChannelFactory interface {
	// Create returns (nil, nil) when the channel is configured off.
	Create(rawConfig jsoniter.RawMessage, deps Deps) (api.Channel, error)
}

// FactoryFunc adapts a function to ChannelFactory.
type FactoryFunc func(rawConfig jsoniter.RawMessage, deps Deps) (api.Channel, error)

// Create implements ChannelFactory.
func (f FactoryFunc) Create(rawConfig jsoniter.RawMessage, deps Deps) (api.Channel, error) {
	return f(rawConfig, deps)
}

var (
	registryMu      sync.RWMutex
	channelRegistry = make(map[string]ChannelFactory)
)

// RegisterChannel adds a factory under a platform name, usually from init().
func RegisterChannel(name string, factory ChannelFactory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	channelRegistry[name] = factory
}

// GetChannelFactory retrieves a registered ChannelFactory by platform name.
func GetChannelFactory(name string) (ChannelFactory, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	f, ok := channelRegistry[name]
	return f, ok
}

// Names lists the registered platforms.
func Names() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(channelRegistry))
	for name := range channelRegistry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
