package pubtator

import (
	"github.com/go-go-golems/grillo/pkg/lookup"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// RegisterStrategies wires both PubTator strategies into reg. They share a
// single client so all lookups draw on the same rate limit.
func RegisterStrategies(reg *lookup.Registry, client *Client) {
	reg.Register(StrategyFindEntityID, func(node *yaml.Node) (lookup.Strategy, error) {
		var cfg FindEntityIDConfig
		if node != nil && node.Kind != 0 {
			if err := node.Decode(&cfg); err != nil {
				return nil, errors.Wrap(err, "decoding find_entity_id config")
			}
		}
		return NewFindEntityIDStrategy(client, cfg)
	})

	reg.Register(StrategyPubSearch, func(node *yaml.Node) (lookup.Strategy, error) {
		return NewFindEntityByPubSearchStrategy(client)
	})
}
