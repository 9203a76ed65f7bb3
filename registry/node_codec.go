package registry

import (
	"encoding/json"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/pkg/errors"
)

// Deserializer turns a raw node payload read from a backend into a Node.
type Deserializer func(data []byte) (*Node, error)

// Serializer is the inverse of Deserializer.
type Serializer func(node Node) ([]byte, error)

// JSONDeserializer is the default Deserializer.
func JSONDeserializer(data []byte) (*Node, error) {
	var node Node
	if err := json.Unmarshal(data, &node); err != nil {
		return nil, errors.Wrap(err, "registry: could not parse node data")
	}
	return &node, nil
}

// JSONSerializer is the default Serializer.
func JSONSerializer(node Node) ([]byte, error) {
	return json.Marshal(node)
}

// decodeNodes runs every payload through deserialize. Payloads that fail to
// parse are logged and treated as absent nodes.
func decodeNodes(logger log.Logger, deserialize Deserializer, payloads [][]byte) []Node {
	nodes := make([]Node, 0, len(payloads))
	for _, p := range payloads {
		node, err := deserialize(p)
		if err != nil || node == nil {
			level.Warn(logger).Log("msg", "could not parse node data", "err", err)
			continue
		}
		nodes = append(nodes, *node)
	}
	return nodes
}
