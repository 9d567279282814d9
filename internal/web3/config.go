package web3

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// ChainDefinitions models the structure of configs/chain.yaml.
type ChainDefinitions struct {
	Chains map[string]ChainDefinition `yaml:"chains"`
}

// ChainDefinition describes a single chain endpoint definition.
type ChainDefinition struct {
	Type        string `yaml:"type"`
	ChainID     int64  `yaml:"chain_id"`
	RPCURL      string `yaml:"rpc_url"`
	Description string `yaml:"description"`
}

// LoadChainDefinitions parses the YAML file containing chain metadata. An
// empty path yields an empty set.
func LoadChainDefinitions(path string) (ChainDefinitions, error) {
	if strings.TrimSpace(path) == "" {
		return ChainDefinitions{Chains: map[string]ChainDefinition{}}, nil
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return ChainDefinitions{}, fmt.Errorf("读取链配置失败: %w", err)
	}
	return ParseChainDefinitions(content)
}

// ParseChainDefinitions decodes and checks chain definitions.
func ParseChainDefinitions(content []byte) (ChainDefinitions, error) {
	var defs ChainDefinitions
	if err := yaml.Unmarshal(content, &defs); err != nil {
		return ChainDefinitions{}, fmt.Errorf("解析链配置失败: %w", err)
	}
	if defs.Chains == nil {
		defs.Chains = map[string]ChainDefinition{}
	}

	seen := make(map[int64]string, len(defs.Chains))
	for _, name := range defs.Names() {
		def := defs.Chains[name]
		if strings.TrimSpace(def.RPCURL) == "" {
			return ChainDefinitions{}, fmt.Errorf("链 %s 缺少 rpc_url", name)
		}
		if t := strings.ToLower(strings.TrimSpace(def.Type)); t != "" && t != "evm" {
			return ChainDefinitions{}, fmt.Errorf("链 %s 使用了不支持的类型 %s", name, def.Type)
		}
		if def.ChainID == 0 {
			continue
		}
		if other, dup := seen[def.ChainID]; dup {
			return ChainDefinitions{}, fmt.Errorf("链 %s 与 %s 使用了相同的 chain_id %d", name, other, def.ChainID)
		}
		seen[def.ChainID] = name
	}
	return defs, nil
}

// Names returns the chain names in sorted order.
func (d ChainDefinitions) Names() []string {
	names := make([]string, 0, len(d.Chains))
	for name := range d.Chains {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ByChainID finds the definition declaring chainID.
func (d ChainDefinitions) ByChainID(chainID int64) (string, ChainDefinition, bool) {
	for _, name := range d.Names() {
		if def := d.Chains[name]; def.ChainID == chainID {
			return name, def, true
		}
	}
	return "", ChainDefinition{}, false
}
