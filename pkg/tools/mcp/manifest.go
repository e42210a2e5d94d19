package mcp

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"sort"

	"github.com/relaybridge/relaybridge/pkg/api"
)

// manifest is the on-disk shape: {"mcpServers": {"<name>": spec}}, where
// spec is either a stdio spec ({"command", "args", "env"}) or an HTTP spec
// ({"url", "env"}). Both forms are unmarshaled into one superset struct and
// disambiguated by which fields are present.
type manifest struct {
	MCPServers map[string]manifestServer `json:"mcpServers"`
}

type manifestServer struct {
	Command string            `json:"command,omitempty"`
	Args    []string          `json:"args,omitempty"`
	URL     string            `json:"url,omitempty"`
	Env     map[string]string `json:"env,omitempty"`
}

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// ParseManifest parses a tool-server manifest document and returns the
// server configurations it describes, with ${VAR} tokens in every string
// leaf substituted from the process environment. Returns ConfigInvalid
// (via api.ToolFailure) if the document is malformed, a server entry
// specifies neither "command" nor "url", or a referenced variable is
// unset.
func ParseManifest(doc []byte) ([]ServerConfig, error) {
	var m manifest
	if err := json.Unmarshal(doc, &m); err != nil {
		return nil, api.NewToolFailure(api.ErrorKindConfigInvalid, fmt.Sprintf("parsing manifest: %v", err))
	}

	// Deterministic order for reproducible load logs and test output.
	names := make([]string, 0, len(m.MCPServers))
	for name := range m.MCPServers {
		names = append(names, name)
	}
	sort.Strings(names)

	servers := make([]ServerConfig, 0, len(names))
	for _, name := range names {
		spec := m.MCPServers[name]

		env := make(map[string]string, len(spec.Env))
		for k, v := range spec.Env {
			substituted, err := substituteEnv(v)
			if err != nil {
				return nil, api.NewToolFailure(api.ErrorKindConfigInvalid,
					fmt.Sprintf("server %q: env %q: %v", name, k, err))
			}
			env[k] = substituted
		}

		switch {
		case spec.Command != "":
			args := make([]string, len(spec.Args))
			for i, a := range spec.Args {
				substituted, err := substituteEnv(a)
				if err != nil {
					return nil, api.NewToolFailure(api.ErrorKindConfigInvalid,
						fmt.Sprintf("server %q: arg %d: %v", name, i, err))
				}
				args[i] = substituted
			}
			command, err := substituteEnv(spec.Command)
			if err != nil {
				return nil, api.NewToolFailure(api.ErrorKindConfigInvalid,
					fmt.Sprintf("server %q: command: %v", name, err))
			}
			servers = append(servers, ServerConfig{
				Name:      name,
				Transport: "stdio",
				Command:   command,
				Args:      args,
				Env:       env,
			})

		case spec.URL != "":
			url, err := substituteEnv(spec.URL)
			if err != nil {
				return nil, api.NewToolFailure(api.ErrorKindConfigInvalid,
					fmt.Sprintf("server %q: url: %v", name, err))
			}
			servers = append(servers, ServerConfig{
				Name:      name,
				Transport: "streamable-http",
				URL:       url,
				Headers:   env,
			})

		default:
			return nil, api.NewToolFailure(api.ErrorKindConfigInvalid,
				fmt.Sprintf("server %q: must specify either \"command\" or \"url\"", name))
		}
	}

	return servers, nil
}

// substituteEnv replaces every ${VAR} token in s with the value of the
// matching process environment variable. Fails if a referenced variable is
// unset. Substitution is idempotent: since the result never reintroduces
// ${VAR} syntax from an environment value (env values are copied verbatim,
// not re-scanned), applying it twice is the same as applying it once.
func substituteEnv(s string) (string, error) {
	var missing string
	out := envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		name := envVarPattern.FindStringSubmatch(match)[1]
		val, ok := os.LookupEnv(name)
		if !ok {
			missing = name
			return match
		}
		return val
	})
	if missing != "" {
		return "", fmt.Errorf("referenced environment variable %q is not set", missing)
	}
	return out, nil
}
