package manager

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
)

// DefaultProxyCommand is the binary that fronts every tool process and
// exposes it over the configured transport.
const DefaultProxyCommand = "mcp-proxy"

// InvocationBuilder turns a validated config and an allocated port into a
// ready-to-run command descriptor.
type InvocationBuilder func(cfg ToolVersionConfig, port int) Invocation

// BuildProxyInvocation builds the standard proxy command line:
//
//	mcp-proxy --sse-port=<port> [-e KEY VALUE]... -- <tool args>
//
// Env pairs are emitted in sorted key order so the rendered command is
// deterministic. The env map is also passed through the process
// environment at launch.
func BuildProxyInvocation(cfg ToolVersionConfig, port int) Invocation {
	args := []string{fmt.Sprintf("--sse-port=%d", port)}
	for _, k := range sortedEnvKeys(cfg.Env) {
		args = append(args, "-e", k, cfg.Env[k])
	}
	args = append(args, "--")
	args = append(args, strings.Fields(cfg.Args)...)

	env := make(map[string]string, len(cfg.Env))
	for k, v := range cfg.Env {
		env[k] = v
	}

	return Invocation{
		Path: DefaultProxyCommand,
		Args: args,
		Env:  env,
		Port: port,
	}
}

// RedactCommand renders an invocation with every env value masked, for
// status reporting. Secrets never leave the manager unredacted.
func RedactCommand(inv Invocation) string {
	s := inv.Path
	for i := 0; i < len(inv.Args); i++ {
		a := inv.Args[i]
		if a == "-e" && i+2 < len(inv.Args) {
			s += " -e " + inv.Args[i+1] + " ***"
			i += 2
			continue
		}
		s += " " + a
	}
	return s
}

// Fingerprint hashes everything that defines a tool's resolved launch:
// identity, transport, args, preferred port, and the full env in sorted
// order. Two configs with equal fingerprints need no restart.
func Fingerprint(cfg ToolVersionConfig) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s\x00%s\x00%s\x00%s\x00%d\x00", cfg.Tool, cfg.Version, cfg.Method, cfg.Args, cfg.PreferredPort)
	for _, k := range sortedEnvKeys(cfg.Env) {
		fmt.Fprintf(h, "%s=%s\x00", k, cfg.Env[k])
	}
	return hex.EncodeToString(h.Sum(nil))
}

// ValidateConfig checks that every required_env entry is present in env.
func ValidateConfig(cfg ToolVersionConfig) error {
	var missing []string
	for _, name := range cfg.RequiredEnv {
		if _, ok := cfg.Env[name]; !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return &InvalidConfigError{Key: cfg.Key(), Missing: missing}
	}
	return nil
}

func sortedEnvKeys(env map[string]string) []string {
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
