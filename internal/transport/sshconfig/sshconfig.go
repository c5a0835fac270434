// Package sshconfig parses a user's ~/.ssh/config file. No third-party SSH
// config parser appears anywhere in the retrieval pack, and the grammar is
// narrow and well-specified (Host blocks of "Key Value" lines), so this is
// one of the few pieces of Iris built on the standard library alone rather
// than an ecosystem dependency.
package sshconfig

import (
	"bufio"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// HostConfig holds the subset of ~/.ssh/config directives the remote
// transport cares about (§6 "Remote SSH").
type HostConfig struct {
	HostName              string
	Port                  int
	User                  string
	IdentityFile          string
	StrictHostKeyChecking string // "yes", "no", "accept-new", ...
	ServerAliveInterval   int
}

// Parse reads an OpenSSH-style config from r and returns every Host block
// keyed by each of its (possibly multiple, space-separated) patterns.
func Parse(r io.Reader) (map[string]HostConfig, error) {
	hosts := make(map[string]HostConfig)
	var currentPatterns []string

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		key, value, ok := splitDirective(line)
		if !ok {
			continue
		}

		switch strings.ToLower(key) {
		case "host":
			currentPatterns = strings.Fields(value)
			for _, p := range currentPatterns {
				if _, exists := hosts[p]; !exists {
					hosts[p] = HostConfig{}
				}
			}
		case "hostname":
			applyToCurrent(hosts, currentPatterns, func(h *HostConfig) { h.HostName = value })
		case "port":
			if port, err := strconv.Atoi(value); err == nil {
				applyToCurrent(hosts, currentPatterns, func(h *HostConfig) { h.Port = port })
			}
		case "user":
			applyToCurrent(hosts, currentPatterns, func(h *HostConfig) { h.User = value })
		case "identityfile":
			applyToCurrent(hosts, currentPatterns, func(h *HostConfig) { h.IdentityFile = expandHome(value) })
		case "stricthostkeychecking":
			applyToCurrent(hosts, currentPatterns, func(h *HostConfig) { h.StrictHostKeyChecking = value })
		case "serveraliveinterval":
			if n, err := strconv.Atoi(value); err == nil {
				applyToCurrent(hosts, currentPatterns, func(h *HostConfig) { h.ServerAliveInterval = n })
			}
		}
	}
	return hosts, scanner.Err()
}

func splitDirective(line string) (key, value string, ok bool) {
	fields := strings.SplitN(line, "=", 2)
	if len(fields) == 2 && !strings.ContainsAny(strings.TrimSpace(fields[0]), " \t") {
		return strings.TrimSpace(fields[0]), strings.TrimSpace(fields[1]), true
	}
	i := strings.IndexAny(line, " \t")
	if i < 0 {
		return "", "", false
	}
	return line[:i], strings.TrimSpace(line[i+1:]), true
}

func applyToCurrent(hosts map[string]HostConfig, patterns []string, fn func(*HostConfig)) {
	for _, p := range patterns {
		h := hosts[p]
		fn(&h)
		hosts[p] = h
	}
}

func expandHome(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}

// Lookup parses the user's default ~/.ssh/config (if present) and returns
// the HostConfig whose pattern matches alias exactly, or the zero value if
// no config file exists or no pattern matches. A missing file is not an
// error: it simply means "no user config to layer over defaults".
func Lookup(alias string) (HostConfig, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return HostConfig{}, nil
	}
	f, err := os.Open(filepath.Join(home, ".ssh", "config"))
	if err != nil {
		if os.IsNotExist(err) {
			return HostConfig{}, nil
		}
		return HostConfig{}, err
	}
	defer f.Close()

	hosts, err := Parse(f)
	if err != nil {
		return HostConfig{}, err
	}
	return hosts[alias], nil
}

// HostAlias extracts the host alias from a team's `remote` spec by
// stripping a leading "ssh " and, for a "user@host" form, taking the host
// part (§4.2/§6).
func HostAlias(remote string) (alias, user string) {
	spec := strings.TrimSpace(remote)
	spec = strings.TrimPrefix(spec, "ssh ")
	spec = strings.TrimSpace(spec)
	if at := strings.Index(spec, "@"); at >= 0 {
		return spec[at+1:], spec[:at]
	}
	return spec, ""
}
