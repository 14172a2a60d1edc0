package main

import (
	"fmt"
	"strings"

	"github.com/pvmon/pvmon/internal/config"
	"github.com/pvmon/pvmon/internal/pv"
)

// parsePVArg splits "NAME@type". Names may contain ':' so '@' separates the
// optional type. An empty type leaves the configured type in place.
func parsePVArg(arg string) (config.PVConfig, error) {
	name, kind, hasKind := strings.Cut(strings.TrimSpace(arg), "@")
	name = strings.TrimSpace(name)
	if name == "" {
		return config.PVConfig{}, fmt.Errorf("pv %q: empty name", arg)
	}
	p := config.PVConfig{Name: name}
	if !hasKind {
		return p, nil
	}
	kind = strings.TrimSpace(kind)
	if kind == "" {
		return config.PVConfig{}, fmt.Errorf("pv %q: empty type after '@'", arg)
	}
	if _, err := pv.ParseKind(kind); err != nil {
		return config.PVConfig{}, fmt.Errorf("pv %q: %w", arg, err)
	}
	p.Type = kind

	return p, nil
}

func parsePVArgs(args []string) ([]config.PVConfig, error) {
	out := make([]config.PVConfig, 0, len(args))
	for _, arg := range args {
		p, err := parsePVArg(arg)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}
