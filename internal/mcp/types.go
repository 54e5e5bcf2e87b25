package mcp

import (
	"errors"
	"fmt"
)

// Transport selects the connection mechanism for an MCP server.
type Transport string

const (
	// TransportStdio spawns a subprocess and communicates over stdin/stdout.
	TransportStdio Transport = "stdio"

	// TransportStreamableHTTP communicates via the MCP Streamable HTTP protocol.
	TransportStreamableHTTP Transport = "streamable-http"
)

// IsValid reports whether t is a recognised transport.
func (t Transport) IsValid() bool {
	return t == TransportStdio || t == TransportStreamableHTTP
}

// ServerConfig describes how to connect to a single MCP server.
type ServerConfig struct {
	// Name identifies the server in logs and errors. Must be unique within a
	// [Host].
	Name string `yaml:"name"`

	Transport Transport `yaml:"transport"`

	// Command is the executable and its arguments, for stdio servers.
	Command string `yaml:"command"`

	// URL is the endpoint, for streamable-http servers.
	URL string `yaml:"url"`

	// Env holds extra environment variables for stdio servers.
	Env map[string]string `yaml:"env"`

	// Destructive forces every tool of this server to require confirmation,
	// regardless of its annotations.
	Destructive bool `yaml:"destructive"`
}

// Validate checks that cfg names a transport and the endpoint it needs.
func (cfg ServerConfig) Validate() error {
	var errs []error
	if cfg.Name == "" {
		errs = append(errs, errors.New("name is required"))
	}
	switch cfg.Transport {
	case TransportStdio:
		if cfg.Command == "" {
			errs = append(errs, errors.New("stdio transport requires command"))
		}
	case TransportStreamableHTTP:
		if cfg.URL == "" {
			errs = append(errs, errors.New("streamable-http transport requires url"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown transport %q", cfg.Transport))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("mcp: server %q: %w", cfg.Name, err)
	}
	return nil
}
