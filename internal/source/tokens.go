package source

import (
	"context"
	"fmt"
	"os"
	"strings"
)

// StaticTokenProvider supplies a fixed bearer token.
type StaticTokenProvider struct {
	token string
}

func NewStaticTokenProvider(token string) *StaticTokenProvider {
	return &StaticTokenProvider{token: token}
}

func (p *StaticTokenProvider) Token(context.Context) (string, error) {
	if p.token == "" {
		return "", fmt.Errorf("no token configured")
	}
	return p.token, nil
}

// EnvTokenProvider reads the token from an environment variable on every
// call, so an external refresher can rotate it.
type EnvTokenProvider struct {
	envVar string
}

func NewEnvTokenProvider(envVar string) *EnvTokenProvider {
	return &EnvTokenProvider{envVar: envVar}
}

func (p *EnvTokenProvider) Token(context.Context) (string, error) {
	v := os.Getenv(p.envVar)
	if v == "" {
		return "", fmt.Errorf("environment variable %s is empty", p.envVar)
	}
	return v, nil
}

// FileTokenProvider reads the token from a file on every call. Written by
// `smig config set-token` and refreshable by external tooling.
type FileTokenProvider struct {
	path string
}

func NewFileTokenProvider(path string) *FileTokenProvider {
	return &FileTokenProvider{path: path}
}

func (p *FileTokenProvider) Token(context.Context) (string, error) {
	data, err := os.ReadFile(p.path)
	if err != nil {
		return "", fmt.Errorf("reading token file: %w", err)
	}
	token := strings.TrimSpace(string(data))
	if token == "" {
		return "", fmt.Errorf("token file %s is empty", p.path)
	}
	return token, nil
}
