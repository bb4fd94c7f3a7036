package main

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/juniper-run/juniper/pkg/kernel"
	"github.com/juniper-run/juniper/pkg/orchestrator"
)

// fileConfig is the YAML configuration file. Field names match the
// option vocabulary of the original embedded-cell implementation, so a
// site config can be shared between the two.
type fileConfig struct {
	Repository             string                     `yaml:"repository"`
	Branch                 string                     `yaml:"branch"`
	ProvisioningServiceURL string                     `yaml:"provisioningServiceUrl"`
	StaticSettings         *kernel.ConnectionSettings `yaml:"staticConnectionSettings"`
	KernelType             string                     `yaml:"kernelType"`
	UseProvisioning        *bool                      `yaml:"useProvisioning"`
	UseCache               *bool                      `yaml:"useCache"`
	CacheKey               string                     `yaml:"cacheKey"`
	CacheTTLMinutes        int                        `yaml:"cacheTtlMinutes"`
	IsolateExecutions      *bool                      `yaml:"isolateExecutions"`
	LoadingMessage         string                     `yaml:"loadingMessage"`
	ErrorMessage           string                     `yaml:"errorMessage"`
}

func loadConfigFile(path string) (*fileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg fileConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return &cfg, nil
}

// apply folds the file config into options. Only set fields override.
func (c *fileConfig) apply(opts orchestrator.Options) orchestrator.Options {
	if c == nil {
		return opts
	}
	if c.Repository != "" {
		opts.Repository = c.Repository
	}
	if c.Branch != "" {
		opts.Branch = c.Branch
	}
	if c.ProvisioningServiceURL != "" {
		opts.ServiceURL = c.ProvisioningServiceURL
	}
	if c.StaticSettings != nil {
		opts.StaticSettings = c.StaticSettings
	}
	if c.KernelType != "" {
		opts.KernelType = c.KernelType
	}
	if c.UseProvisioning != nil {
		opts.UseProvisioning = *c.UseProvisioning
	}
	if c.UseCache != nil {
		opts.UseCache = *c.UseCache
	}
	if c.CacheKey != "" {
		opts.CacheKey = c.CacheKey
	}
	if c.CacheTTLMinutes > 0 {
		opts.CacheTTL = time.Duration(c.CacheTTLMinutes) * time.Minute
	}
	if c.IsolateExecutions != nil {
		opts.IsolateExecutions = *c.IsolateExecutions
	}
	if c.LoadingMessage != "" {
		opts.LoadingMessage = c.LoadingMessage
	}
	if c.ErrorMessage != "" {
		opts.ErrorMessage = c.ErrorMessage
	}
	return opts
}
