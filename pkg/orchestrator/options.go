package orchestrator

import (
	"time"

	"github.com/juniper-run/juniper/pkg/kernel"
)

// Options configures an Orchestrator. Start from DefaultOptions and
// override; zero-value string and duration fields are filled with the
// same defaults either way.
type Options struct {
	// Repository is the GitHub repository to provision, in
	// "owner/name" form. Required when UseProvisioning is set.
	Repository string
	// Branch is the repository branch to build. Defaults to "master".
	Branch string
	// ServiceURL is the provisioning deployment base URL. Defaults to
	// "https://mybinder.org".
	ServiceURL string
	// StaticSettings connects directly to a known kernel service,
	// bypassing provisioning. Required when UseProvisioning is false.
	StaticSettings *kernel.ConnectionSettings

	// KernelType is the kernel spec to launch. Defaults to "python3".
	KernelType string

	// UseProvisioning requests a container build when no usable cached
	// session exists.
	UseProvisioning bool
	// UseCache persists session settings across runs.
	UseCache bool
	// CacheKey names the persisted record. Defaults to "juniper".
	CacheKey string
	// CacheDir overrides the record location (default: user cache dir).
	CacheDir string
	// CacheTTL bounds how long a persisted session is trusted.
	// Defaults to 60 minutes.
	CacheTTL time.Duration

	// IsolateExecutions restarts the kernel before every execution so
	// runs never share interpreter state.
	IsolateExecutions bool

	// LoadingMessage is shown in the output sink while an execution is
	// in flight.
	LoadingMessage string
	// ErrorMessage is the single user-visible message written on any
	// failure.
	ErrorMessage string
}

// DefaultOptions mirrors the defaults of the original embedded-cell
// implementation.
func DefaultOptions() Options {
	return Options{
		Branch:            "master",
		ServiceURL:        "https://mybinder.org",
		KernelType:        "python3",
		UseProvisioning:   true,
		UseCache:          true,
		CacheKey:          "juniper",
		CacheTTL:          60 * time.Minute,
		IsolateExecutions: true,
		LoadingMessage:    "Loading...",
		ErrorMessage:      "Connecting failed. Please reload and try again.",
	}
}

func (o Options) withDefaults() Options {
	def := DefaultOptions()
	if o.Branch == "" {
		o.Branch = def.Branch
	}
	if o.ServiceURL == "" {
		o.ServiceURL = def.ServiceURL
	}
	if o.KernelType == "" {
		o.KernelType = def.KernelType
	}
	if o.CacheKey == "" {
		o.CacheKey = def.CacheKey
	}
	if o.CacheTTL == 0 {
		o.CacheTTL = def.CacheTTL
	}
	if o.LoadingMessage == "" {
		o.LoadingMessage = def.LoadingMessage
	}
	if o.ErrorMessage == "" {
		o.ErrorMessage = def.ErrorMessage
	}
	return o
}
