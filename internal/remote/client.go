package remote

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"
	"sync"
	"time"
)

// Client is the read surface a sync run consumes. All methods are safe
// for sequential use within one run; implementations do not retry
// internally — a transport failure surfaces as ErrUnavailable and the
// caller decides what to do with the run.
type Client interface {
	// Name identifies the backend ("http", "bundle") for logging.
	Name() string

	// Stats returns catalog-wide counts and the server version.
	Stats(ctx context.Context) (*Stats, error)

	// Scenes returns one page of scenes matching the filter (nil means
	// all), plus the total match count across all pages. Pages are
	// 1-based.
	Scenes(ctx context.Context, filter *SceneFilter, page, perPage int) ([]*ScenePayload, int, error)

	// Scene returns a single scene by id, or ErrNotFound.
	Scene(ctx context.Context, id string) (*ScenePayload, error)

	// Entities returns every entity of a reference kind.
	Entities(ctx context.Context, kind EntityKind) ([]*EntityPayload, error)

	// EntitiesSince returns reference entities modified after the given
	// instant. Backends may over-report (include entities with unknown
	// modification times); they never under-report.
	EntitiesSince(ctx context.Context, kind EntityKind, since time.Time) ([]*EntityPayload, error)
}

// Constructor creates a Client for a target string.
// Implementations register themselves with the registry using Register().
type Constructor func(target string, opts Options) (Client, error)

// Options carries backend configuration shared by all implementations.
// Zero values select defaults.
type Options struct {
	// APIKey is sent with every HTTP request. Ignored by backends that
	// have no authentication.
	APIKey string

	// Timeout bounds a single remote call. Defaults to 60s.
	Timeout time.Duration

	// Logger receives backend diagnostics. Defaults to stderr with a
	// "[remote] " prefix.
	Logger *log.Logger
}

func (o Options) logger() *log.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return log.New(os.Stderr, "[remote] ", log.LstdFlags)
}

// registry maps backend schemes to their constructors
var (
	registry      = make(map[string]Constructor)
	registryMutex sync.RWMutex
)

// Register registers a backend constructor under a scheme.
// This is called from init() functions in backend files.
//
// Example:
//
//	func init() {
//	    remote.Register("http", newHTTPClient)
//	}
func Register(scheme string, constructor Constructor) {
	registryMutex.Lock()
	defer registryMutex.Unlock()

	if constructor == nil {
		panic(fmt.Sprintf("remote: Register constructor is nil for scheme %s", scheme))
	}

	if _, exists := registry[scheme]; exists {
		panic(fmt.Sprintf("remote: Register called twice for scheme %s", scheme))
	}

	registry[scheme] = constructor
}

// getConstructor retrieves the constructor for a scheme.
// Returns nil if the scheme is not registered.
func getConstructor(scheme string) Constructor {
	registryMutex.RLock()
	defer registryMutex.RUnlock()
	return registry[scheme]
}

// IsRegistered returns true if a constructor is registered for the scheme.
func IsRegistered(scheme string) bool {
	registryMutex.RLock()
	defer registryMutex.RUnlock()
	_, exists := registry[scheme]
	return exists
}

// RegisteredBackends returns all registered backend schemes.
// Useful for error messages and tests.
func RegisteredBackends() []string {
	registryMutex.RLock()
	defer registryMutex.RUnlock()

	schemes := make([]string, 0, len(registry))
	for s := range registry {
		schemes = append(schemes, s)
	}
	return schemes
}

// DetectBackend decides which backend scheme handles a target.
// URLs go to the HTTP backend; anything else is treated as a bundle
// directory on disk.
func DetectBackend(target string) string {
	if strings.HasPrefix(target, "http://") || strings.HasPrefix(target, "https://") {
		return "http"
	}
	return "bundle"
}

// Connect creates a Client for the target, picking the backend by
// DetectBackend. This is the main entry point for commands.
func Connect(target string, opts Options) (Client, error) {
	return ConnectScheme(DetectBackend(target), target, opts)
}

// ConnectScheme creates a Client using an explicit backend scheme,
// bypassing detection. Useful when a command forces a backend.
func ConnectScheme(scheme, target string, opts Options) (Client, error) {
	constructor := getConstructor(scheme)
	if constructor == nil {
		return nil, fmt.Errorf("%w: %s (registered: %v)", ErrUnsupportedTarget, scheme, RegisteredBackends())
	}

	c, err := constructor(target, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s backend: %w", scheme, err)
	}
	return c, nil
}
