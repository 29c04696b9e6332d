package engine

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/turtacn/CrimeSight-Intelligence/internal/config"
	"github.com/turtacn/CrimeSight-Intelligence/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/CrimeSight-Intelligence/pkg/errors"
)

// CacheKey identifies a result by engine, operation, config version,
// snapshot version and the canonical JSON encoding of the request.
func CacheKey(engine, op, configVersion string, snapshotVersion uint64, req interface{}) (string, error) {
	b, err := json.Marshal(req)
	if err != nil {
		return "", errors.Wrap(err, errors.ErrCodeSerialization, "encode request for cache key")
	}
	return fmt.Sprintf("%s:%s:%s:%d:%x", engine, op, configVersion, snapshotVersion, sha256.Sum256(b)), nil
}

// Registry holds the named engine instances.
type Registry struct {
	mu       sync.RWMutex
	services map[string]*service
	version  string
	deps     Deps
	logger   logging.Logger
}

// NewRegistry builds one Service per configured instance.  All instances
// share deps.
func NewRegistry(cfg config.EngineConfig, deps Deps) (*Registry, error) {
	deps = deps.withDefaults()
	rcs, err := runConfigs(cfg)
	if err != nil {
		return nil, err
	}
	r := &Registry{
		services: make(map[string]*service, len(rcs)),
		version:  cfg.Version,
		deps:     deps,
		logger:   deps.Logger.Named("registry"),
	}
	for name, rc := range rcs {
		r.services[name] = newService(name, rc, deps)
	}
	return r, nil
}

func runConfigs(cfg config.EngineConfig) (map[string]RunConfig, error) {
	if len(cfg.Instances) == 0 {
		return nil, errors.New(errors.ErrCodeValidation, "no engine instances configured")
	}
	out := make(map[string]RunConfig, len(cfg.Instances))
	for _, name := range cfg.InstanceNames() {
		rc, err := NewRunConfig(name, cfg.Version, cfg.Instances[name])
		if err != nil {
			return nil, err
		}
		out[name] = rc
	}
	return out, nil
}

// Get returns the named engine.
func (r *Registry) Get(name string) (Service, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.services[name]
	if !ok {
		return nil, errors.Newf(errors.ErrCodeEngineNotFound, "engine %q is not configured", name)
	}
	return s, nil
}

// Names lists the engines in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.services))
	for n := range r.services {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Version is the engine config version currently applied.
func (r *Registry) Version() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.version
}

// Reload applies a new engine config.  Nothing changes if any instance is
// invalid.  Calls already running finish with the RunConfig they started
// with.
func (r *Registry) Reload(cfg config.EngineConfig) error {
	rcs, err := runConfigs(cfg)
	if err != nil {
		r.logger.Warn("engine config rejected", logging.String("version", cfg.Version), logging.Err(err))
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for name := range r.services {
		if _, ok := rcs[name]; !ok {
			delete(r.services, name)
		}
	}
	for name, rc := range rcs {
		if s, ok := r.services[name]; ok {
			s.setRunConfig(rc)
			continue
		}
		r.services[name] = newService(name, rc, r.deps)
	}
	prev := r.version
	r.version = cfg.Version
	r.logger.Info("engine config applied",
		logging.String("previous", prev), logging.String("version", cfg.Version), logging.Int("engines", len(rcs)))
	return nil
}
