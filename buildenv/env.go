// Package buildenv describes the environment handed to the vLLM build tools: the build Profile with the hardware
// target, the Env overrides passed to child processes, and the Torch / ROCm paths CMake needs to find.
//
// Nothing in this package changes the environment of the running process: an Env is only materialized when a
// child process is started, see Env.Environ.
package buildenv

import (
	"sort"
	"strings"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/gomlx/rocmbuild/internal/fsutil"
)

// Env is an ordered set of environment variable overrides.
//
// The zero value is not usable, create it with NewEnv.
type Env struct {
	keys   []string
	values map[string]string
}

// NewEnv returns an empty Env.
func NewEnv() *Env {
	return &Env{values: make(map[string]string)}
}

// Set the variable key to value. Keys keep the order in which they were first set.
// It returns the Env itself, so calls can be chained.
func (e *Env) Set(key, value string) *Env {
	if _, found := e.values[key]; !found {
		e.keys = append(e.keys, key)
	}
	e.values[key] = value
	return e
}

// Get returns the value of key, and whether it was set.
func (e *Env) Get(key string) (string, bool) {
	v, ok := e.values[key]
	return v, ok
}

// Keys returns the keys set, in order.
func (e *Env) Keys() []string {
	keys := make([]string, len(e.keys))
	copy(keys, e.keys)
	return keys
}

// Len returns the number of variables set.
func (e *Env) Len() int {
	return len(e.keys)
}

// Merge sets all variables in vars, in sorted key order.
func (e *Env) Merge(vars map[string]string) *Env {
	keys := make([]string, 0, len(vars))
	for key := range vars {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		e.Set(key, vars[key])
	}
	return e
}

// Clone returns an independent copy of the Env.
func (e *Env) Clone() *Env {
	c := NewEnv()
	for _, key := range e.keys {
		c.Set(key, e.values[key])
	}
	return c
}

// Environ returns base (usually os.Environ()) with the variables of e applied on top, in the "key=value" format
// expected by exec.Cmd.Env. Entries of base overridden by e are dropped.
func (e *Env) Environ(base []string) []string {
	result := make([]string, 0, len(base)+len(e.keys))
	for _, entry := range base {
		key, _, _ := strings.Cut(entry, "=")
		if _, overridden := e.values[key]; overridden {
			continue
		}
		result = append(result, entry)
	}
	for _, key := range e.keys {
		result = append(result, key+"="+e.values[key])
	}
	return result
}

// String returns the variables as space-separated "key=value" pairs.
func (e *Env) String() string {
	parts := make([]string, len(e.keys))
	for ii, key := range e.keys {
		parts[ii] = key + "=" + e.values[key]
	}
	return strings.Join(parts, " ")
}

// LoadEnvFile reads the dotenv file at path and merges its variables into env, overriding existing ones.
//
// If the file doesn't exist and required is false, it does nothing.
func LoadEnvFile(env *Env, path string, required bool) error {
	exists, err := fsutil.Exists(path)
	if err != nil {
		return err
	}
	if !exists {
		if required {
			return errors.Errorf("environment file %q not found", path)
		}
		klog.V(1).Infof("No environment file in %q", path)
		return nil
	}
	vars, err := godotenv.Read(path)
	if err != nil {
		return errors.Wrapf(err, "could not load %s", path)
	}
	klog.V(1).Infof("Loaded %d variable(s) from %s", len(vars), path)
	env.Merge(vars)
	return nil
}
