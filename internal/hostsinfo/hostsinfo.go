// Package hostsinfo reads the hosts-info file: a YAML document mapping
// worker IPs to their declared (numCpus, powerIndex). It caches the
// parsed result keyed by the file's size and modification time, and
// optionally watches the file for changes so an operator's edit is
// picked up without a dispatcher restart.
package hostsinfo

import (
	"fmt"
	"net"
	"os"
	"sync"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v2"
)

type entry struct {
	NumCpus    int `yaml:"num_cpus"`
	PowerIndex int `yaml:"power_index"`
}

type document struct {
	Hosts map[string]entry `yaml:"hosts"`
}

// Info is the parsed, cached contents of a hosts-info file.
type Info struct {
	byIP map[uint32]entry
}

// Lookup implements inventory.CapacitySource. It returns (0, 0) when the
// address has no declared entry; callers default (0, 0) to (1, 1).
func (i *Info) Lookup(ip net.IP) (numCpus, powerIndex int) {
	if i == nil {
		return 0, 0
	}
	e, ok := i.byIP[ipToUint32(ip)]
	if !ok {
		return 0, 0
	}
	return e.NumCpus, e.PowerIndex
}

func parse(path string) (*Info, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("hostsinfo: parsing %s: %w", path, err)
	}
	byIP := make(map[uint32]entry, len(doc.Hosts))
	for addr, e := range doc.Hosts {
		ip := net.ParseIP(addr)
		if ip == nil {
			return nil, fmt.Errorf("hostsinfo: %s: invalid address %q", path, addr)
		}
		byIP[ipToUint32(ip)] = e
	}
	return &Info{byIP: byIP}, nil
}

func ipToUint32(ip net.IP) uint32 {
	v4 := ip.To4()
	if v4 == nil {
		return 0
	}
	return uint32(v4[0])<<24 | uint32(v4[1])<<16 | uint32(v4[2])<<8 | uint32(v4[3])
}

// cachedEntry holds a parsed result with the stat fields it was read
// under: it stays valid until the file's size or mtime changes.
type cachedEntry struct {
	size    int64
	modTime int64
	info    *Info
}

// Cache loads and memoizes hosts-info files, re-parsing only when a
// file's stat metadata changes.
type Cache struct {
	mu      sync.Mutex
	entries map[string]*cachedEntry
}

// NewCache constructs an empty Cache.
func NewCache() *Cache {
	return &Cache{entries: make(map[string]*cachedEntry)}
}

// Get returns the cached Info for path, reparsing if the file has
// changed since the last call.
func (c *Cache) Get(path string) (*Info, error) {
	stat, err := os.Stat(path)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if existing, ok := c.entries[path]; ok {
		if existing.size == stat.Size() && existing.modTime == stat.ModTime().UnixNano() {
			return existing.info, nil
		}
	}

	info, err := parse(path)
	if err != nil {
		return nil, err
	}
	c.entries[path] = &cachedEntry{
		size:    stat.Size(),
		modTime: stat.ModTime().UnixNano(),
		info:    info,
	}
	return info, nil
}

// Source adapts a Cache to inventory.CapacitySource by re-Getting path
// on every Lookup, instead of freezing the file's contents at whatever
// they were when the Source was constructed. Get itself is cheap when
// nothing has changed (one stat, no reparse), so this is how a file
// edited after startup actually reaches addNewHostLocked: Watch alone
// only invalidates the cache entry, it never re-fetches it.
type Source struct {
	cache *Cache
	path  string
}

// NewSource builds a Source that re-resolves path through cache on
// every Lookup.
func NewSource(cache *Cache, path string) *Source {
	return &Source{cache: cache, path: path}
}

// Lookup implements inventory.CapacitySource.
func (s *Source) Lookup(ip net.IP) (numCpus, powerIndex int) {
	info, err := s.cache.Get(s.path)
	if err != nil {
		return 0, 0
	}
	return info.Lookup(ip)
}

// invalidate drops any cached entry for path, forcing the next Get to
// reparse even if stat metadata happens to collide.
func (c *Cache) invalidate(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, path)
}

// Watch starts an fsnotify watcher on path's containing directory and
// invalidates the cache entry for path on any write or rename event. It
// runs until stop is closed. Watch errors are non-fatal: failing to set
// up hot-reload degrades to "restart to pick up edits", not a crash.
func (c *Cache) Watch(path string, stop <-chan struct{}) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("hostsinfo: starting watcher: %w", err)
	}
	dir := dirOf(path)
	if err := w.Add(dir); err != nil {
		w.Close()
		return fmt.Errorf("hostsinfo: watching %s: %w", dir, err)
	}

	go func() {
		defer w.Close()
		for {
			select {
			case <-stop:
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if ev.Name == path && (ev.Op&(fsnotify.Write|fsnotify.Rename|fsnotify.Create) != 0) {
					c.invalidate(path)
				}
			case _, ok := <-w.Errors:
				if !ok {
					return
				}
			}
		}
	}()
	return nil
}

func dirOf(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			return path[:i]
		}
	}
	return "."
}
