package hostsinfo

import (
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeFile(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "hosts.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLookupDeclaredCapacity(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "hosts:\n  10.0.0.1: {num_cpus: 2, power_index: 3}\n")

	c := NewCache()
	info, err := c.Get(path)
	if err != nil {
		t.Fatal(err)
	}
	n, p := info.Lookup(net.ParseIP("10.0.0.1"))
	if n != 2 || p != 3 {
		t.Fatalf("Lookup = (%d,%d), want (2,3)", n, p)
	}
}

func TestLookupMissingEntryReturnsZero(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "hosts:\n  10.0.0.1: {num_cpus: 2, power_index: 3}\n")

	c := NewCache()
	info, err := c.Get(path)
	if err != nil {
		t.Fatal(err)
	}
	n, p := info.Lookup(net.ParseIP("10.0.0.9"))
	if n != 0 || p != 0 {
		t.Fatalf("Lookup for unknown host = (%d,%d), want (0,0)", n, p)
	}
}

func TestGetCachesUntilFileChanges(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "hosts:\n  10.0.0.1: {num_cpus: 2, power_index: 3}\n")

	c := NewCache()
	first, err := c.Get(path)
	if err != nil {
		t.Fatal(err)
	}
	second, err := c.Get(path)
	if err != nil {
		t.Fatal(err)
	}
	if first != second {
		t.Fatalf("Get returned a different *Info without a file change")
	}

	time.Sleep(10 * time.Millisecond)
	if err := os.WriteFile(path, []byte("hosts:\n  10.0.0.1: {num_cpus: 4, power_index: 5}\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	third, err := c.Get(path)
	if err != nil {
		t.Fatal(err)
	}
	if third == second {
		t.Fatalf("Get did not reparse after file content changed")
	}
	n, p := third.Lookup(net.ParseIP("10.0.0.1"))
	if n != 4 || p != 5 {
		t.Fatalf("Lookup after reparse = (%d,%d), want (4,5)", n, p)
	}
}

func TestSourceLookupReflectsFileEditsWithoutReconstruction(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "hosts:\n  10.0.0.1: {num_cpus: 2, power_index: 3}\n")

	c := NewCache()
	if _, err := c.Get(path); err != nil {
		t.Fatal(err)
	}
	src := NewSource(c, path)

	n, p := src.Lookup(net.ParseIP("10.0.0.1"))
	if n != 2 || p != 3 {
		t.Fatalf("Lookup before edit = (%d,%d), want (2,3)", n, p)
	}

	time.Sleep(10 * time.Millisecond)
	if err := os.WriteFile(path, []byte("hosts:\n  10.0.0.1: {num_cpus: 8, power_index: 1}\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	n, p = src.Lookup(net.ParseIP("10.0.0.1"))
	if n != 8 || p != 1 {
		t.Fatalf("Lookup after edit = (%d,%d), want (8,1); Source is not re-resolving through the Cache", n, p)
	}
}
