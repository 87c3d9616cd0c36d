package inventory

import (
	"fmt"
	"math/rand"
	"net"
	"sort"
	"strings"
	"sync"
	"time"
)

// CapacitySource resolves a host's declared (numCpus, powerIndex) from
// external configuration (the hosts-info file). It returns (0, 0) when it
// has no opinion about an address; the Store turns any non-positive value
// into the (1, 1) default.
type CapacitySource interface {
	Lookup(ip net.IP) (numCpus, powerIndex int)
}

// defaultCapacity is used when no CapacitySource is configured.
type defaultCapacity struct{}

func (defaultCapacity) Lookup(net.IP) (int, int) { return 0, 0 }

// assignment is one held CPU slot, tagged with the connection that
// currently owns it.
type assignment struct {
	cpuIP     uint32
	clientKey uint64
}

// Store is the sole mutator of the host/CPU inventory. Every exported
// method takes the lock; every unexported method suffixed Locked assumes
// the caller already holds it. This is the idiomatic Go substitute for a
// recursive mutex: sync.Mutex is not reentrant, so operations that need
// to call each other under one monitor do so via the *Locked half, never
// by re-acquiring.
type Store struct {
	mu sync.Mutex

	capacity CapacitySource

	hosts   map[uint32]*Host
	byState [5]map[uint32]*Host // indexed by HostState; index 0 unused

	availCpus map[int][]uint32 // tier -> multiset of host IPs
	assigned  []assignment

	numAssignedTotal  int
	numConcurrentPeak int
}

// NewStore constructs an empty Store. capacity may be nil, in which case
// every host defaults to (numCpus=1, powerIndex=1).
func NewStore(capacity CapacitySource) *Store {
	if capacity == nil {
		capacity = defaultCapacity{}
	}
	s := &Store{
		capacity:  capacity,
		hosts:     make(map[uint32]*Host),
		availCpus: make(map[int][]uint32),
	}
	for st := StateAvailable; st <= StateSilent; st++ {
		s.byState[st] = make(map[uint32]*Host)
	}
	return s
}

// GetHost looks up a host by IP in the universe set.
func (s *Store) GetHost(ip net.IP) (*Host, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.hosts[ipToUint32(ip)]
	return h, ok
}

// HaveHost reports whether ip is a known host.
func (s *Store) HaveHost(ip net.IP) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.hosts[ipToUint32(ip)]
	return ok
}

// AddNewHost resolves the host's declared capacity from the CapacitySource,
// constructs it in state Available with zero load averages (initial tier
// = powerIndex), and publishes its CPUs.
func (s *Store) AddNewHost(ip net.IP) *Host {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addNewHostLocked(ip)
}

func (s *Store) addNewHostLocked(ip net.IP) *Host {
	numCpus, powerIndex := s.capacity.Lookup(ip)
	if numCpus <= 0 {
		numCpus = 1
	}
	if powerIndex <= 0 {
		powerIndex = 1
	}
	h := newHost(ipToUint32(ip), numCpus, powerIndex)
	s.hosts[h.ip] = h
	s.addToAvailDbLocked(h)
	s.publishCpusLocked(h, h.CurrentTier())
	return h
}

// GetBestAvailCpu scans tiers in descending order and, at the first
// non-empty tier, removes and returns a uniformly random element. It
// returns nil when every tier is empty.
func (s *Store) GetBestAvailCpu() net.IP {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getBestAvailCpuLocked()
}

func (s *Store) getBestAvailCpuLocked() net.IP {
	tiers := make([]int, 0, len(s.availCpus))
	for t := range s.availCpus {
		tiers = append(tiers, t)
	}
	sort.Sort(sort.Reverse(sort.IntSlice(tiers)))

	for _, t := range tiers {
		slot := s.availCpus[t]
		if len(slot) == 0 {
			continue
		}
		n := rand.Intn(len(slot))
		ip := slot[n]
		s.availCpus[t] = append(slot[:n], slot[n+1:]...)
		return ipFromUint32(ip)
	}
	return nil
}

// AssignCpuToClient records cpuIP as held by clientKey and updates the
// period counters.
func (s *Store) AssignCpuToClient(cpuIP net.IP, clientKey uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.assigned = append(s.assigned, assignment{cpuIP: ipToUint32(cpuIP), clientKey: clientKey})
	s.numAssignedTotal++
	if len(s.assigned) > s.numConcurrentPeak {
		s.numConcurrentPeak = len(s.assigned)
	}
}

// ReleaseCpu removes every held CPU slot tagged with clientKey. For each
// released CPU whose host is still Available, it republishes one slot
// into the host's current tier; if the host is gone or no longer
// Available, the slot is dropped silently.
func (s *Store) ReleaseCpu(clientKey uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.assigned[:0]
	for _, a := range s.assigned {
		if a.clientKey != clientKey {
			kept = append(kept, a)
			continue
		}
		if h, ok := s.hosts[a.cpuIP]; ok && h.State == StateAvailable {
			s.addCpusToTierLocked(h.CurrentTier(), h.ip, 1)
		}
	}
	s.assigned = kept
}

// HandleSilentHosts applies Silent to every host whose last heartbeat is
// older than SilentAfter.
func (s *Store) HandleSilentHosts(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, h := range s.hosts {
		if h.SeemsDown(now) {
			s.silentLocked(h)
		}
	}
}

// GetStatsFromDb atomically snapshots and resets the period counters and
// computes the current total CPU count (available + assigned).
func (s *Store) GetStatsFromDb() (served, peak, totalCpus int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	served = s.numAssignedTotal
	peak = s.numConcurrentPeak
	s.numAssignedTotal = 0
	s.numConcurrentPeak = 0

	for _, slot := range s.availCpus {
		totalCpus += len(slot)
	}
	totalCpus += len(s.assigned)
	return served, peak, totalCpus
}

// CountsByState tallies known hosts by lifecycle state, for the metrics
// exporter's per-state gauge.
func (s *Store) CountsByState() map[HostState]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	counts := make(map[HostState]int, 4)
	for st := StateAvailable; st <= StateSilent; st++ {
		counts[st] = len(s.byState[st])
	}
	return counts
}

// CpuCounts returns the current number of free and assigned CPU slots.
func (s *Store) CpuCounts() (avail, assigned int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, slot := range s.availCpus {
		avail += len(slot)
	}
	return avail, len(s.assigned)
}

// Serialize renders the monitor snapshot: one "H: <ip> <state>" line per
// known host in ascending IP order, then one "C <tier>: <ip>/<count> ..."
// line per non-empty tier in ascending tier order, with identical IPs
// within a tier coalesced into a single ip/count run.
func (s *Store) Serialize() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	ips := make([]uint32, 0, len(s.hosts))
	for ip := range s.hosts {
		ips = append(ips, ip)
	}
	sort.Slice(ips, func(i, j int) bool { return ips[i] < ips[j] })

	var b strings.Builder
	for _, ip := range ips {
		h := s.hosts[ip]
		fmt.Fprintf(&b, "H: %s %d\n", h.IP(), int(h.State))
	}

	tiers := make([]int, 0, len(s.availCpus))
	for t := range s.availCpus {
		tiers = append(tiers, t)
	}
	sort.Ints(tiers)

	for _, t := range tiers {
		slot := s.availCpus[t]
		if len(slot) == 0 {
			continue
		}
		counts := make(map[uint32]int, len(slot))
		for _, ip := range slot {
			counts[ip]++
		}
		tierIPs := make([]uint32, 0, len(counts))
		for ip := range counts {
			tierIPs = append(tierIPs, ip)
		}
		sort.Slice(tierIPs, func(i, j int) bool { return tierIPs[i] < tierIPs[j] })

		fmt.Fprintf(&b, "C %d: ", t)
		for _, ip := range tierIPs {
			fmt.Fprintf(&b, "%s/%d ", ipFromUint32(ip), counts[ip])
		}
		b.WriteByte('\n')
	}
	return b.String()
}

// Avail, Unavail, Overloaded and Silent are the state-machine transitions
// invoked directly (e.g. by "status up/down" or explicit recovery), as
// opposed to UpdateTier's internal tier-driven transitions.

func (s *Store) Avail(h *Host) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.availLocked(h)
}

func (s *Store) Unavail(h *Host) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unavailLocked(h)
}

func (s *Store) Overloaded(h *Host) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.overloadedLocked(h)
}

func (s *Store) Silent(h *Host) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.silentLocked(h)
}

func (s *Store) availLocked(h *Host) {
	switch h.State {
	case StateAvailable:
		return
	case StateUnavailable:
		s.delFromUnavailDbLocked(h)
	case StateOverloaded:
		s.delFromOverloadedDbLocked(h)
	case StateSilent:
		s.delFromSilentDbLocked(h)
	}
	s.addToAvailDbLocked(h)
	s.publishCpusLocked(h, h.CurrentTier())
}

func (s *Store) unavailLocked(h *Host) {
	switch h.State {
	case StateAvailable:
		s.withdrawCpusLocked(h, h.CurrentTier())
		s.delFromAvailDbLocked(h)
	case StateUnavailable:
		return
	case StateOverloaded:
		s.delFromOverloadedDbLocked(h)
	case StateSilent:
		s.delFromSilentDbLocked(h)
	}
	s.addToUnavailDbLocked(h)
}

func (s *Store) overloadedLocked(h *Host) {
	switch h.State {
	case StateAvailable:
		s.withdrawCpusLocked(h, h.CurrentTier())
		s.delFromAvailDbLocked(h)
	case StateUnavailable:
		s.delFromUnavailDbLocked(h)
	case StateOverloaded:
		return
	case StateSilent:
		s.delFromSilentDbLocked(h)
	}
	s.addToOverloadedDbLocked(h)
}

func (s *Store) silentLocked(h *Host) {
	switch h.State {
	case StateAvailable:
		s.withdrawCpusLocked(h, h.CurrentTier())
		s.delFromAvailDbLocked(h)
	case StateUnavailable:
		s.delFromUnavailDbLocked(h)
	case StateOverloaded:
		s.delFromOverloadedDbLocked(h)
	case StateSilent:
		return
	}
	s.addToSilentDbLocked(h)
}

// ObserveLoad performs a full load-average observation as one atomic
// operation: look up the host (creating it on first contact), call
// avail() unless it has been administratively marked Unavailable, then
// updateTier — all under a single lock acquisition. Doing this as one
// call rather than three separate ones (lookup/create, avail, updateTier)
// matters: if the lock were released between avail() and updateTier, a
// concurrent host() request could observe an Overloaded host briefly
// republished as Available before its still-overloaded averages are
// reapplied.
func (s *Store) ObserveLoad(ip net.IP, rawLd1, rawLd5, rawLd10 float64, now time.Time) *Host {
	s.mu.Lock()
	defer s.mu.Unlock()

	h, ok := s.hosts[ipToUint32(ip)]
	if !ok {
		h = s.addNewHostLocked(ip)
	}
	if !h.IsUnavailable() {
		s.availLocked(h)
	}
	s.updateTierLocked(h, rawLd1, rawLd5, rawLd10, now)
	return h
}

// UpdateTier normalizes the raw load averages by numCpus, compares the
// newly implied tier against the tier implied by the previously stored
// averages, and transitions or migrates CPU entries accordingly. It
// always stores the new averages.
func (s *Store) UpdateTier(h *Host, rawLd1, rawLd5, rawLd10 float64, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updateTierLocked(h, rawLd1, rawLd5, rawLd10, now)
}

func (s *Store) updateTierLocked(h *Host, rawLd1, rawLd5, rawLd10 float64, now time.Time) {
	cpus := float64(h.NumCpus)
	if cpus <= 0 {
		cpus = 1
	}
	ld1 := rawLd1 / cpus
	ld5 := rawLd5 / cpus
	ld10 := rawLd10 / cpus

	oldTier := h.CurrentTier()
	newTier := tier(ld1, ld5, ld10, h.PowerIndex)

	switch {
	case newTier == 0 && h.State != StateOverloaded:
		// overloadedLocked withdraws from h.CurrentTier(), which still
		// reads as oldTier since the new averages aren't stored yet.
		s.overloadedLocked(h)
	case oldTier == 0 && newTier > 0:
		switch h.State {
		case StateAvailable:
			// avail() ran while the stored averages still implied tier 0
			// and published there; take those entries back out.
			s.withdrawCpusLocked(h, oldTier)
		case StateOverloaded:
			s.delFromOverloadedDbLocked(h)
		case StateUnavailable:
			s.delFromUnavailDbLocked(h)
		case StateSilent:
			s.delFromSilentDbLocked(h)
		}
		s.addToAvailDbLocked(h)
		s.publishCpusLocked(h, newTier)
	case newTier != oldTier && h.State == StateAvailable:
		s.moveCpusLocked(h, oldTier, newTier)
	}

	h.Ld1, h.Ld5, h.Ld10 = ld1, ld5, ld10
	h.LastUpdate = now
}

// Set-migration primitives. They only move a host between the four
// state-indexed sets and keep h.State in sync; CPU-pool bookkeeping is
// handled separately by withdraw/publish/move.

func (s *Store) addToAvailDbLocked(h *Host) {
	h.State = StateAvailable
	s.byState[StateAvailable][h.ip] = h
}

func (s *Store) delFromAvailDbLocked(h *Host) {
	delete(s.byState[StateAvailable], h.ip)
}

func (s *Store) addToUnavailDbLocked(h *Host) {
	h.State = StateUnavailable
	s.byState[StateUnavailable][h.ip] = h
}

func (s *Store) delFromUnavailDbLocked(h *Host) {
	delete(s.byState[StateUnavailable], h.ip)
}

func (s *Store) addToOverloadedDbLocked(h *Host) {
	h.State = StateOverloaded
	s.byState[StateOverloaded][h.ip] = h
}

func (s *Store) delFromOverloadedDbLocked(h *Host) {
	delete(s.byState[StateOverloaded], h.ip)
}

func (s *Store) addToSilentDbLocked(h *Host) {
	h.State = StateSilent
	s.byState[StateSilent][h.ip] = h
}

func (s *Store) delFromSilentDbLocked(h *Host) {
	delete(s.byState[StateSilent], h.ip)
}

// CPU-pool primitives: move, remove, and add multiset entries for a tier.

func (s *Store) withdrawCpusLocked(h *Host, t int) {
	s.delCpusFromTierLocked(t, h.ip)
}

func (s *Store) publishCpusLocked(h *Host, t int) {
	s.addCpusToTierLocked(t, h.ip, h.NumCpus)
}

func (s *Store) moveCpusLocked(h *Host, oldTier, newTier int) {
	n := s.delCpusFromTierLocked(oldTier, h.ip)
	s.addCpusToTierLocked(newTier, h.ip, n)
}

func (s *Store) delCpusFromTierLocked(t int, ip uint32) int {
	slot := s.availCpus[t]
	kept := slot[:0]
	count := 0
	for _, e := range slot {
		if e == ip {
			count++
			continue
		}
		kept = append(kept, e)
	}
	s.availCpus[t] = kept
	return count
}

func (s *Store) addCpusToTierLocked(t int, ip uint32, n int) {
	if n <= 0 {
		return
	}
	for i := 0; i < n; i++ {
		s.availCpus[t] = append(s.availCpus[t], ip)
	}
}
