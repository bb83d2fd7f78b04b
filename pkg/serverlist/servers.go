// Package serverlist holds the logical server model.
//
// A logical server is a named VPN endpoint entry in the server list, distinct
// from the physical infrastructure behind it. The list as a whole expires a
// few hours after retrieval; server loads go stale much faster and are
// refreshed separately.
package serverlist

import (
	"math/rand"
	"sort"
	"strings"
	"time"
)

const (
	// ListRefreshInterval is how long a retrieved server list stays fresh.
	ListRefreshInterval = 3 * time.Hour

	// LoadsRefreshInterval is how long retrieved server loads stay fresh.
	LoadsRefreshInterval = 15 * time.Minute

	// RefreshJitter is the relative jitter applied to expiration times so
	// that clients do not all refresh at the same instant.
	RefreshJitter = 0.1
)

// Feature bits advertised by a logical server.
const (
	FeatureSecureCore = 1 << iota
	FeatureTor
	FeatureP2P
	FeatureStreaming
)

// LogicalServer is a single entry of the VPN server list.
type LogicalServer struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	ExitCountry  string `json:"exit_country"`
	EntryCountry string `json:"entry_country"`
	City         string `json:"city"`
	// EntryIP is the address the tunnel connects to.
	EntryIP          string  `json:"entry_ip"`
	Load             int     `json:"load"`
	Score            float64 `json:"score"`
	Tier             int     `json:"tier"`
	Features         int     `json:"features"`
	UnderMaintenance bool    `json:"under_maintenance"`
}

// Enabled reports whether the server can currently be connected to.
func (s LogicalServer) Enabled() bool {
	return !s.UnderMaintenance
}

// IsSecureCore reports whether the server is a secure core server.
func (s LogicalServer) IsSecureCore() bool {
	return s.Features&FeatureSecureCore != 0
}

// ServerLoad is a partial update carrying only the volatile server fields.
type ServerLoad struct {
	ID               string  `json:"id"`
	Load             int     `json:"load"`
	Score            float64 `json:"score"`
	UnderMaintenance bool    `json:"under_maintenance"`
}

// ServerList is a retrieved list of logical servers together with the
// timestamps needed to decide staleness.
type ServerList struct {
	Servers []LogicalServer

	// UserTier caps which servers the user can connect to.
	UserTier int

	// ListFetchedAt is when the full list was retrieved.
	ListFetchedAt time.Time

	// LoadsFetchedAt is when the loads were last updated. It starts equal
	// to ListFetchedAt and moves forward on every loads update.
	LoadsFetchedAt time.Time

	byID   map[string]int
	byName map[string]int
}

// New builds a ServerList retrieved at the given time and indexes it.
func New(servers []LogicalServer, userTier int, fetchedAt time.Time) *ServerList {
	l := &ServerList{
		Servers:        servers,
		UserTier:       userTier,
		ListFetchedAt:  fetchedAt,
		LoadsFetchedAt: fetchedAt,
	}
	l.reindex()
	return l
}

func (l *ServerList) reindex() {
	l.byID = make(map[string]int, len(l.Servers))
	l.byName = make(map[string]int, len(l.Servers))
	for i, s := range l.Servers {
		l.byID[s.ID] = i
		l.byName[strings.ToUpper(s.Name)] = i
	}
}

// Expired reports whether the full list is older than the refresh interval,
// with jitter so that clients spread their refreshes.
func (l *ServerList) Expired(now time.Time) bool {
	return now.After(l.listExpirationTime())
}

// LoadsExpired reports whether the server loads are stale.
func (l *ServerList) LoadsExpired(now time.Time) bool {
	return now.After(l.LoadsFetchedAt.Add(LoadsRefreshInterval))
}

// SecondsUntilExpiration returns how long until the full list expires.
// It returns zero if the list is already expired.
func (l *ServerList) SecondsUntilExpiration(now time.Time) time.Duration {
	d := l.listExpirationTime().Sub(now)
	if d < 0 {
		return 0
	}
	return d
}

func (l *ServerList) listExpirationTime() time.Time {
	jitter := 1 + RefreshJitter*(2*deterministicUnit(l.ListFetchedAt)-1)
	return l.ListFetchedAt.Add(time.Duration(float64(ListRefreshInterval) * jitter))
}

// deterministicUnit derives a stable pseudo-random value in [0, 1) from the
// fetch time, so that the jittered expiration does not move between calls.
func deterministicUnit(t time.Time) float64 {
	return rand.New(rand.NewSource(t.UnixNano())).Float64()
}

// GetByID returns the server with the given ID, or nil.
func (l *ServerList) GetByID(id string) *LogicalServer {
	if i, ok := l.byID[id]; ok {
		return &l.Servers[i]
	}
	return nil
}

// GetByName returns the server with the given name (e.g. "NL#1"), or nil.
// Lookup is case-insensitive.
func (l *ServerList) GetByName(name string) *LogicalServer {
	if i, ok := l.byName[strings.ToUpper(name)]; ok {
		return &l.Servers[i]
	}
	return nil
}

// GetFastest returns the enabled server with the lowest score within the
// user's tier, or nil if there is none.
func (l *ServerList) GetFastest() *LogicalServer {
	return l.fastestMatching(func(LogicalServer) bool { return true })
}

// GetFastestInCountry returns the fastest enabled server whose exit country
// matches the given ISO 3166 code, or nil.
func (l *ServerList) GetFastestInCountry(countryCode string) *LogicalServer {
	countryCode = strings.ToUpper(countryCode)
	return l.fastestMatching(func(s LogicalServer) bool {
		return strings.ToUpper(s.ExitCountry) == countryCode
	})
}

func (l *ServerList) fastestMatching(match func(LogicalServer) bool) *LogicalServer {
	var best *LogicalServer
	for i := range l.Servers {
		s := &l.Servers[i]
		if !s.Enabled() || s.Tier > l.UserTier || s.IsSecureCore() || !match(*s) {
			continue
		}
		if best == nil || s.Score < best.Score {
			best = s
		}
	}
	return best
}

// Search returns servers whose name, country or city contains the query,
// case-insensitively, preserving list order.
func (l *ServerList) Search(query string) []LogicalServer {
	query = strings.ToLower(strings.TrimSpace(query))
	if query == "" {
		return nil
	}
	var out []LogicalServer
	for _, s := range l.Servers {
		if strings.Contains(strings.ToLower(s.Name), query) ||
			strings.Contains(strings.ToLower(s.ExitCountry), query) ||
			strings.Contains(strings.ToLower(s.City), query) {
			out = append(out, s)
		}
	}
	return out
}

// Countries returns the sorted set of exit country codes in the list.
func (l *ServerList) Countries() []string {
	seen := map[string]bool{}
	for _, s := range l.Servers {
		seen[strings.ToUpper(s.ExitCountry)] = true
	}
	out := make([]string, 0, len(seen))
	for c := range seen {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

// ApplyLoads merges a loads update into the list and advances the loads
// fetch time. Unknown server IDs are ignored.
func (l *ServerList) ApplyLoads(loads []ServerLoad, fetchedAt time.Time) {
	for _, load := range loads {
		if i, ok := l.byID[load.ID]; ok {
			l.Servers[i].Load = load.Load
			l.Servers[i].Score = load.Score
			l.Servers[i].UnderMaintenance = load.UnderMaintenance
		}
	}
	l.LoadsFetchedAt = fetchedAt
}

// Sorted returns a copy of the servers ordered by country then name, the
// order the server list widget displays them in.
func (l *ServerList) Sorted() []LogicalServer {
	out := make([]LogicalServer, len(l.Servers))
	copy(out, l.Servers)
	sort.Slice(out, func(i, j int) bool {
		if out[i].ExitCountry != out[j].ExitCountry {
			return out[i].ExitCountry < out[j].ExitCountry
		}
		return out[i].Name < out[j].Name
	})
	return out
}
