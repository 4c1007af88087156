package discovery

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/grandcat/zeroconf"
)

// Dashboard is another dashboard found on the LAN.
type Dashboard struct {
	Instance  string
	HostName  string
	Port      int
	Addresses []string
	Version   int
	ProgramID string
	Signer    string
}

// Browse listens for one browse window and returns the dashboards seen, sorted by
// instance name. The caller's own advertisement is left out.
func Browse(ctx context.Context, config Config) ([]Dashboard, error) {
	cfg := config.withDefaults()

	browse := cfg.browseFn
	if browse == nil {
		resolver, err := zeroconf.NewResolver(nil)
		if err != nil {
			return nil, fmt.Errorf("create mDNS resolver: %w", err)
		}
		browse = resolver.Browse
	}

	scanCtx, cancel := context.WithTimeout(ctx, cfg.BrowseTimeout)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry, 32)
	if err := browse(scanCtx, cfg.Service, cfg.Domain, entries); err != nil {
		return nil, fmt.Errorf("browse mDNS service: %w", err)
	}

	found := make(map[string]Dashboard)
	collect := func(entry *zeroconf.ServiceEntry) {
		if entry == nil {
			return
		}
		if d, ok := parseEntry(entry, cfg); ok {
			found[d.Instance] = d
		}
	}

loop:
	for {
		select {
		case entry, ok := <-entries:
			if !ok {
				break loop
			}
			collect(entry)
		case <-scanCtx.Done():
			for {
				select {
				case entry, ok := <-entries:
					if !ok {
						break loop
					}
					collect(entry)
				default:
					break loop
				}
			}
		}
	}

	// The window closing on its own is the normal end of a browse.
	if err := ctx.Err(); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return nil, err
	}

	out := make([]Dashboard, 0, len(found))
	for _, d := range found {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Instance < out[j].Instance })
	return out, nil
}

func parseEntry(entry *zeroconf.ServiceEntry, self Config) (Dashboard, bool) {
	txt := txtToMap(entry.Text)

	signer := txt[txtSigner]
	if signer == "" {
		return Dashboard{}, false
	}

	name := strings.TrimSpace(entry.Instance)
	if name == "" {
		name = strings.TrimSpace(entry.HostName)
	}
	if name == "" {
		return Dashboard{}, false
	}
	if name == self.InstanceName && signer == self.Signer {
		return Dashboard{}, false
	}

	version := 0
	if parsed, err := strconv.Atoi(txt[txtVersion]); err == nil {
		version = parsed
	}

	addresses := make([]string, 0, len(entry.AddrIPv4)+len(entry.AddrIPv6))
	seen := make(map[string]struct{})
	for _, ip := range append(entry.AddrIPv4, entry.AddrIPv6...) {
		if ip == nil {
			continue
		}
		raw := ip.String()
		if _, exists := seen[raw]; exists {
			continue
		}
		seen[raw] = struct{}{}
		addresses = append(addresses, raw)
	}
	sort.Strings(addresses)

	return Dashboard{
		Instance:  name,
		HostName:  entry.HostName,
		Port:      entry.Port,
		Addresses: addresses,
		Version:   version,
		ProgramID: txt[txtProgramID],
		Signer:    signer,
	}, true
}

func txtToMap(text []string) map[string]string {
	out := make(map[string]string, len(text))
	for _, entry := range text {
		key, value, ok := strings.Cut(entry, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		out[key] = strings.TrimSpace(value)
	}
	return out
}
