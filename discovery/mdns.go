// Package discovery advertises the dashboard on the LAN over mDNS and finds other
// dashboards doing the same.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/grandcat/zeroconf"
)

const (
	// DefaultService is the mDNS service name without domain suffix.
	DefaultService = "_iotpanel._tcp"
	// DefaultDomain is the mDNS domain.
	DefaultDomain = "local."
	// DefaultVersion is the TXT record format version.
	DefaultVersion = 1
	// DefaultBrowseTimeout bounds each browse window.
	DefaultBrowseTimeout = 3 * time.Second

	txtVersion   = "version"
	txtProgramID = "program_id"
	txtSigner    = "signer"
)

type registerFunc func(instance, service, domain string, port int, text []string, ifaces []net.Interface) (*zeroconf.Server, error)
type browseFunc func(ctx context.Context, service, domain string, entries chan<- *zeroconf.ServiceEntry) error

// Config controls advertisement and browsing.
type Config struct {
	Service       string
	Domain        string
	Version       int
	BrowseTimeout time.Duration

	InstanceName string
	Port         int
	ProgramID    string
	Signer       string

	registerFn registerFunc
	browseFn   browseFunc
}

func (c Config) withDefaults() Config {
	out := c
	if out.Service == "" {
		out.Service = DefaultService
	}
	if out.Domain == "" {
		out.Domain = DefaultDomain
	}
	if out.Version == 0 {
		out.Version = DefaultVersion
	}
	if out.BrowseTimeout <= 0 {
		out.BrowseTimeout = DefaultBrowseTimeout
	}
	if out.registerFn == nil {
		out.registerFn = zeroconf.Register
	}
	return out
}

func (c Config) validateForAdvertise() error {
	if strings.TrimSpace(c.InstanceName) == "" {
		return errors.New("instance name is required")
	}
	if c.Port <= 0 {
		return errors.New("port must be > 0")
	}
	return nil
}

func (c Config) txtRecords() []string {
	txt := []string{txtVersion + "=" + strconv.Itoa(c.Version)}
	if c.ProgramID != "" {
		txt = append(txt, txtProgramID+"="+c.ProgramID)
	}
	if c.Signer != "" {
		txt = append(txt, txtSigner+"="+c.Signer)
	}
	return txt
}

// Advertiser keeps the dashboard's mDNS registration alive until stopped.
type Advertiser struct {
	server *zeroconf.Server
}

// Advertise registers the dashboard under the configured service name.
func Advertise(config Config) (*Advertiser, error) {
	cfg := config.withDefaults()
	if err := cfg.validateForAdvertise(); err != nil {
		return nil, err
	}

	server, err := cfg.registerFn(cfg.InstanceName, cfg.Service, cfg.Domain, cfg.Port, cfg.txtRecords(), nil)
	if err != nil {
		return nil, fmt.Errorf("register mDNS service: %w", err)
	}

	return &Advertiser{server: server}, nil
}

// Stop withdraws the advertisement.
func (a *Advertiser) Stop() {
	if a == nil || a.server == nil {
		return
	}
	a.server.Shutdown()
}

// ListenPort extracts the numeric port from a host:port listen address.
func ListenPort(listenAddr string) (int, error) {
	_, rawPort, err := net.SplitHostPort(listenAddr)
	if err != nil {
		return 0, fmt.Errorf("parse listen address %q: %w", listenAddr, err)
	}
	port, err := strconv.Atoi(rawPort)
	if err != nil || port <= 0 {
		return 0, fmt.Errorf("invalid port in listen address %q", listenAddr)
	}
	return port, nil
}
