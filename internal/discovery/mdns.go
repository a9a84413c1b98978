// Package discovery advertises an authority node on the local network over
// mDNS and lets subordinates find it without a configured address.
package discovery

import (
	"context"
	"net"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/grandcat/zeroconf"
	"github.com/pkg/errors"
)

const (
	// DefaultService is the mDNS service name without domain suffix.
	DefaultService = "_syncpair._tcp"
	// DefaultDomain is the mDNS domain.
	DefaultDomain = "local."
	// DefaultScanTimeout bounds a browse.
	DefaultScanTimeout = 3 * time.Second
	// Version is the TXT record format version.
	Version = 1

	txtDeviceID = "id"
	txtRole     = "role"
	txtVersion  = "v"
)

type registerFunc func(instance, service, domain string, port int, text []string, ifaces []net.Interface) (*zeroconf.Server, error)
type browseFunc func(ctx context.Context, service, domain string, entries chan<- *zeroconf.ServiceEntry) error

// Config controls advertising and browsing.
type Config struct {
	Service     string
	Domain      string
	ScanTimeout time.Duration

	DeviceID   string
	DeviceName string
	Role       string
	// Port is the sync port, which is what subordinates need to dial.
	Port int

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
	if out.ScanTimeout <= 0 {
		out.ScanTimeout = DefaultScanTimeout
	}
	if out.registerFn == nil {
		out.registerFn = zeroconf.Register
	}
	return out
}

// PortOf extracts the port from a listen address such as
// "tcp://0.0.0.0:22000".
func PortOf(address string) (int, error) {
	if index := strings.Index(address, "://"); index >= 0 {
		address = address[index+3:]
	}
	_, port, err := net.SplitHostPort(address)
	if err != nil {
		return 0, errors.Wrapf(err, "unable to split %q", address)
	}
	value, err := strconv.Atoi(port)
	if err != nil || value <= 0 || value > 65535 {
		return 0, errors.Errorf("invalid port in %q", address)
	}
	return value, nil
}

// Advertiser publishes the local node.
type Advertiser struct {
	server *zeroconf.Server
}

// Advertise registers the node. The device id and a positive port are
// required.
func Advertise(config Config) (*Advertiser, error) {
	cfg := config.withDefaults()
	if strings.TrimSpace(cfg.DeviceID) == "" {
		return nil, errors.New("device id is required")
	}
	if cfg.Port <= 0 {
		return nil, errors.New("port must be positive")
	}
	instance := cfg.DeviceName
	if strings.TrimSpace(instance) == "" {
		instance = cfg.DeviceID
	}

	text := []string{
		txtDeviceID + "=" + cfg.DeviceID,
		txtRole + "=" + cfg.Role,
		txtVersion + "=" + strconv.Itoa(Version),
	}
	server, err := cfg.registerFn(instance, cfg.Service, cfg.Domain, cfg.Port, text, nil)
	if err != nil {
		return nil, errors.Wrap(err, "unable to register mDNS service")
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

// Node is an advertised node seen on the network.
type Node struct {
	DeviceID  string
	Name      string
	Role      string
	Port      int
	Addresses []string
}

// Address returns the first advertised IPv4 address with the port, or the
// empty string when the node announced no IPv4 address.
func (n Node) Address() string {
	if len(n.Addresses) == 0 {
		return ""
	}
	return net.JoinHostPort(n.Addresses[0], strconv.Itoa(n.Port))
}

func parseText(text []string) map[string]string {
	fields := make(map[string]string, len(text))
	for _, entry := range text {
		key, value, found := strings.Cut(entry, "=")
		if found {
			fields[key] = value
		}
	}
	return fields
}

func nodeFromEntry(entry *zeroconf.ServiceEntry) (Node, bool) {
	fields := parseText(entry.Text)
	if fields[txtVersion] != strconv.Itoa(Version) || fields[txtDeviceID] == "" {
		return Node{}, false
	}
	node := Node{
		DeviceID: fields[txtDeviceID],
		Name:     entry.Instance,
		Role:     fields[txtRole],
		Port:     entry.Port,
	}
	for _, ip := range entry.AddrIPv4 {
		node.Addresses = append(node.Addresses, ip.String())
	}
	return node, true
}

// Browse scans for advertised nodes until the scan timeout or ctx expires.
// Nodes are deduplicated by device id and ordered by name.
func Browse(ctx context.Context, config Config) ([]Node, error) {
	cfg := config.withDefaults()
	browse := cfg.browseFn
	if browse == nil {
		resolver, err := zeroconf.NewResolver(nil)
		if err != nil {
			return nil, errors.Wrap(err, "unable to create mDNS resolver")
		}
		browse = resolver.Browse
	}

	scanCtx, cancel := context.WithTimeout(ctx, cfg.ScanTimeout)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry, 16)
	if err := browse(scanCtx, cfg.Service, cfg.Domain, entries); err != nil {
		return nil, errors.Wrap(err, "unable to browse for nodes")
	}

	found := make(map[string]Node)
	for {
		select {
		case entry, ok := <-entries:
			if !ok {
				return sortNodes(found), nil
			}
			if entry == nil {
				continue
			}
			if node, ok := nodeFromEntry(entry); ok {
				found[node.DeviceID] = node
			}
		case <-scanCtx.Done():
			return sortNodes(found), nil
		}
	}
}

func sortNodes(found map[string]Node) []Node {
	nodes := make([]Node, 0, len(found))
	for _, node := range found {
		nodes = append(nodes, node)
	}
	sort.Slice(nodes, func(i, j int) bool {
		if nodes[i].Name == nodes[j].Name {
			return nodes[i].DeviceID < nodes[j].DeviceID
		}
		return nodes[i].Name < nodes[j].Name
	})
	return nodes
}
