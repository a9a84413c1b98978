package config

import (
	"encoding/xml"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
)

// ErrNoPeerConfig indicates that the peer's configuration file does not
// exist, usually because the peer has never been started.
var ErrNoPeerConfig = errors.New("peer configuration not found")

// Peer is the management endpoint of the local sync peer.
type Peer struct {
	Address string
	APIKey  string
	TLS     bool
}

type peerConfiguration struct {
	XMLName xml.Name `xml:"configuration"`
	GUI     struct {
		TLS     bool   `xml:"tls,attr"`
		Address string `xml:"address"`
		APIKey  string `xml:"apikey"`
	} `xml:"gui"`
}

// ExpandHome replaces a leading "~" with the user's home directory.
func ExpandHome(path string) (string, error) {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", errors.Wrap(err, "unable to compute home directory")
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
}

// LoadPeer reads the GUI address and API key from the peer's config.xml.
func LoadPeer(path string) (*Peer, error) {
	path, err := ExpandHome(path)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.Wrap(ErrNoPeerConfig, path)
		}
		return nil, errors.Wrap(err, "unable to read peer configuration")
	}

	var document peerConfiguration
	if err := xml.Unmarshal(data, &document); err != nil {
		return nil, errors.Wrap(err, "unable to parse peer configuration")
	}
	if document.GUI.Address == "" {
		return nil, errors.New("peer configuration has no GUI address")
	}

	return &Peer{
		Address: strings.TrimSpace(document.GUI.Address),
		APIKey:  strings.TrimSpace(document.GUI.APIKey),
		TLS:     document.GUI.TLS,
	}, nil
}

// BaseURL returns the management base address.
func (p *Peer) BaseURL() string {
	if strings.Contains(p.Address, "://") {
		return p.Address
	}
	if p.TLS {
		return "https://" + p.Address
	}
	return "http://" + p.Address
}
