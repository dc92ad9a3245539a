// Package discovery announces relays on the local network over mDNS and
// finds them again from the client side.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"os"
	"time"

	"github.com/hashicorp/mdns"
)

const ServiceType = "_syncboard._tcp"

const defaultLookupTimeout = 2 * time.Second

var ErrInvalidPort = errors.New("discovery: port must be positive")

// Advertiser keeps a relay announced until Shutdown.
type Advertiser struct {
	server *mdns.Server
}

// Advertise announces the relay listening on port. An empty instance
// falls back to the host name.
func Advertise(instance string, port int) (*Advertiser, error) {
	if port <= 0 || port > 65535 {
		return nil, ErrInvalidPort
	}
	if instance == "" {
		host, err := os.Hostname()
		if err != nil {
			return nil, fmt.Errorf("resolve hostname: %w", err)
		}
		instance = host
	}
	service, err := mdns.NewMDNSService(instance, ServiceType, "", "", port, nil, []string{"syncboard relay"})
	if err != nil {
		return nil, fmt.Errorf("create mdns service: %w", err)
	}
	server, err := mdns.NewServer(&mdns.Config{Zone: service})
	if err != nil {
		return nil, fmt.Errorf("start mdns server: %w", err)
	}
	log.Printf("discovery: advertising %s on port %d", instance, port)
	return &Advertiser{server: server}, nil
}

func (a *Advertiser) Shutdown() error {
	if a == nil || a.server == nil {
		return nil
	}
	return a.server.Shutdown()
}

// Relay is one announced relay.
type Relay struct {
	Instance string
	Addr     string
}

// Lookup browses for relays until ctx is done or timeout passes, whichever
// comes first. A zero timeout uses a short default.
func Lookup(ctx context.Context, timeout time.Duration) ([]Relay, error) {
	if timeout <= 0 {
		timeout = defaultLookupTimeout
	}
	if deadline, ok := ctx.Deadline(); ok {
		if left := time.Until(deadline); left < timeout {
			timeout = left
		}
	}
	if timeout <= 0 {
		return nil, ctx.Err()
	}

	entries := make(chan *mdns.ServiceEntry, 16)
	var found []Relay
	done := make(chan struct{})
	go func() {
		defer close(done)
		seen := make(map[string]struct{})
		for e := range entries {
			r, ok := relayOf(e)
			if !ok {
				continue
			}
			if _, dup := seen[r.Addr]; dup {
				continue
			}
			seen[r.Addr] = struct{}{}
			found = append(found, r)
		}
	}()

	err := mdns.Query(&mdns.QueryParam{
		Service:     ServiceType,
		Domain:      "local",
		Timeout:     timeout,
		Entries:     entries,
		DisableIPv6: true,
	})
	close(entries)
	<-done
	if err != nil {
		return nil, fmt.Errorf("mdns query: %w", err)
	}
	return found, nil
}

func relayOf(e *mdns.ServiceEntry) (Relay, bool) {
	if e == nil || e.Port <= 0 {
		return Relay{}, false
	}
	ip := e.AddrV4
	if ip == nil {
		ip = e.AddrV6
	}
	if ip == nil {
		return Relay{}, false
	}
	return Relay{
		Instance: e.Name,
		Addr:     net.JoinHostPort(ip.String(), fmt.Sprint(e.Port)),
	}, true
}
