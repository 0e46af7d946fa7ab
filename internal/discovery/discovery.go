// Package discovery announces and finds coordinators on the local network over mDNS.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"

	"github.com/golang/glog"
	"github.com/grandcat/zeroconf"
)

const (
	Service = "_pyshare._tcp"
	Domain  = "local."
)

var ErrNotFound = errors.New("discovery: no coordinator found")

// Announce registers the coordinator until ctx is done.
func Announce(ctx context.Context, port int) error {
	host, _ := os.Hostname()
	server, err := zeroconf.Register(
		fmt.Sprintf("PyShare-%s", host),
		Service,
		Domain,
		port,
		[]string{"path=/ws"},
		nil,
	)
	if err != nil {
		return fmt.Errorf("register mdns service: %w", err)
	}
	glog.Infof("discovery: announced %s on port %d", Service, port)
	go func() {
		<-ctx.Done()
		server.Shutdown()
	}()
	return nil
}

// Find browses for a coordinator and returns the live channel URL of the first one
// that answers.
func Find(ctx context.Context) (string, error) {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return "", fmt.Errorf("init mdns resolver: %w", err)
	}

	browseCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	entries := make(chan *zeroconf.ServiceEntry)
	if err := resolver.Browse(browseCtx, Service, Domain, entries); err != nil {
		return "", fmt.Errorf("browse mdns: %w", err)
	}

	for {
		select {
		case <-browseCtx.Done():
			return "", ErrNotFound
		case entry, ok := <-entries:
			if !ok {
				return "", ErrNotFound
			}
			if url, ok := entryURL(entry); ok {
				glog.Infof("discovery: found %s at %s", entry.Instance, url)
				return url, nil
			}
		}
	}
}

func entryURL(entry *zeroconf.ServiceEntry) (string, bool) {
	if entry == nil || entry.Port <= 0 {
		return "", false
	}
	var ip net.IP
	switch {
	case len(entry.AddrIPv4) > 0:
		ip = entry.AddrIPv4[0]
	case len(entry.AddrIPv6) > 0:
		ip = entry.AddrIPv6[0]
	default:
		return "", false
	}
	path := "/ws"
	for _, txt := range entry.Text {
		if p, ok := strings.CutPrefix(txt, "path="); ok && p != "" {
			path = p
		}
	}
	return "ws://" + net.JoinHostPort(ip.String(), strconv.Itoa(entry.Port)) + path, true
}
