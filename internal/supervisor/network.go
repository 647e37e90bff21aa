package supervisor

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync/atomic"
	"time"
)

var ErrNoNetwork = errors.New("no usable network interface")

// HostNetwork checks that the host has an up, addressed interface and,
// optionally, that a TCP address is reachable.
type HostNetwork struct {
	Interface    string // empty: any non-loopback interface
	Reach        string // host:port, empty to skip
	ReachTimeout time.Duration
	// CheckInterval is how long a passing interface check is reused by
	// Connected. Zero checks on every call.
	CheckInterval time.Duration

	// swapped in tests
	interfaces func() ([]net.Interface, error)
	addrs      func(net.Interface) ([]net.Addr, error)
	now        func() time.Time

	up      atomic.Bool
	checked atomic.Int64 // unix nanos of the last passing check
}

func NewHostNetwork(iface, reach string) *HostNetwork {
	return &HostNetwork{
		Interface:     iface,
		Reach:         reach,
		ReachTimeout:  3 * time.Second,
		CheckInterval: time.Second,
	}
}

func (n *HostNetwork) Name() string { return "network" }

func (n *HostNetwork) Connected() bool {
	if !n.up.Load() {
		return false
	}
	now := n.clock()
	if last := n.checked.Load(); last != 0 && now.Sub(time.Unix(0, last)) < n.CheckInterval {
		return true
	}
	if err := n.checkInterface(); err != nil {
		n.up.Store(false)
		return false
	}
	n.checked.Store(now.UnixNano())
	return true
}

func (n *HostNetwork) Connect(ctx context.Context) error {
	if err := n.checkInterface(); err != nil {
		n.up.Store(false)
		return err
	}
	if n.Reach != "" {
		d := net.Dialer{Timeout: n.ReachTimeout}
		conn, err := d.DialContext(ctx, "tcp", n.Reach)
		if err != nil {
			n.up.Store(false)
			return fmt.Errorf("reach %s: %w", n.Reach, err)
		}
		_ = conn.Close()
	}
	n.checked.Store(n.clock().UnixNano())
	n.up.Store(true)
	return nil
}

func (n *HostNetwork) clock() time.Time {
	if n.now != nil {
		return n.now()
	}
	return time.Now()
}

func (n *HostNetwork) checkInterface() error {
	list := n.interfaces
	if list == nil {
		list = net.Interfaces
	}
	addrsOf := n.addrs
	if addrsOf == nil {
		addrsOf = func(i net.Interface) ([]net.Addr, error) { return i.Addrs() }
	}

	ifaces, err := list()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrNoNetwork, err)
	}
	for _, iface := range ifaces {
		if n.Interface != "" && iface.Name != n.Interface {
			continue
		}
		if iface.Flags&net.FlagUp == 0 {
			continue
		}
		if n.Interface == "" && iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := addrsOf(iface)
		if err == nil && len(addrs) > 0 {
			return nil
		}
	}
	if n.Interface != "" {
		return fmt.Errorf("%w: %s is down or unaddressed", ErrNoNetwork, n.Interface)
	}
	return ErrNoNetwork
}
