package netutil

import (
	"errors"
	"fmt"
	"net"
	"strings"
)

// ErrInterfaceNotFound is returned when no non-loopback interface matches a name.
var ErrInterfaceNotFound = errors.New("interface not found")

// InterfaceAddr is one address assigned to a local interface.
type InterfaceAddr struct {
	Name string
	IP   net.IP
}

func (a InterfaceAddr) String() string {
	return a.Name + " " + a.IP.String()
}

// InterfaceAddrs lists the addresses of all non-loopback interfaces.
func InterfaceAddrs() ([]InterfaceAddr, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, fmt.Errorf("listing interfaces: %w", err)
	}

	var out []InterfaceAddr
	for _, iface := range ifaces {
		if iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			return nil, fmt.Errorf("listing addresses of %s: %w", iface.Name, err)
		}
		out = append(out, filterAddrs(iface.Name, addrs)...)
	}
	return out, nil
}

func filterAddrs(name string, addrs []net.Addr) []InterfaceAddr {
	var out []InterfaceAddr
	for _, a := range addrs {
		var ip net.IP
		switch v := a.(type) {
		case *net.IPNet:
			ip = v.IP
		case *net.IPAddr:
			ip = v.IP
		}
		if ip == nil || ip.IsLoopback() || ip.IsLinkLocalUnicast() {
			continue
		}
		out = append(out, InterfaceAddr{Name: name, IP: ip})
	}
	return out
}

// MatchInterface returns the first address whose interface name contains name.
// IPv4 addresses win over IPv6 ones on the same interface.
func MatchInterface(addrs []InterfaceAddr, name string) (string, error) {
	var fallback string
	for _, a := range addrs {
		if !strings.Contains(a.Name, name) {
			continue
		}
		if a.IP.To4() != nil {
			return a.IP.String(), nil
		}
		if fallback == "" {
			fallback = a.IP.String()
		}
	}
	if fallback != "" {
		return fallback, nil
	}
	return "", fmt.Errorf("%q: %w", name, ErrInterfaceNotFound)
}

// IPByInterface resolves the address of the first interface whose name contains name.
func IPByInterface(name string) (string, error) {
	addrs, err := InterfaceAddrs()
	if err != nil {
		return "", err
	}
	return MatchInterface(addrs, name)
}
