package discovery

import (
	"fmt"
	"net"
	"net/url"
	"strings"
)

// DefaultStreamPath is appended to a bare device address to form the stream URL.
const DefaultStreamPath = "stream"

// SubnetPrefix returns the first three octets of an IPv4 address,
// e.g. "192.168.1" for "192.168.1.42".
func SubnetPrefix(localIPv4 string) (string, error) {
	ip := net.ParseIP(strings.TrimSpace(localIPv4))
	if ip == nil || ip.IsUnspecified() {
		return "", ErrNoLocalAddress
	}
	v4 := ip.To4()
	if v4 == nil {
		return "", ErrNoLocalAddress
	}
	return fmt.Sprintf("%d.%d.%d", v4[0], v4[1], v4[2]), nil
}

// LocalIPv4 returns the IPv4 address of the first interface that is up,
// multicast-capable and not a loopback or point-to-point link.
func LocalIPv4() (string, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrNoLocalAddress, err)
	}
	for i := range ifaces {
		iface := &ifaces[i]
		if rejectInterface(iface.Flags) {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		if ip := pickIPv4(addrs); ip != "" {
			return ip, nil
		}
	}
	return "", ErrNoLocalAddress
}

func rejectInterface(flags net.Flags) bool {
	return flags&net.FlagUp == 0 ||
		flags&net.FlagLoopback != 0 ||
		flags&net.FlagPointToPoint != 0 || // utun / tun / vpn
		flags&net.FlagMulticast == 0
}

// pickIPv4 returns the first usable IPv4 address in addrs.
func pickIPv4(addrs []net.Addr) string {
	for _, addr := range addrs {
		ipnet, ok := addr.(*net.IPNet)
		if !ok {
			continue
		}
		v4 := ipnet.IP.To4()
		if v4 == nil || v4.IsLoopback() || v4.IsLinkLocalUnicast() {
			continue
		}
		return v4.String()
	}
	return ""
}

// StreamURL turns user input into a stream URL. Input that already has a
// scheme is returned unchanged; a bare host becomes http://host/{path}.
func StreamURL(input, path string) string {
	input = strings.TrimSpace(input)
	if u, err := url.Parse(input); err == nil && u.Scheme != "" && u.Host != "" {
		return input
	}
	return "http://" + strings.TrimSuffix(input, "/") + "/" + strings.TrimPrefix(path, "/")
}
