// Package tls issues and distributes the certificates the relay serves
// wss:// with.
package tls

import (
	"net"
	"slices"
)

// GetLANIPs returns the machine's non-loopback IPv4 addresses, sorted.
func GetLANIPs() ([]string, error) {
	interfaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}

	var ips []string
	for _, iface := range interfaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			if ip := addrIP(addr); ip != nil && ip.To4() != nil && !ip.IsLoopback() {
				ips = append(ips, ip.String())
			}
		}
	}

	slices.Sort(ips)
	return slices.Compact(ips), nil
}

func addrIP(addr net.Addr) net.IP {
	switch v := addr.(type) {
	case *net.IPNet:
		return v.IP
	case *net.IPAddr:
		return v.IP
	}
	return nil
}

// GetAllHosts returns the hosts a relay certificate is issued for:
// localhost plus every LAN address.
func GetAllHosts() ([]string, error) {
	hosts := []string{"localhost", "127.0.0.1"}
	lanIPs, err := GetLANIPs()
	if err != nil {
		return hosts, err
	}
	return append(hosts, lanIPs...), nil
}
