package adapters

import "net"

// LocalIP returns the machine's first non-loopback IPv4 address, which
// is the address LAN peers can actually reach. Falls back to
// "localhost" when nothing qualifies (offline box, weird netns).
func LocalIP() string {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return "localhost"
	}
	for _, addr := range addrs {
		ipnet, ok := addr.(*net.IPNet)
		if !ok || ipnet.IP.IsLoopback() {
			continue
		}
		if ip4 := ipnet.IP.To4(); ip4 != nil {
			return ip4.String()
		}
	}
	return "localhost"
}
