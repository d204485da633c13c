package utils

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"
)

// IsZeroBytes returns true if every byte in buf is zero. an empty buf is considered zero.
func IsZeroBytes(buf []byte) bool {
	for _, b := range buf {
		if b != 0 {
			return false
		}
	}
	return true
}

// IsZeroMAC returns true if mac is unset or all 0s
func IsZeroMAC(mac net.HardwareAddr) bool {
	return IsZeroBytes(mac)
}

// IsBroadcastMAC returns true if mac is the all 1s (ff:ff:ff:ff:ff:ff) address.
// an all 1s address used as a mask means an exact match on the full MAC.
func IsBroadcastMAC(mac net.HardwareAddr) bool {
	if len(mac) == 0 {
		return false
	}
	for _, b := range mac {
		if b != 0xff {
			return false
		}
	}
	return true
}

// IsUnicastMAC returns true if mac is a valid unicast address (group bit unset, not all 0s)
func IsUnicastMAC(mac net.HardwareAddr) bool {
	if len(mac) == 0 || IsZeroBytes(mac) {
		return false
	}
	return mac[0]&0x01 == 0
}

// BroadcastMAC returns a new all 1s MAC address of the given length
func BroadcastMAC(length int) net.HardwareAddr {
	mac := make(net.HardwareAddr, length)
	for i := range mac {
		mac[i] = 0xff
	}
	return mac
}

// MACsEqual compares two MAC addresses byte for byte. an unset address compares
// equal to an all 0s one.
func MACsEqual(m1, m2 net.HardwareAddr) bool {
	if len(m1) != len(m2) {
		return IsZeroBytes(m1) && IsZeroBytes(m2)
	}
	for i := range m1 {
		if m1[i] != m2[i] {
			return false
		}
	}
	return true
}

// IsMaskZero returns true if provided mask has no bits set. an empty mask is considered zero.
func IsMaskZero(mask net.IPMask) bool {
	return IsZeroBytes(mask)
}

// IsIPv4 returns true if IP is of type IPV4
func IsIPv4(ip net.IP) bool {
	// Note(adrianc): when Creating net.IP using net package e.g via net.ParseIP() it creates
	// IP with a fixed size of net.IPv6Len, so we cannot rely on length.
	return ip.To4() != nil
}

// IPToIPNet coverts IP or CIDR formatted string to *net.IPNet.
// if no CIDR notation, then /32 or /128 mask is assumed for ipv4 and ipv6 respectively.
func IPToIPNet(ip string) (*net.IPNet, error) {
	if !strings.Contains(ip, "/") {
		ipp := net.ParseIP(ip)
		if ipp == nil {
			return nil, fmt.Errorf("failed to parse ip: %s", ip)
		}
		if IsIPv4(ipp) {
			ip += "/32"
		} else {
			ip += "/128"
		}
	}
	_, ipn, err := net.ParseCIDR(ip)
	return ipn, err
}

// SetupSignalHandler returns a context cancelled on SIGINT or SIGTERM.
// a second signal terminates the program immediately.
func SetupSignalHandler() context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	c := make(chan os.Signal, 2)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-c
		cancel()
		<-c
		os.Exit(1)
	}()
	return ctx
}

// PathExists returns true if path exists in the system or false if it doesnt
// in case of error, and error is returned
func PathExists(path string) (bool, error) {
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	} else if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}
