package ssdp

import (
	"fmt"
	"net"
	"strings"
)

// SSDP protocol constants
const (
	MulticastAddr     = "239.255.255.250"
	Port              = 1900
	SearchAll         = "ssdp:all"
	DefaultMX         = 1
	ReceiveBufferSize = 512
)

// Header names, upper-cased as ParseHeaders stores them
const (
	HeaderLocation     = "LOCATION"
	HeaderServer       = "SERVER"
	HeaderUSN          = "USN"
	HeaderCacheControl = "CACHE-CONTROL"
	HeaderST           = "ST"
)

// MulticastGroup is the SSDP IPv4 multicast group
var MulticastGroup = net.IPv4(239, 255, 255, 250)

// MulticastUDPAddr returns the group address queries are sent to
func MulticastUDPAddr() *net.UDPAddr {
	return &net.UDPAddr{IP: MulticastGroup, Port: Port}
}

const searchTemplate = `M-SEARCH * HTTP/1.1
HOST:%s:%d
MAN:"ssdp:discover"
ST:%s
MX:%d

`

var query = []byte(strings.ReplaceAll(
	fmt.Sprintf(searchTemplate, MulticastAddr, Port, SearchAll, DefaultMX),
	"\n", "\r\n"))

// BuildQuery returns the M-SEARCH request for all service types.
// The caller owns the returned slice.
func BuildQuery() []byte {
	return append([]byte(nil), query...)
}

// ParseHeaders splits a reply into header fields.
//
// Lines are separated by LF with an optional preceding CR. Each line is split
// on its first colon; name and value are trimmed and the name upper-cased.
// Lines without a colon or with an empty name are skipped. When a name repeats,
// the last value wins.
func ParseHeaders(b []byte) map[string]string {
	headers := make(map[string]string)

	for _, line := range strings.Split(string(b), "\n") {
		line = strings.TrimSuffix(line, "\r")

		name, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		name = strings.ToUpper(strings.TrimSpace(name))
		if name == "" {
			continue
		}
		headers[name] = strings.TrimSpace(value)
	}

	return headers
}
