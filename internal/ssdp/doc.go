// Package ssdp implements the wire side of SSDP service discovery: building the
// M-SEARCH query and turning reply datagrams into ServiceRecord values.
//
// Only the search half of SSDP is covered. The query always targets every
// service type (ST: ssdp:all) on the IPv4 group 239.255.255.250:1900, and the
// codec never fetches the device description behind LOCATION.
//
// # Query Format
//
// BuildQuery returns a fixed, byte-exact request:
//
//	M-SEARCH * HTTP/1.1
//	HOST:239.255.255.250:1900
//	MAN:"ssdp:discover"
//	ST:ssdp:all
//	MX:1
//
// Every line ends in CRLF and the request ends with an empty line.
//
// # Reply Parsing
//
// Replies are HTTP-style header blocks. ParseHeaders is lenient: it accepts
// CRLF or bare LF, ignores lines without a colon (the status line included),
// matches header names case-insensitively and lets the last duplicate win.
//
// ParseServiceRecord is strict. A record is only produced when LOCATION,
// SERVER, USN and CACHE-CONTROL (with a max-age directive) are all present and
// well-formed; otherwise it returns a *DecodeError matching ErrInvalidRecord.
//
// # Usage Example
//
//	rec, err := ssdp.Decode(ssdp.Datagram{Data: buf[:n], Source: from}, time.Now())
//	if err != nil {
//	    // not a usable reply; drop it
//	    return
//	}
//	fmt.Printf("%s at %s (expires %s)\n", rec.DisplayName(), rec.Location, rec.Expiry)
package ssdp
