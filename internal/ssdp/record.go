package ssdp

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// ServiceRecord is one discovered service, built from a single reply.
// It is a value type; copies are independent.
type ServiceRecord struct {
	Location string    `json:"location"`
	Server   string    `json:"server"`
	USN      string    `json:"usn"`
	Expiry   time.Time `json:"expiry"`

	SearchTarget string    `json:"st,omitempty"`
	Payload      string    `json:"payload,omitempty"`
	Source       string    `json:"source,omitempty"`
	ReceivedAt   time.Time `json:"receivedAt"`
}

// DisplayName returns the second colon-separated field of the USN, which is
// the device UUID for the usual "uuid:<id>::<type>" form. The full USN is
// returned when there is no such field.
func (r ServiceRecord) DisplayName() string {
	parts := strings.Split(r.USN, ":")
	if len(parts) > 1 && parts[1] != "" {
		return parts[1]
	}
	return r.USN
}

// Expired reports whether the advertisement has lapsed at now
func (r ServiceRecord) Expired(now time.Time) bool {
	return !now.Before(r.Expiry)
}

// String returns a one-line summary
func (r ServiceRecord) String() string {
	return fmt.Sprintf("%s (%s) at %s", r.USN, r.Server, r.Location)
}

// ParseServiceRecord builds a record from parsed headers.
//
// LOCATION must be an absolute URL with a host, SERVER and USN must be
// non-empty, and CACHE-CONTROL must carry a max-age directive. Expiry is now
// plus max-age seconds. Any failure returns a *DecodeError and no record.
func ParseServiceRecord(h map[string]string, now time.Time) (ServiceRecord, error) {
	location, err := required(h, HeaderLocation)
	if err != nil {
		return ServiceRecord{}, err
	}
	u, err := url.Parse(location)
	if err != nil || !u.IsAbs() || u.Host == "" {
		return ServiceRecord{}, &DecodeError{Field: HeaderLocation, Value: location, Err: ErrMalformedHeader}
	}

	server, err := required(h, HeaderServer)
	if err != nil {
		return ServiceRecord{}, err
	}

	usn, err := required(h, HeaderUSN)
	if err != nil {
		return ServiceRecord{}, err
	}

	cacheControl, err := required(h, HeaderCacheControl)
	if err != nil {
		return ServiceRecord{}, err
	}
	expiry, err := ParseExpiry(cacheControl, now)
	if err != nil {
		return ServiceRecord{}, &DecodeError{Field: HeaderCacheControl, Value: cacheControl, Err: err}
	}

	return ServiceRecord{
		Location:     location,
		Server:       server,
		USN:          usn,
		Expiry:       expiry,
		SearchTarget: h[HeaderST],
	}, nil
}

func required(h map[string]string, name string) (string, error) {
	v := strings.TrimSpace(h[name])
	if v == "" {
		return "", &DecodeError{Field: name, Err: ErrMissingHeader}
	}
	return v, nil
}

// ParseExpiry reads the max-age directive of a CACHE-CONTROL value and returns
// now plus that many seconds.
//
// Directives are comma-separated and matched case-insensitively; spaces around
// "=" and quotes around the number are tolerated. The number must be a
// non-negative decimal integer.
func ParseExpiry(value string, now time.Time) (time.Time, error) {
	for _, directive := range strings.Split(value, ",") {
		name, arg, ok := strings.Cut(directive, "=")
		if !ok || !strings.EqualFold(strings.TrimSpace(name), "max-age") {
			continue
		}

		arg = strings.Trim(strings.TrimSpace(arg), `"`)
		seconds, err := strconv.ParseUint(arg, 10, 32)
		if err != nil {
			return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidExpiry, arg)
		}
		return now.Add(time.Duration(seconds) * time.Second), nil
	}

	return time.Time{}, fmt.Errorf("%w: no max-age directive", ErrInvalidExpiry)
}
