package ssdp

import (
	"bytes"
	"net"
	"time"
	"unicode/utf8"
)

// Datagram is one received packet, before decoding
type Datagram struct {
	Data       []byte
	Source     net.Addr
	ReceivedAt time.Time
}

// Decode turns a reply datagram into a ServiceRecord.
//
// Trailing NUL padding is removed and the remainder must be valid UTF-8.
// The record carries the reply text, the sender and the receive time on top
// of the parsed headers. ReceivedAt defaults to now when unset.
func Decode(d Datagram, now time.Time) (ServiceRecord, error) {
	data := bytes.TrimRight(d.Data, "\x00")
	if len(bytes.TrimSpace(data)) == 0 {
		return ServiceRecord{}, &DecodeError{Err: ErrEmptyDatagram}
	}
	if !utf8.Valid(data) {
		return ServiceRecord{}, &DecodeError{Err: ErrNotUTF8}
	}

	rec, err := ParseServiceRecord(ParseHeaders(data), now)
	if err != nil {
		return ServiceRecord{}, err
	}

	rec.Payload = string(data)
	if d.Source != nil {
		rec.Source = d.Source.String()
	}
	rec.ReceivedAt = d.ReceivedAt
	if rec.ReceivedAt.IsZero() {
		rec.ReceivedAt = now
	}
	return rec, nil
}
