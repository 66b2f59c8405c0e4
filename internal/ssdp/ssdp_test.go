package ssdp

import (
	"errors"
	"net"
	"strings"
	"testing"
	"time"
)

var testNow = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

const sampleReply = "HTTP/1.1 200 OK\r\n" +
	"CACHE-CONTROL: max-age=1800\r\n" +
	"LOCATION: http://192.168.1.20:49152/description.xml\r\n" +
	"SERVER: Linux/3.14 UPnP/1.0 IpBridge/1.26.0\r\n" +
	"ST: upnp:rootdevice\r\n" +
	"USN: uuid:2f402f80-da50-11e1-9b23-001788255acc::upnp:rootdevice\r\n" +
	"\r\n"

func TestBuildQuery(t *testing.T) {
	want := "M-SEARCH * HTTP/1.1\r\n" +
		"HOST:239.255.255.250:1900\r\n" +
		"MAN:\"ssdp:discover\"\r\n" +
		"ST:ssdp:all\r\n" +
		"MX:1\r\n" +
		"\r\n"

	got := BuildQuery()
	if string(got) != want {
		t.Errorf("BuildQuery() = %q, want %q", got, want)
	}

	// Callers may mutate the returned slice
	got[0] = 'X'
	if string(BuildQuery()) != want {
		t.Error("BuildQuery() result shares storage between calls")
	}
}

func TestBuildQueryParsesBack(t *testing.T) {
	h := ParseHeaders(BuildQuery())

	tests := map[string]string{
		"HOST": "239.255.255.250:1900",
		"MAN":  `"ssdp:discover"`,
		"ST":   "ssdp:all",
		"MX":   "1",
	}
	for k, want := range tests {
		if got := h[k]; got != want {
			t.Errorf("ParseHeaders(BuildQuery())[%q] = %q, want %q", k, got, want)
		}
	}
	if len(h) != len(tests) {
		t.Errorf("ParseHeaders(BuildQuery()) has %d headers, want %d: %v", len(h), len(tests), h)
	}
}

func TestMulticastUDPAddr(t *testing.T) {
	addr := MulticastUDPAddr()
	if addr.String() != "239.255.255.250:1900" {
		t.Errorf("MulticastUDPAddr() = %v, want 239.255.255.250:1900", addr)
	}
}

func TestParseHeaders(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  map[string]string
	}{
		{
			name:  "crlf with status line",
			input: "HTTP/1.1 200 OK\r\nUSN: abc\r\n\r\n",
			want:  map[string]string{"USN": "abc"},
		},
		{
			name:  "bare lf",
			input: "HTTP/1.1 200 OK\nServer: x\nUsn: y\n",
			want:  map[string]string{"SERVER": "x", "USN": "y"},
		},
		{
			name:  "lowercase keys and padding",
			input: "  location :   http://h/d.xml  \r\n",
			want:  map[string]string{"LOCATION": "http://h/d.xml"},
		},
		{
			name:  "value keeps later colons",
			input: "USN: uuid:abc::upnp:rootdevice\r\n",
			want:  map[string]string{"USN": "uuid:abc::upnp:rootdevice"},
		},
		{
			name:  "last duplicate wins",
			input: "SERVER: one\r\nserver: two\r\n",
			want:  map[string]string{"SERVER": "two"},
		},
		{
			name:  "empty key skipped",
			input: ": orphan\r\nST: ssdp:all\r\n",
			want:  map[string]string{"ST": "ssdp:all"},
		},
		{
			name:  "empty value kept",
			input: "EXT:\r\n",
			want:  map[string]string{"EXT": ""},
		},
		{
			name:  "no headers",
			input: "garbage without separators",
			want:  map[string]string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseHeaders([]byte(tt.input))
			if len(got) != len(tt.want) {
				t.Fatalf("ParseHeaders() = %v, want %v", got, tt.want)
			}
			for k, v := range tt.want {
				if got[k] != v {
					t.Errorf("ParseHeaders()[%q] = %q, want %q", k, got[k], v)
				}
			}
		})
	}
}

func TestParseExpiry(t *testing.T) {
	tests := []struct {
		value   string
		want    time.Duration
		wantErr bool
	}{
		{value: "max-age=1800", want: 1800 * time.Second},
		{value: "MAX-AGE=60", want: 60 * time.Second},
		{value: "max-age = 120", want: 120 * time.Second},
		{value: `max-age="90"`, want: 90 * time.Second},
		{value: "no-cache, max-age=30", want: 30 * time.Second},
		{value: "max-age=0", want: 0},
		{value: "max-age=abc", wantErr: true},
		{value: "max-age=-5", wantErr: true},
		{value: "max-age=1.5", wantErr: true},
		{value: "max-age=", wantErr: true},
		{value: "no-cache", wantErr: true},
		{value: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			got, err := ParseExpiry(tt.value, testNow)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidExpiry) {
					t.Errorf("ParseExpiry(%q) error = %v, want ErrInvalidExpiry", tt.value, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseExpiry(%q) error = %v", tt.value, err)
			}
			if want := testNow.Add(tt.want); !got.Equal(want) {
				t.Errorf("ParseExpiry(%q) = %v, want %v", tt.value, got, want)
			}
		})
	}
}

func validHeaders() map[string]string {
	return map[string]string{
		HeaderLocation:     "http://192.168.1.20:49152/description.xml",
		HeaderServer:       "Linux UPnP/1.0",
		HeaderUSN:          "uuid:abc::upnp:rootdevice",
		HeaderCacheControl: "max-age=1800",
	}
}

func TestParseServiceRecord(t *testing.T) {
	rec, err := ParseServiceRecord(validHeaders(), testNow)
	if err != nil {
		t.Fatalf("ParseServiceRecord() error = %v", err)
	}
	if rec.USN != "uuid:abc::upnp:rootdevice" {
		t.Errorf("USN = %q, want uuid:abc::upnp:rootdevice", rec.USN)
	}
	if rec.Server != "Linux UPnP/1.0" {
		t.Errorf("Server = %q, want Linux UPnP/1.0", rec.Server)
	}
	if want := testNow.Add(1800 * time.Second); !rec.Expiry.Equal(want) {
		t.Errorf("Expiry = %v, want %v", rec.Expiry, want)
	}
}

func TestParseServiceRecordFailsClosed(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(h map[string]string)
		field   string
		wantErr error
	}{
		{"missing location", func(h map[string]string) { delete(h, HeaderLocation) }, HeaderLocation, ErrMissingHeader},
		{"missing server", func(h map[string]string) { delete(h, HeaderServer) }, HeaderServer, ErrMissingHeader},
		{"missing usn", func(h map[string]string) { delete(h, HeaderUSN) }, HeaderUSN, ErrMissingHeader},
		{"blank usn", func(h map[string]string) { h[HeaderUSN] = "   " }, HeaderUSN, ErrMissingHeader},
		{"missing cache-control", func(h map[string]string) { delete(h, HeaderCacheControl) }, HeaderCacheControl, ErrMissingHeader},
		{"relative location", func(h map[string]string) { h[HeaderLocation] = "/description.xml" }, HeaderLocation, ErrMalformedHeader},
		{"location without host", func(h map[string]string) { h[HeaderLocation] = "http://" }, HeaderLocation, ErrMalformedHeader},
		{"unparseable location", func(h map[string]string) { h[HeaderLocation] = "http://[::1" }, HeaderLocation, ErrMalformedHeader},
		{"non-numeric max-age", func(h map[string]string) { h[HeaderCacheControl] = "max-age=soon" }, HeaderCacheControl, ErrInvalidExpiry},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := validHeaders()
			tt.mutate(h)

			rec, err := ParseServiceRecord(h, testNow)
			if err == nil {
				t.Fatalf("ParseServiceRecord() = %v, want error", rec)
			}
			if !errors.Is(err, ErrInvalidRecord) {
				t.Errorf("error = %v, want ErrInvalidRecord in chain", err)
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("error = %v, want %v in chain", err, tt.wantErr)
			}

			var de *DecodeError
			if !errors.As(err, &de) {
				t.Fatalf("error = %T, want *DecodeError", err)
			}
			if de.Field != tt.field {
				t.Errorf("DecodeError.Field = %q, want %q", de.Field, tt.field)
			}
			if rec != (ServiceRecord{}) {
				t.Errorf("record = %v, want zero value on failure", rec)
			}
		})
	}
}

func TestDecode(t *testing.T) {
	from := &net.UDPAddr{IP: net.IPv4(192, 168, 1, 20), Port: 1900}
	padded := append([]byte(sampleReply), make([]byte, 40)...)

	rec, err := Decode(Datagram{Data: padded, Source: from}, testNow)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}

	if rec.Location != "http://192.168.1.20:49152/description.xml" {
		t.Errorf("Location = %q", rec.Location)
	}
	if rec.SearchTarget != "upnp:rootdevice" {
		t.Errorf("SearchTarget = %q, want upnp:rootdevice", rec.SearchTarget)
	}
	if rec.Payload != sampleReply {
		t.Errorf("Payload = %q, want NUL padding stripped", rec.Payload)
	}
	if rec.Source != "192.168.1.20:1900" {
		t.Errorf("Source = %q, want 192.168.1.20:1900", rec.Source)
	}
	if !rec.ReceivedAt.Equal(testNow) {
		t.Errorf("ReceivedAt = %v, want %v", rec.ReceivedAt, testNow)
	}
	if rec.DisplayName() != "2f402f80-da50-11e1-9b23-001788255acc" {
		t.Errorf("DisplayName() = %q", rec.DisplayName())
	}
}

func TestDecodeRejects(t *testing.T) {
	tests := []struct {
		name    string
		data    []byte
		wantErr error
	}{
		{"empty", nil, ErrEmptyDatagram},
		{"only padding", make([]byte, 16), ErrEmptyDatagram},
		{"invalid utf8", []byte("USN: \xff\xfe\r\n"), ErrNotUTF8},
		{"missing usn", []byte(strings.Replace(sampleReply, "USN:", "X-USN:", 1)), ErrMissingHeader},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(Datagram{Data: tt.data}, testNow)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Decode() error = %v, want %v", err, tt.wantErr)
			}
			if !errors.Is(err, ErrInvalidRecord) {
				t.Errorf("Decode() error = %v, want ErrInvalidRecord in chain", err)
			}
		})
	}
}

func TestDecodeTruncatedReply(t *testing.T) {
	// USN is the last header, so cutting the datagram loses it
	data := []byte(sampleReply)
	cut := strings.Index(sampleReply, "USN:")

	if _, err := Decode(Datagram{Data: data[:cut+3]}, testNow); !errors.Is(err, ErrInvalidRecord) {
		t.Errorf("Decode(truncated) error = %v, want ErrInvalidRecord", err)
	}
}

func TestDisplayName(t *testing.T) {
	tests := []struct {
		usn  string
		want string
	}{
		{"uuid:abc::upnp:rootdevice", "abc"},
		{"uuid:abc", "abc"},
		{"plain-usn", "plain-usn"},
		{"uuid:", "uuid:"},
	}

	for _, tt := range tests {
		t.Run(tt.usn, func(t *testing.T) {
			if got := (ServiceRecord{USN: tt.usn}).DisplayName(); got != tt.want {
				t.Errorf("DisplayName() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestExpired(t *testing.T) {
	rec := ServiceRecord{Expiry: testNow.Add(time.Minute)}

	if rec.Expired(testNow) {
		t.Error("Expired(now) = true, want false")
	}
	if !rec.Expired(testNow.Add(time.Minute)) {
		t.Error("Expired(expiry) = false, want true")
	}
}

func TestDecodeErrorReason(t *testing.T) {
	tests := []struct {
		err  *DecodeError
		want string
	}{
		{&DecodeError{Field: HeaderUSN, Err: ErrMissingHeader}, "missing_header"},
		{&DecodeError{Field: HeaderLocation, Err: ErrMalformedHeader}, "malformed_header"},
		{&DecodeError{Field: HeaderCacheControl, Err: ErrInvalidExpiry}, "invalid_expiry"},
		{&DecodeError{Err: ErrNotUTF8}, "not_utf8"},
		{&DecodeError{Err: ErrEmptyDatagram}, "empty"},
	}

	for _, tt := range tests {
		if got := tt.err.Reason(); got != tt.want {
			t.Errorf("Reason() for %v = %q, want %q", tt.err, got, tt.want)
		}
	}
}
