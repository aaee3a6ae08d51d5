package reader

import (
	"bytes"
	"encoding/csv"
	"encoding/xml"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Readers frame each record on its own line: XML tag-read records or a
// three-field CSV, plus bare KEEPALIVE lines. Everything past this file
// treats the wire encoding as opaque.

const xmlTimeFormat = "2006/01/02 15:04:05.000"

type Detection struct {
	TagID      string
	Signal     int
	ObservedAt time.Time
}

type xmlTagRead struct {
	XMLName       xml.Name `xml:"TagRead"`
	TagID         string   `xml:"TagID"`
	PeakRSSI      int      `xml:"PeakRSSI"`
	DiscoveryTime string   `xml:"DiscoveryTime"`
}

// DecodeFrame decodes one line from the reader. The second return is
// true for keep-alive frames, which carry no detection.
func DecodeFrame(line []byte) (Detection, bool, error) {
	trimmed := bytes.TrimSpace(line)
	if len(trimmed) == 0 {
		return Detection{}, true, nil
	}
	if bytes.Equal(trimmed, []byte("KEEPALIVE")) || bytes.HasPrefix(trimmed, []byte("<Keepalive")) {
		return Detection{}, true, nil
	}
	if bytes.HasPrefix(trimmed, []byte("<")) {
		det, err := decodeXML(trimmed)
		return det, false, err
	}
	det, err := decodeCSV(trimmed)
	return det, false, err
}

func decodeXML(data []byte) (Detection, error) {
	var rec xmlTagRead
	if err := xml.Unmarshal(data, &rec); err != nil {
		return Detection{}, fmt.Errorf("decode xml frame: %w", err)
	}
	rec.TagID = strings.ReplaceAll(rec.TagID, " ", "")
	ts, err := time.ParseInLocation(xmlTimeFormat, rec.DiscoveryTime, time.UTC)
	if err != nil {
		return Detection{}, fmt.Errorf("decode xml discovery time: %w", err)
	}
	return Detection{TagID: rec.TagID, Signal: rec.PeakRSSI, ObservedAt: ts}, nil
}

// decodeCSV handles "tag,rssi,unix_ms" frames.
func decodeCSV(data []byte) (Detection, error) {
	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = 3
	rec, err := r.Read()
	if err != nil {
		return Detection{}, fmt.Errorf("decode csv frame: %w", err)
	}
	signal, err := strconv.Atoi(strings.TrimSpace(rec[1]))
	if err != nil {
		return Detection{}, fmt.Errorf("decode csv rssi: %w", err)
	}
	ms, err := strconv.ParseInt(strings.TrimSpace(rec[2]), 10, 64)
	if err != nil {
		return Detection{}, fmt.Errorf("decode csv timestamp: %w", err)
	}
	return Detection{
		TagID:      strings.TrimSpace(rec[0]),
		Signal:     signal,
		ObservedAt: time.Unix(0, ms*int64(time.Millisecond)).UTC(),
	}, nil
}
