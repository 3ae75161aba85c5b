package service

import (
	"encoding/json"
	"math"
	"restream/dto"
	"sort"
	"strconv"
	"strings"
)

// StatsStream is one per-application stream record reported by the media
// server, with the raw fields kept for metric extraction.
type StatsStream struct {
	App  string
	Name string
	Raw  map[string]interface{}
}

// A shapeDetector returns ok=false when the document is not in its shape.
type shapeDetector struct {
	name   string
	detect func(doc map[string]interface{}) ([]StatsStream, bool)
}

var shapeDetectors = []shapeDetector{
	{name: "streams", detect: detectFlatStreams},
	{name: "applications", detect: func(doc map[string]interface{}) ([]StatsStream, bool) {
		return parseApplications(doc["applications"])
	}},
	{name: "rtmp.applications", detect: func(doc map[string]interface{}) ([]StatsStream, bool) {
		return parseApplications(dig(doc, "rtmp", "applications"))
	}},
	{name: "rtmp.server.application", detect: detectNginxRTMP},
	{name: "server.applications", detect: func(doc map[string]interface{}) ([]StatsStream, bool) {
		return parseApplications(dig(doc, "server", "applications"))
	}},
}

// NormalizeStats maps a stats document onto stream records. Unknown shapes
// yield no streams and the shape "none".
func NormalizeStats(doc map[string]interface{}) ([]StatsStream, string) {
	if doc == nil {
		return nil, "none"
	}
	for _, d := range shapeDetectors {
		if streams, ok := safeDetect(d, doc); ok {
			return streams, d.name
		}
	}
	return nil, "none"
}

func safeDetect(d shapeDetector, doc map[string]interface{}) (streams []StatsStream, ok bool) {
	defer func() {
		if recover() != nil {
			streams, ok = nil, false
		}
	}()
	return d.detect(doc)
}

func dig(v interface{}, path ...string) interface{} {
	for _, key := range path {
		m, ok := v.(map[string]interface{})
		if !ok {
			return nil
		}
		v = m[key]
	}
	return v
}

func detectFlatStreams(doc map[string]interface{}) ([]StatsStream, bool) {
	raw, ok := doc["streams"]
	if !ok {
		return nil, false
	}
	records, ok := parseStreamRecords(raw, "")
	if !ok {
		return nil, false
	}
	return records, true
}

// parseApplications accepts a list of application objects or a map keyed
// by application name.
func parseApplications(v interface{}) ([]StatsStream, bool) {
	switch apps := v.(type) {
	case []interface{}:
		var out []StatsStream
		for _, item := range apps {
			app, ok := item.(map[string]interface{})
			if !ok {
				continue
			}
			out = append(out, applicationStreams(stringField(app, "name", "app", "application"), app)...)
		}
		return out, true
	case map[string]interface{}:
		var out []StatsStream
		for _, name := range sortedKeys(apps) {
			switch app := apps[name].(type) {
			case map[string]interface{}:
				appName := stringField(app, "name", "app", "application")
				if appName == "" {
					appName = name
				}
				out = append(out, applicationStreams(appName, app)...)
			case []interface{}:
				records, _ := parseStreamRecords(app, name)
				out = append(out, records...)
			}
		}
		return out, true
	}
	return nil, false
}

func applicationStreams(appName string, app map[string]interface{}) []StatsStream {
	for _, v := range []interface{}{app["streams"], dig(app, "live", "streams"), dig(app, "live", "stream"), app["stream"]} {
		if v == nil {
			continue
		}
		if records, ok := parseStreamRecords(v, appName); ok {
			return records
		}
	}
	return nil
}

// parseStreamRecords accepts a list of records, a single record, or a map
// keyed by stream name.
func parseStreamRecords(v interface{}, appName string) ([]StatsStream, bool) {
	switch records := v.(type) {
	case []interface{}:
		out := make([]StatsStream, 0, len(records))
		for _, item := range records {
			if rec, ok := item.(map[string]interface{}); ok {
				if s, ok := toStatsStream(rec, appName, ""); ok {
					out = append(out, s)
				}
			}
		}
		return out, true
	case map[string]interface{}:
		if stringField(records, "name", "key", "stream", "streamKey", "stream_key") != "" {
			s, ok := toStatsStream(records, appName, "")
			if !ok {
				return nil, true
			}
			return []StatsStream{s}, true
		}
		var out []StatsStream
		for _, name := range sortedKeys(records) {
			if rec, ok := records[name].(map[string]interface{}); ok {
				if s, ok := toStatsStream(rec, appName, name); ok {
					out = append(out, s)
				}
			}
		}
		return out, true
	}
	return nil, false
}

func toStatsStream(rec map[string]interface{}, appName, fallbackName string) (StatsStream, bool) {
	name := stringField(rec, "name", "key", "stream", "streamKey", "stream_key")
	if name == "" {
		name = fallbackName
	}
	if name == "" {
		return StatsStream{}, false
	}
	app := stringField(rec, "app", "application")
	if app == "" {
		app = appName
	}
	return StatsStream{App: app, Name: name, Raw: rec}, true
}

// detectNginxRTMP reads the nginx-rtmp stat layout, where server and
// application may each be a single object or a list.
func detectNginxRTMP(doc map[string]interface{}) ([]StatsStream, bool) {
	server := dig(doc, "rtmp", "server")
	if server == nil {
		return nil, false
	}
	var servers []interface{}
	switch s := server.(type) {
	case []interface{}:
		servers = s
	case map[string]interface{}:
		servers = []interface{}{s}
	default:
		return nil, false
	}

	var out []StatsStream
	found := false
	for _, srv := range servers {
		application := dig(srv, "application")
		if application == nil {
			continue
		}
		if single, ok := application.(map[string]interface{}); ok {
			application = []interface{}{single}
		}
		streams, ok := parseApplications(application)
		if !ok {
			continue
		}
		found = true
		out = append(out, streams...)
	}
	return out, found
}

func sortedKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func stringField(m map[string]interface{}, keys ...string) string {
	for _, k := range keys {
		switch v := m[k].(type) {
		case string:
			if s := strings.TrimSpace(v); s != "" {
				return s
			}
		case json.Number:
			return v.String()
		}
	}
	return ""
}

func number(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	}
	return 0, false
}

func numberField(m map[string]interface{}, keys ...string) (float64, bool) {
	for _, k := range keys {
		if f, ok := number(m[k]); ok && !math.IsNaN(f) && !math.IsInf(f, 0) {
			return f, true
		}
	}
	return 0, false
}

// StreamActivity is what one stats record says about a live stream.
type StreamActivity struct {
	Viewers int
	Metrics dto.SessionMetrics
}

const defaultTargetBitrate = 2500

// ExtractActivity derives viewer count and session metrics from a raw
// record. targetBitrate is in kbps; zero uses the default.
func ExtractActivity(raw map[string]interface{}, targetBitrate int) StreamActivity {
	var a StreamActivity
	if raw == nil {
		return a
	}

	if v, ok := numberField(raw, "viewers", "clients", "nclients", "viewer_count", "viewerCount", "subscribers", "players"); ok && v > 0 {
		a.Viewers = int(v)
	}
	peak := a.Viewers
	a.Metrics.PeakViewers = &peak
	if v, ok := numberField(raw, "total_viewers", "totalViewers", "total_clients"); ok && v >= 0 {
		total := int(v)
		a.Metrics.TotalViewers = &total
	}
	if v, ok := numberField(raw, "bytes_in", "bytesIn", "recv_bytes"); ok && v >= 0 {
		in := int64(v)
		a.Metrics.BytesReceived = &in
	}
	if v, ok := numberField(raw, "bytes_out", "bytesOut", "send_bytes"); ok && v >= 0 {
		out := int64(v)
		a.Metrics.BytesSent = &out
	}

	bitrate, hasBitrate := numberField(raw, "bitrate", "kbps")
	if !hasBitrate {
		// bw_in is bits per second
		if bw, ok := numberField(raw, "bw_in", "bwIn"); ok {
			bitrate, hasBitrate = bw/1000, true
		}
	}
	if hasBitrate && bitrate >= 0 {
		kbps := int(math.Round(bitrate))
		a.Metrics.AverageBitrate = &kbps
	}

	dropped, hasDropped := numberField(raw, "dropped_frames", "droppedFrames")
	if hasDropped && dropped >= 0 {
		d := int64(dropped)
		a.Metrics.DroppedFrames = &d
	}

	if q, ok := connectionQuality(raw, dropped, hasDropped, bitrate, hasBitrate, targetBitrate); ok {
		a.Metrics.ConnectionQuality = &q
	}
	return a
}

// connectionQuality is 1 - dropRatio when a drop ratio is known, otherwise
// a blend of error rate, retransmit rate and bitrate shortfall.
func connectionQuality(raw map[string]interface{}, dropped float64, hasDropped bool, bitrate float64, hasBitrate bool, targetBitrate int) (float64, bool) {
	if ratio, ok := numberField(raw, "drop_ratio", "dropRatio"); ok {
		return clamp01(1 - ratio), true
	}
	if total, ok := numberField(raw, "total_frames", "totalFrames", "frames"); ok && hasDropped && total > 0 {
		return clamp01(1 - dropped/total), true
	}

	packets, hasPackets := numberField(raw, "packets", "total_packets", "totalPackets")
	errs, hasErrs := numberField(raw, "errors", "error_count")
	retransmits, hasRetransmits := numberField(raw, "retransmits", "retransmissions")

	var errorRate, retransmitRate, shortfall float64
	signal := false
	if hasPackets && packets > 0 {
		if hasErrs {
			errorRate = clamp01(errs / packets)
			signal = true
		}
		if hasRetransmits {
			retransmitRate = clamp01(retransmits / packets)
			signal = true
		}
	}
	if hasBitrate {
		target := float64(targetBitrate)
		if target <= 0 {
			target = defaultTargetBitrate
		}
		shortfall = clamp01(1 - bitrate/target)
		signal = true
	}
	if !signal {
		return 0, false
	}
	return clamp01(1 - (0.4*errorRate + 0.3*retransmitRate + 0.3*shortfall)), true
}
