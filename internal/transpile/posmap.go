package transpile

import (
	"encoding/json"

	"github.com/go-sourcemap/sourcemap"
)

// markersField is the source map extension listing widened top-level
// awaits as [line, column] pairs of the transformed input.
const markersField = "x_runjs_await_markers"

// PositionMap maps positions in transformed code back to the original
// source. Lines and columns are 1-based on both sides.
type PositionMap struct {
	consumer *sourcemap.Consumer
	raw      []byte
	// markers holds, per line, the ascending 0-based columns where an
	// await was widened to awaitMarker before transforming.
	markers map[int][]int
}

// ParsePositionMap parses a v3 source map.
func ParsePositionMap(raw []byte) (*PositionMap, error) {
	c, err := sourcemap.Parse("", raw)
	if err != nil {
		return nil, err
	}
	var ext map[string]json.RawMessage
	if err := json.Unmarshal(raw, &ext); err != nil {
		return nil, err
	}
	m := &PositionMap{consumer: c, raw: raw}
	if field, ok := ext[markersField]; ok {
		var pairs [][2]int
		if err := json.Unmarshal(field, &pairs); err != nil {
			return nil, err
		}
		m.markers = make(map[int][]int)
		for _, p := range pairs {
			m.markers[p[0]] = append(m.markers[p[0]], p[1])
		}
	}
	return m, nil
}

// withAwaitMarkers adds the marker positions to an encoded source map.
func withAwaitMarkers(raw []byte, markers [][2]int) ([]byte, error) {
	if len(markers) == 0 {
		return raw, nil
	}
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	field, err := json.Marshal(markers)
	if err != nil {
		return nil, err
	}
	doc[markersField] = field
	return json.Marshal(doc)
}

// Original returns the original position of a generated one.
func (m *PositionMap) Original(line, column int) (int, int, bool) {
	if m == nil || line < 1 {
		return 0, 0, false
	}
	col := column - 1
	if col < 0 {
		col = 0
	}
	_, _, ol, oc, ok := m.consumer.Source(line, col)
	if !ok {
		return 0, 0, false
	}
	return ol, m.unwiden(ol, oc) + 1, true
}

// unwiden undoes the column shift of markers placed before col on line.
// A column inside a marker maps to the await it replaced.
func (m *PositionMap) unwiden(line, col int) int {
	shift := 0
	for _, at := range m.markers[line] {
		switch {
		case col >= at+len(awaitMarker):
			shift += len(awaitMarker) - len("await")
		case col > at:
			return at - shift
		}
	}
	return col - shift
}

// Raw returns the encoded source map.
func (m *PositionMap) Raw() []byte {
	if m == nil {
		return nil
	}
	return m.raw
}
