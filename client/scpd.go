package client

import (
	"encoding/xml"
	"strconv"

	"github.com/rosschurchill/upnpav"
)

// ValueRange is the numeric allowed range of a state variable.
type ValueRange struct {
	Min  int
	Max  int
	Step int
}

// StateVariable is one state-variable descriptor from a service's SCPD.
type StateVariable struct {
	Name       string
	DataType   string
	SendEvents bool
	Range      *ValueRange
}

// SCPD is the parsed service description: the supported-actions set and the
// state-variable table.
type SCPD struct {
	Actions   map[string]bool
	Variables []StateVariable
}

// Variable returns the descriptor for the named state variable.
func (s *SCPD) Variable(name string) (StateVariable, bool) {
	for _, v := range s.Variables {
		if v.Name == name {
			return v, true
		}
	}
	return StateVariable{}, false
}

type scpdRoot struct {
	XMLName   xml.Name       `xml:"scpd"`
	Actions   []scpdAction   `xml:"actionList>action"`
	Variables []scpdVariable `xml:"serviceStateTable>stateVariable"`
}

type scpdAction struct {
	Name string `xml:"name"`
}

type scpdVariable struct {
	SendEvents string     `xml:"sendEvents,attr"`
	Name       string     `xml:"name"`
	DataType   string     `xml:"dataType"`
	Range      *scpdRange `xml:"allowedValueRange"`
}

type scpdRange struct {
	Minimum string `xml:"minimum"`
	Maximum string `xml:"maximum"`
	Step    string `xml:"step"`
}

// ParseSCPD parses a service description document. Malformed optional
// subfields (a bad range bound) are dropped, not fatal.
func ParseSCPD(data []byte) (*SCPD, error) {
	var root scpdRoot
	if err := xml.Unmarshal(data, &root); err != nil {
		return nil, &upnpav.ParseError{Element: "scpd", Detail: err.Error()}
	}

	scpd := &SCPD{Actions: map[string]bool{}}
	for _, action := range root.Actions {
		if action.Name != "" {
			scpd.Actions[action.Name] = true
		}
	}
	for _, v := range root.Variables {
		sv := StateVariable{
			Name:       v.Name,
			DataType:   v.DataType,
			SendEvents: v.SendEvents == "yes" || v.SendEvents == "",
		}
		if v.Range != nil {
			if r, ok := parseRange(v.Range); ok {
				sv.Range = &r
			}
		}
		scpd.Variables = append(scpd.Variables, sv)
	}
	return scpd, nil
}

func parseRange(r *scpdRange) (ValueRange, bool) {
	minimum, err := strconv.Atoi(r.Minimum)
	if err != nil {
		return ValueRange{}, false
	}
	maximum, err := strconv.Atoi(r.Maximum)
	if err != nil {
		return ValueRange{}, false
	}
	vr := ValueRange{Min: minimum, Max: maximum, Step: 1}
	if step, err := strconv.Atoi(r.Step); err == nil && step > 0 {
		vr.Step = step
	}
	return vr, true
}

// Clamp returns value limited to the range.
func (r ValueRange) Clamp(value int) int {
	if value < r.Min {
		return r.Min
	}
	if value > r.Max {
		return r.Max
	}
	return value
}
