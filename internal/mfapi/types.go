package mfapi

import (
	"encoding/json"
	"strconv"
	"time"
)

// SchemeRef is one entry of the upstream catalog. Scheme codes arrive as JSON
// numbers but are opaque identifiers, so they are normalized to strings.
type SchemeRef struct {
	SchemeCode string
	SchemeName string
}

func (r *SchemeRef) UnmarshalJSON(data []byte) error {
	var aux struct {
		SchemeCode any    `json:"schemeCode"`
		SchemeName string `json:"schemeName"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	switch code := aux.SchemeCode.(type) {
	case string:
		r.SchemeCode = code
	case float64:
		r.SchemeCode = strconv.FormatFloat(code, 'f', -1, 64)
	default:
		r.SchemeCode = ""
	}
	r.SchemeName = aux.SchemeName
	return nil
}

// SchemeMeta carries the authoritative fund attributes from the upstream.
type SchemeMeta struct {
	FundHouse      string `json:"fund_house"`
	SchemeType     string `json:"scheme_type"`
	SchemeCategory string `json:"scheme_category"`
	SchemeCode     string `json:"scheme_code"`
	SchemeName     string `json:"scheme_name"`
}

func (m *SchemeMeta) UnmarshalJSON(data []byte) error {
	var aux struct {
		FundHouse      string `json:"fund_house"`
		SchemeType     string `json:"scheme_type"`
		SchemeCategory string `json:"scheme_category"`
		SchemeCode     any    `json:"scheme_code"`
		SchemeName     string `json:"scheme_name"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	m.FundHouse = aux.FundHouse
	m.SchemeType = aux.SchemeType
	m.SchemeCategory = aux.SchemeCategory
	m.SchemeName = aux.SchemeName
	switch code := aux.SchemeCode.(type) {
	case string:
		m.SchemeCode = code
	case float64:
		m.SchemeCode = strconv.FormatFloat(code, 'f', -1, 64)
	}
	return nil
}

// NavPoint is one normalized observation: calendar date (UTC midnight) and
// price per unit.
type NavPoint struct {
	Date time.Time
	NAV  float64
}

// SchemeHistory is the normalized per-scheme payload: metadata plus the NAV
// series in ascending date order.
type SchemeHistory struct {
	Meta SchemeMeta
	NAVs []NavPoint
}
