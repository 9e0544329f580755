package adserver

import (
	"encoding/xml"
	"strconv"
	"strings"
)

// vastInfo is the policy-relevant slice of a VAST document: enough to
// classify the creative and size its viewability threshold, nothing more.
type vastInfo struct {
	AdID        string
	Advertiser  string
	DurationSec int64
}

type vastDocument struct {
	XMLName xml.Name `xml:"VAST"`
	Ads     []struct {
		ID     string `xml:"id,attr"`
		InLine *struct {
			Advertiser string `xml:"Advertiser"`
			Creatives  struct {
				Creative []struct {
					Linear *struct {
						Duration string `xml:"Duration"`
					} `xml:"Linear"`
				} `xml:"Creative"`
			} `xml:"Creatives"`
		} `xml:"InLine"`
	} `xml:"Ad"`
}

// parseVAST extracts vastInfo from VAST markup. Returns false when the markup
// is not a parseable VAST document with at least one ad.
func parseVAST(markup string) (vastInfo, bool) {
	var doc vastDocument
	if err := xml.Unmarshal([]byte(markup), &doc); err != nil || len(doc.Ads) == 0 {
		return vastInfo{}, false
	}

	ad := doc.Ads[0]
	info := vastInfo{AdID: ad.ID}
	if ad.InLine == nil {
		return info, true
	}

	info.Advertiser = strings.TrimSpace(ad.InLine.Advertiser)
	for _, creative := range ad.InLine.Creatives.Creative {
		if creative.Linear == nil {
			continue
		}
		if dur, ok := parseVASTDuration(creative.Linear.Duration); ok {
			info.DurationSec = dur
			break
		}
	}
	return info, true
}

// parseVASTDuration parses the HH:MM:SS(.mmm) duration format.
func parseVASTDuration(raw string) (int64, bool) {
	raw = strings.TrimSpace(raw)
	if dot := strings.IndexByte(raw, '.'); dot >= 0 {
		raw = raw[:dot]
	}
	parts := strings.Split(raw, ":")
	if len(parts) != 3 {
		return 0, false
	}

	var total int64
	for _, part := range parts {
		n, err := strconv.ParseInt(part, 10, 64)
		if err != nil || n < 0 {
			return 0, false
		}
		total = total*60 + n
	}
	return total, total > 0
}
