package adserver

import (
	"strings"

	"github.com/prebid/openrtb/v20/openrtb2"
	"github.com/shopspring/decimal"

	"github.com/adxyz/adpolicy/core"
)

// Creative is the policy-relevant slice of an ad returned by the ad-serving
// API. Rendering fields (markup, assets) stay out of scope; the policy layer
// only needs identity, placement, media type and advertiser provenance.
type Creative struct {
	AdID              string
	CampaignID        string
	Placement         core.Placement
	Media             core.MediaType
	AdvertiserDomains []string
	DurationSec       int64
	Price             decimal.Decimal
}

// CreativesFromBidResponse extracts creatives from an OpenRTB 2.x bid
// response, resolving placement and media type against the originating
// request's impressions.
func CreativesFromBidResponse(req *openrtb2.BidRequest, resp *openrtb2.BidResponse) []Creative {
	if resp == nil {
		return nil
	}

	imps := make(map[string]openrtb2.Imp)
	if req != nil {
		for _, imp := range req.Imp {
			imps[imp.ID] = imp
		}
	}

	creatives := make([]Creative, 0)
	for _, seatBid := range resp.SeatBid {
		for _, bid := range seatBid.Bid {
			imp, hasImp := imps[bid.ImpID]

			c := Creative{
				AdID:              bid.CrID,
				CampaignID:        bid.CID,
				AdvertiserDomains: bid.ADomain,
				DurationSec:       bid.Dur,
				Price:             decimal.NewFromFloat(bid.Price),
			}
			if c.AdID == "" {
				c.AdID = bid.ID
			}

			c.Media = detectMedia(imp, hasImp, bid)
			c.Placement = detectPlacement(imp, hasImp, c.Media)

			// VAST markup carries the duration when the bid omits it.
			if c.Media == core.MediaVideo && c.DurationSec == 0 {
				if info, ok := parseVAST(bid.AdM); ok {
					c.DurationSec = info.DurationSec
				}
			}

			creatives = append(creatives, c)
		}
	}
	return creatives
}

// detectMedia decides whether a creative counts as video for viewability
// purposes (2s threshold) or display (1s threshold).
func detectMedia(imp openrtb2.Imp, hasImp bool, bid openrtb2.Bid) core.MediaType {
	if hasImp && imp.Video != nil {
		return core.MediaVideo
	}
	if bid.Dur > 0 {
		return core.MediaVideo
	}
	// VAST markup means a video creative even on a mixed impression.
	markup := strings.TrimSpace(bid.AdM)
	if strings.HasPrefix(markup, "<?xml") || strings.Contains(markup, "<VAST") {
		return core.MediaVideo
	}
	return core.MediaDisplay
}

// detectPlacement maps an impression's structure to a policy placement.
func detectPlacement(imp openrtb2.Imp, hasImp bool, media core.MediaType) core.Placement {
	if !hasImp {
		if media == core.MediaVideo {
			return core.PlacementVideo
		}
		return core.PlacementBanner
	}
	if imp.Instl == 1 {
		return core.PlacementInterstitial
	}
	if imp.Video != nil {
		return core.PlacementVideo
	}
	if imp.Native != nil {
		return core.PlacementNative
	}
	if imp.Rwdd == 1 {
		return core.PlacementRewarded
	}
	return core.PlacementBanner
}

// FilterBlocked drops creatives from advertisers the user opted out of.
// isBlocked is typically EligibilityEngine.IsAdvertiserBlocked.
func FilterBlocked(creatives []Creative, isBlocked func(domain string) bool) []Creative {
	if isBlocked == nil {
		return creatives
	}
	kept := creatives[:0]
	for _, c := range creatives {
		blocked := false
		for _, domain := range c.AdvertiserDomains {
			if isBlocked(domain) {
				blocked = true
				break
			}
		}
		if !blocked {
			kept = append(kept, c)
		}
	}
	return kept
}
