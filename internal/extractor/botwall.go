package extractor

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// ChallengeType identifies the kind of bot wall a page shows.
type ChallengeType string

const (
	ChallengeReCaptcha  ChallengeType = "recaptcha"
	ChallengeHCaptcha   ChallengeType = "hcaptcha"
	ChallengeTurnstile  ChallengeType = "turnstile"
	ChallengeCloudflare ChallengeType = "cloudflare"
	ChallengePerimeterX ChallengeType = "perimeterx"
	ChallengeDataDome   ChallengeType = "datadome"
	ChallengeAmazon     ChallengeType = "amazon"
	ChallengeGeneric    ChallengeType = "interstitial"
)

// interstitials are markers that only appear on challenge pages.
var interstitials = []struct {
	marker string
	kind   ChallengeType
}{
	{"cf-browser-verification", ChallengeCloudflare},
	{"cf-challenge-running", ChallengeCloudflare},
	{"/cdn-cgi/challenge-platform/", ChallengeCloudflare},
	{"px-captcha", ChallengePerimeterX},
	{"captcha-delivery.com", ChallengeDataDome},
	{"/errors/validatecaptcha", ChallengeAmazon},
}

var challengeTitles = []string{
	"just a moment",
	"attention required",
	"access denied",
	"robot or human",
	"are you a robot",
	"pardon our interruption",
	"security check",
}

// widgetTextLimit is the visible-text size under which a page carrying a
// captcha widget is treated as a challenge rather than a product page with
// an embedded form.
const widgetTextLimit = 1500

// DetectBotWall checks a page for captcha and challenge interstitials.
// It returns the challenge type, or "" when the page looks normal.
func DetectBotWall(doc *goquery.Document, body string) ChallengeType {
	lower := strings.ToLower(body)

	for _, in := range interstitials {
		if strings.Contains(lower, in.marker) {
			return in.kind
		}
	}

	title := strings.ToLower(strings.TrimSpace(doc.Find("head title").First().Text()))
	for _, t := range challengeTitles {
		if strings.HasPrefix(title, t) {
			return ChallengeGeneric
		}
	}

	var widget ChallengeType
	switch {
	case strings.Contains(lower, "g-recaptcha") || strings.Contains(lower, "recaptcha/api.js"):
		widget = ChallengeReCaptcha
	case strings.Contains(lower, "h-captcha") || strings.Contains(lower, "hcaptcha.com/1/api.js"):
		widget = ChallengeHCaptcha
	case strings.Contains(lower, "cf-turnstile"):
		widget = ChallengeTurnstile
	default:
		return ""
	}

	if len(strings.TrimSpace(visibleText(doc))) < widgetTextLimit {
		return widget
	}
	return ""
}
