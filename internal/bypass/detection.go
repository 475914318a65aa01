// Package bypass recognizes bot-protection challenge pages. The qualifier
// treats a detected challenge as a page that can never qualify: counting
// pattern matches on an interstitial would be meaningless.
package bypass

import (
	"bytes"
	"net/http"
	"strings"
)

// Response is the slice of a fetch outcome the detectors inspect.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Detector examines a response and reports whether a bot protection vendor
// blocked or challenged the request.
type Detector func(res Response) (detected bool, source string)

// DefaultDetectors returns the standard detectors.
func DefaultDetectors() []Detector {
	return []Detector{
		detectCloudflare,
		detectAkamai,
		detectDataDome,
		detectPerimeterX,
	}
}

// Detect runs the response through all provided detectors and returns the
// first hit. A nil detectors slice means DefaultDetectors.
func Detect(res Response, detectors []Detector) (bool, string) {
	if detectors == nil {
		detectors = DefaultDetectors()
	}
	for _, d := range detectors {
		if detected, source := d(res); detected {
			return true, source
		}
	}
	return false, ""
}

// detectCloudflare looks for common Cloudflare challenge/block signatures.
func detectCloudflare(res Response) (bool, string) {
	// 403 or 503 are the usual CF challenge statuses.
	if res.StatusCode == http.StatusForbidden || res.StatusCode == http.StatusServiceUnavailable {
		server := strings.ToLower(res.Header.Get("Server"))
		if strings.Contains(server, "cloudflare") {
			return true, "Cloudflare"
		}

		if bytes.Contains(res.Body, []byte("cf-browser-verification")) ||
			bytes.Contains(res.Body, []byte("cloudflare-nginx")) ||
			bytes.Contains(res.Body, []byte("cf-turnstile")) ||
			bytes.Contains(res.Body, []byte("Attention Required! | Cloudflare")) {
			return true, "Cloudflare"
		}
	}
	return false, ""
}

// detectAkamai looks for Akamai Bot Manager signatures.
func detectAkamai(res Response) (bool, string) {
	if res.StatusCode == http.StatusForbidden {
		server := strings.ToLower(res.Header.Get("Server"))
		if strings.Contains(server, "akamai") {
			return true, "Akamai"
		}

		// Akamai block pages carry a generic "Reference #" marker.
		if bytes.Contains(res.Body, []byte("Reference #")) && bytes.Contains(res.Body, []byte("Access Denied")) {
			return true, "Akamai"
		}
	}
	return false, ""
}

// detectDataDome looks for DataDome challenge/block signatures.
func detectDataDome(res Response) (bool, string) {
	if res.StatusCode == http.StatusForbidden {
		server := strings.ToLower(res.Header.Get("Server"))
		if strings.Contains(server, "datadome") {
			return true, "DataDome"
		}

		if res.Header.Get("X-DataDome") != "" || res.Header.Get("X-DataDome-Response") != "" {
			return true, "DataDome"
		}

		if bytes.Contains(res.Body, []byte("geo.captcha-delivery.com")) || bytes.Contains(res.Body, []byte("datadome")) {
			return true, "DataDome"
		}
	}
	return false, ""
}

// detectPerimeterX looks for PerimeterX (HUMAN) signatures.
func detectPerimeterX(res Response) (bool, string) {
	if res.StatusCode == http.StatusForbidden {
		if res.Header.Get("X-Px-Captcha") != "" {
			return true, "PerimeterX"
		}

		if bytes.Contains(res.Body, []byte("client.perimeterx.net")) ||
			bytes.Contains(res.Body, []byte("px-captcha")) ||
			bytes.Contains(res.Body, []byte("_pxBlock")) {
			return true, "PerimeterX"
		}
	}
	return false, ""
}
