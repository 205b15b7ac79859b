package fetcher

import (
	"crypto/tls"
	"fmt"
	"math/rand"
	"net/http"
)

// StealthConfig describes the browser fingerprint presented to shops.
type StealthConfig struct {
	ViewportWidth  int
	ViewportHeight int

	// WindowSize is passed to the browser launcher, e.g. "1920,1080".
	WindowSize string

	// UserDataDir keeps a persistent browser profile when set.
	UserDataDir string

	Language            string
	Platform            string
	HardwareConcurrency int
	DeviceMemory        int
}

// DefaultStealthConfig returns a fingerprint that mimics a typical desktop browser.
func DefaultStealthConfig() *StealthConfig {
	viewports := []struct{ w, h int }{
		{1920, 1080}, {1366, 768}, {1536, 864},
		{1440, 900}, {1280, 720}, {2560, 1440},
	}
	vp := viewports[rand.Intn(len(viewports))]

	platforms := []string{"Win32", "MacIntel", "Linux x86_64"}

	return &StealthConfig{
		ViewportWidth:       vp.w,
		ViewportHeight:      vp.h,
		WindowSize:          fmt.Sprintf("%d,%d", vp.w, vp.h),
		Language:            "en-US",
		Platform:            platforms[rand.Intn(len(platforms))],
		HardwareConcurrency: 4 + rand.Intn(13),
		DeviceMemory:        8,
	}
}

// StealthJS returns the script evaluated on every new document before the
// shop's own scripts run. It complements go-rod/stealth with the
// navigator values chosen for this config.
func (sc *StealthConfig) StealthJS() string {
	return fmt.Sprintf(`
Object.defineProperty(navigator, 'platform', { get: () => '%s' });
Object.defineProperty(navigator, 'language', { get: () => '%s' });
Object.defineProperty(navigator, 'languages', { get: () => ['%s', 'en'] });
Object.defineProperty(navigator, 'hardwareConcurrency', { get: () => %d });
Object.defineProperty(navigator, 'deviceMemory', { get: () => %d });
Object.defineProperty(navigator, 'webdriver', { get: () => false });
`, sc.Platform, sc.Language, sc.Language, sc.HardwareConcurrency, sc.DeviceMemory)
}

// setBrowserHeaders fills in the navigation headers a real browser sends,
// leaving any header already set alone.
func setBrowserHeaders(h http.Header) {
	defaults := [][2]string{
		{"Sec-Fetch-Dest", "document"},
		{"Sec-Fetch-Mode", "navigate"},
		{"Sec-Fetch-Site", "none"},
		{"Sec-Fetch-User", "?1"},
		{"Upgrade-Insecure-Requests", "1"},
		{"Sec-Ch-Ua", `"Chromium";v="124", "Not-A.Brand";v="99", "Google Chrome";v="124"`},
		{"Sec-Ch-Ua-Mobile", "?0"},
	}
	for _, kv := range defaults {
		if h.Get(kv[0]) == "" {
			h.Set(kv[0], kv[1])
		}
	}
}

// browserTLSConfig returns a TLS config whose cipher order matches either
// Chrome or Firefox.
func browserTLSConfig() *tls.Config {
	cipherSuites := [][]uint16{
		// Chrome
		{
			tls.TLS_AES_128_GCM_SHA256,
			tls.TLS_AES_256_GCM_SHA384,
			tls.TLS_CHACHA20_POLY1305_SHA256,
			tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
			tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
			tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
			tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
			tls.TLS_ECDHE_ECDSA_WITH_CHACHA20_POLY1305_SHA256,
			tls.TLS_ECDHE_RSA_WITH_CHACHA20_POLY1305_SHA256,
		},
		// Firefox
		{
			tls.TLS_AES_128_GCM_SHA256,
			tls.TLS_CHACHA20_POLY1305_SHA256,
			tls.TLS_AES_256_GCM_SHA384,
			tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
			tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
			tls.TLS_ECDHE_ECDSA_WITH_CHACHA20_POLY1305_SHA256,
			tls.TLS_ECDHE_RSA_WITH_CHACHA20_POLY1305_SHA256,
			tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
			tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
		},
	}

	return &tls.Config{
		CipherSuites: cipherSuites[rand.Intn(len(cipherSuites))],
		MinVersion:   tls.VersionTLS12,
		MaxVersion:   tls.VersionTLS13,
		CurvePreferences: []tls.CurveID{
			tls.X25519,
			tls.CurveP256,
			tls.CurveP384,
		},
	}
}
