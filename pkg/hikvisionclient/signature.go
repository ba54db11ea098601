package hikvisionclient

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"net/http"
)

// Signer holds the Artemis app credential used to sign outbound requests.
type Signer struct {
	AppKey    string
	AppSecret string
}

// Sign returns base64(HMAC-SHA256(secret, method\naccept\ncontentType\nurlPath)).
// HikCentral recomputes this server-side, so the canonical string must not change.
func Sign(method, accept, contentType, urlPath, secret string) string {
	canonical := method + "\n" + accept + "\n" + contentType + "\n" + urlPath
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(canonical))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// Apply sets the content negotiation and X-Ca-* authentication headers on req.
func (s Signer) Apply(req *http.Request, accept, contentType, urlPath string) {
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", accept)
	req.Header.Set("X-Ca-Key", s.AppKey)
	req.Header.Set("X-Ca-Signature", Sign(req.Method, accept, contentType, urlPath, s.AppSecret))
}
