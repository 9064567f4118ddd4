package apns

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// DeviceToken is the device identifier in its canonical form: lowercase
// hexadecimal text.
type DeviceToken string

// ParseToken validates the hexadecimal token and returns it in canonical form.
func ParseToken(str string) (DeviceToken, error) {
	str = strings.ToLower(strings.TrimSpace(str))
	if str == "" || len(str)%2 != 0 {
		return "", fmt.Errorf("%w: %q", ErrInvalidToken, str)
	}
	if _, err := hex.DecodeString(str); err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidToken, str)
	}
	return DeviceToken(str), nil
}

// TokenFromBytes returns the canonical form of the raw token.
func TokenFromBytes(data []byte) DeviceToken {
	return DeviceToken(hex.EncodeToString(data))
}

// Bytes returns the raw token used on the wire.
func (t DeviceToken) Bytes() ([]byte, error) {
	data, err := hex.DecodeString(string(t))
	if err != nil || len(data) == 0 {
		return nil, fmt.Errorf("%w: %q", ErrInvalidToken, string(t))
	}
	return data, nil
}

// String returns the hexadecimal form of the token.
func (t DeviceToken) String() string { return string(t) }

// Alert is the dictionary form of the notification alert. Empty fields are
// not encoded.
type Alert struct {
	Body         string   `json:"body,omitempty"`
	ActionLocKey string   `json:"action-loc-key,omitempty"`
	LocKey       string   `json:"loc-key,omitempty"`
	LocArgs      []string `json:"loc-args,omitempty"`
	LaunchImage  string   `json:"launch-image,omitempty"`
}

func (a *Alert) isEmpty() bool {
	return a == nil || (a.Body == "" && a.ActionLocKey == "" && a.LocKey == "" &&
		len(a.LocArgs) == 0 && a.LaunchImage == "")
}

// Notification describes a push message addressed to a set of devices.
type Notification struct {
	// Tokens is an ordered set: duplicates are ignored and the order of the
	// first occurrences decides which tokens are reported as delivered when
	// the gateway returns an error.
	Tokens []DeviceToken
	// Expiry is the time after which the notification is discarded by the
	// gateway. Zero means one day from the moment of sending.
	Expiry time.Time
	// Alert is the plain text alert. Ignored when AlertDict is set.
	Alert string
	// AlertDict is the structured alert.
	AlertDict *Alert
	// Badge sets the application badge. Nil leaves the badge unchanged.
	Badge *int
	// Sound is the name of the sound file to play.
	Sound string
	// Custom fields are added to the top level of the payload next to "aps".
	Custom map[string]interface{}
}

// AddTokens adds tokens to the notification, skipping those already present.
func (ntf *Notification) AddTokens(tokens ...DeviceToken) {
	var seen = make(map[DeviceToken]struct{}, len(ntf.Tokens)+len(tokens))
	for _, token := range ntf.Tokens {
		seen[token] = struct{}{}
	}
	for _, token := range tokens {
		if _, ok := seen[token]; ok {
			continue
		}
		seen[token] = struct{}{}
		ntf.Tokens = append(ntf.Tokens, token)
	}
}

// tokenSet returns the tokens without duplicates in their fixed order.
func (ntf *Notification) tokenSet() []DeviceToken {
	var (
		seen   = make(map[DeviceToken]struct{}, len(ntf.Tokens))
		result = make([]DeviceToken, 0, len(ntf.Tokens))
	)
	for _, token := range ntf.Tokens {
		if _, ok := seen[token]; ok {
			continue
		}
		seen[token] = struct{}{}
		result = append(result, token)
	}
	return result
}

// Payload returns the compact JSON representation of the notification
// content. Fields equal to their default values are omitted.
func (ntf *Notification) Payload() ([]byte, error) {
	var aps = make(map[string]interface{}, 3)
	switch {
	case !ntf.AlertDict.isEmpty():
		aps["alert"] = ntf.AlertDict
	case ntf.Alert != "":
		aps["alert"] = ntf.Alert
	}
	if ntf.Badge != nil {
		aps["badge"] = *ntf.Badge
	}
	if ntf.Sound != "" {
		aps["sound"] = ntf.Sound
	}
	var payload = make(map[string]interface{}, len(ntf.Custom)+1)
	for key, value := range ntf.Custom {
		payload[key] = value
	}
	payload["aps"] = aps
	return json.Marshal(payload)
}

// expiry returns the expiration time in epoch seconds relative to now.
func (ntf *Notification) expiry(now time.Time) uint32 {
	if ntf.Expiry.IsZero() {
		return uint32(now.Add(DefaultExpiration).Unix())
	}
	return uint32(ntf.Expiry.Unix())
}
