// Package camera talks to the rover's ESP32 camera module, either directly
// on the LAN or through an HTTPS forwarding proxy, and provides the frame
// sources the stream manager runs.
package camera

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Endpoints are the URLs of one camera module.
type Endpoints struct {
	Proxy     bool
	Stream    string
	Capture   string
	Status    string
	Control   string
	CameraWS  string
	CommandWS string
}

// NewEndpoints builds the endpoint set for direct or proxied access.
// In direct mode esp32Address is a host or host:port; in proxy mode
// proxyBase is an absolute http(s) URL prefix.
func NewEndpoints(useProxy bool, esp32Address, proxyBase string) (Endpoints, error) {
	if useProxy {
		base, err := url.Parse(strings.TrimRight(proxyBase, "/"))
		if err != nil || base.Host == "" {
			return Endpoints{}, fmt.Errorf("invalid proxy base %q", proxyBase)
		}
		var wsScheme string
		switch base.Scheme {
		case "https":
			wsScheme = "wss"
		case "http":
			wsScheme = "ws"
		default:
			return Endpoints{}, fmt.Errorf("proxy base %q must be http or https", proxyBase)
		}
		httpBase := base.String()
		ws := *base
		ws.Scheme = wsScheme
		wsBase := ws.String()
		return Endpoints{
			Proxy:     true,
			Stream:    httpBase + "/stream",
			Capture:   httpBase + "/capture",
			Status:    httpBase + "/status",
			Control:   httpBase + "/control",
			CameraWS:  wsBase + "/Camera",
			CommandWS: wsBase + "/Command",
		}, nil
	}

	host := strings.TrimSpace(esp32Address)
	host = strings.TrimPrefix(strings.TrimPrefix(host, "http://"), "ws://")
	host = strings.TrimRight(host, "/")
	if host == "" {
		return Endpoints{}, errors.New("esp32 address is empty")
	}
	return Endpoints{
		Stream:    "http://" + host + "/stream",
		Capture:   "http://" + host + "/capture",
		Status:    "http://" + host + "/status",
		Control:   "http://" + host + "/control",
		CameraWS:  "ws://" + host + "/Camera",
		CommandWS: "ws://" + host + "/Command",
	}, nil
}
