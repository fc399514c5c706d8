package voicegateway

import (
	"net"
	"net/url"
	"strings"

	"github.com/gorilla/schema"
	"github.com/pkg/errors"
)

// Version represents the current version of the Discord Voice Gateway this
// package uses. Version 1 is the last one where Speaking is a boolean and
// Ready carries the heartbeat interval.
const Version = "1"

type endpointQuery struct {
	Version string `schema:"v"`
}

var queryEncoder = schema.NewEncoder()

// EndpointURL turns the endpoint given in a Voice Server Update into the URL
// of the voice websocket. Endpoints without a scheme get wss:// and lose the
// bogus :80 port that Discord sometimes appends.
func EndpointURL(endpoint string) (string, error) {
	if endpoint == "" {
		return "", errors.New("empty endpoint")
	}

	if !strings.Contains(endpoint, "://") {
		endpoint = "wss://" + strings.TrimSuffix(endpoint, ":80")
	}

	u, err := url.Parse(endpoint)
	if err != nil {
		return "", errors.Wrap(err, "failed to parse endpoint")
	}

	if u.Path == "" {
		u.Path = "/"
	}

	q := u.Query()
	if err := queryEncoder.Encode(endpointQuery{Version: Version}, q); err != nil {
		return "", errors.Wrap(err, "failed to encode query")
	}

	u.RawQuery = q.Encode()
	return u.String(), nil
}

// EndpointHost returns the host name of the endpoint without any port. The
// UDP voice server lives on the same host.
func EndpointHost(endpoint string) string {
	if i := strings.Index(endpoint, "://"); i >= 0 {
		endpoint = endpoint[i+3:]
	}

	if i := strings.IndexAny(endpoint, "/?"); i >= 0 {
		endpoint = endpoint[:i]
	}

	if host, _, err := net.SplitHostPort(endpoint); err == nil {
		return host
	}

	return endpoint
}
