package certcheck

import (
	"context"
	"crypto/tls"
	"math"
	"net"
	"net/url"
	"time"
)

// Report describes the leaf certificate presented by the gateway.
type Report struct {
	Endpoint string
	Status   string // "valid", "expiring", "expired" or "unreachable"
	Issuer   string
	NotAfter time.Time
	DaysLeft int
}

// Check dials the gateway endpoint over TLS and returns a Report for
// the leaf certificate it presents.
//
// Returns nil for plain-HTTP or unparseable endpoints; there is no
// certificate to inspect. The dial is bounded by a 10-second timeout
// so a dead gateway cannot stall startup.
func Check(ctx context.Context, endpoint string, insecure bool) *Report {
	u, err := url.Parse(endpoint)
	if err != nil || u.Scheme != "https" {
		return nil
	}

	rep := &Report{Endpoint: endpoint}

	host := u.Host
	if _, _, err := net.SplitHostPort(host); err != nil {
		// No explicit port in the URL; append the HTTPS default.
		host = net.JoinHostPort(host, "443")
	}

	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	dialer := &tls.Dialer{
		NetDialer: &net.Dialer{},
		Config: &tls.Config{
			InsecureSkipVerify: insecure, //nolint:gosec // user-configured
		},
	}

	netConn, err := dialer.DialContext(dialCtx, "tcp", host)
	if err != nil {
		rep.Status = "unreachable"
		return rep
	}
	conn := netConn.(*tls.Conn)
	defer conn.Close()

	peerCerts := conn.ConnectionState().PeerCertificates
	if len(peerCerts) == 0 {
		rep.Status = "unreachable"
		return rep
	}

	leaf := peerCerts[0]
	daysLeft := time.Until(leaf.NotAfter).Hours() / 24

	rep.NotAfter = leaf.NotAfter.UTC()
	rep.Issuer = leaf.Issuer.CommonName
	rep.DaysLeft = int(math.Floor(daysLeft))

	switch {
	case daysLeft <= 0:
		rep.Status = "expired"
	case daysLeft <= 30:
		rep.Status = "expiring"
	default:
		rep.Status = "valid"
	}

	return rep
}
