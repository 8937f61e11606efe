package panel

import (
	"net"
	"net/url"
	"strconv"
)

// VLESSURI builds a share link for client c on an inbound reachable at host.
func VLESSURI(host string, in Inbound, stream StreamSettings, c ClientEntry) string {
	q := url.Values{}
	network := stream.Network
	if network == "" {
		network = "tcp"
	}
	q.Set("type", network)
	q.Set("encryption", "none")

	switch network {
	case "ws":
		if ws := stream.WSSettings; ws != nil {
			q.Set("path", ws.Path)
			if h := ws.Host; h != "" {
				q.Set("host", h)
			} else if h := ws.Headers["Host"]; h != "" {
				q.Set("host", h)
			}
		}
	case "grpc":
		if g := stream.GRPCSettings; g != nil {
			q.Set("serviceName", g.ServiceName)
		}
	}

	security := stream.Security
	if security == "" {
		security = "none"
	}
	q.Set("security", security)
	switch security {
	case "reality":
		if r := stream.RealitySettings; r != nil {
			q.Set("pbk", r.Settings.PublicKey)
			if r.Settings.Fingerprint != "" {
				q.Set("fp", r.Settings.Fingerprint)
			}
			if len(r.ServerNames) > 0 {
				q.Set("sni", r.ServerNames[0])
			}
			if len(r.ShortIDs) > 0 {
				q.Set("sid", r.ShortIDs[0])
			}
			if r.Settings.SpiderX != "" {
				q.Set("spx", r.Settings.SpiderX)
			}
		}
	case "tls":
		if t := stream.TLSSettings; t != nil {
			if t.ServerName != "" {
				q.Set("sni", t.ServerName)
			}
			if t.Settings.Fingerprint != "" {
				q.Set("fp", t.Settings.Fingerprint)
			}
		}
	}
	if c.Flow != "" && network == "tcp" && security != "none" {
		q.Set("flow", c.Flow)
	}

	remark := c.Email
	if in.Remark != "" {
		remark = in.Remark + "-" + c.Email
	}
	u := url.URL{
		Scheme:   "vless",
		User:     url.User(c.ID),
		Host:     net.JoinHostPort(host, strconv.Itoa(in.Port)),
		RawQuery: q.Encode(),
		Fragment: remark,
	}
	return u.String()
}
