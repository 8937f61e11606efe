package panel

import "encoding/json"

// envelope wraps every 3x-ui API response.
type envelope struct {
	Success bool            `json:"success"`
	Msg     string          `json:"msg"`
	Obj     json.RawMessage `json:"obj"`
}

// Inbound is the subset of /panel/api/inbounds/get the adapter reads.
// Settings and StreamSettings arrive as JSON encoded strings.
type Inbound struct {
	ID             int    `json:"id"`
	Port           int    `json:"port"`
	Protocol       string `json:"protocol"`
	Remark         string `json:"remark"`
	Listen         string `json:"listen"`
	Settings       string `json:"settings"`
	StreamSettings string `json:"streamSettings"`
}

type InboundSettings struct {
	Clients []ClientEntry `json:"clients"`
}

// ClientEntry is a client as read back from an inbound. tgId is left out
// because panel versions disagree on its type.
type ClientEntry struct {
	ID     string `json:"id"`
	Email  string `json:"email"`
	Flow   string `json:"flow"`
	Enable bool   `json:"enable"`
}

// Client is a client as written to addClient and updateClient.
type Client struct {
	ID         string `json:"id"`
	Email      string `json:"email"`
	Flow       string `json:"flow"`
	LimitIP    int    `json:"limitIp"`
	TotalGB    int64  `json:"totalGB"`
	ExpiryTime int64  `json:"expiryTime"`
	Enable     bool   `json:"enable"`
	TgID       int64  `json:"tgId"`
	SubID      string `json:"subId"`
	Comment    string `json:"comment"`
	Reset      int    `json:"reset"`
}

type clientSettings struct {
	Clients []Client `json:"clients"`
}

// clientRequest is the body of addClient/updateClient.
type clientRequest struct {
	ID       int    `json:"id"`
	Settings string `json:"settings"`
}

type StreamSettings struct {
	Network         string           `json:"network"`
	Security        string           `json:"security"`
	RealitySettings *RealitySettings `json:"realitySettings,omitempty"`
	TLSSettings     *TLSSettings     `json:"tlsSettings,omitempty"`
	WSSettings      *WSSettings      `json:"wsSettings,omitempty"`
	GRPCSettings    *GRPCSettings    `json:"grpcSettings,omitempty"`
}

type RealitySettings struct {
	ServerNames []string `json:"serverNames"`
	ShortIDs    []string `json:"shortIds"`
	Settings    struct {
		PublicKey   string `json:"publicKey"`
		Fingerprint string `json:"fingerprint"`
		SpiderX     string `json:"spiderX"`
	} `json:"settings"`
}

type TLSSettings struct {
	ServerName string   `json:"serverName"`
	ALPN       []string `json:"alpn"`
	Settings   struct {
		Fingerprint string `json:"fingerprint"`
	} `json:"settings"`
}

type WSSettings struct {
	Path    string            `json:"path"`
	Host    string            `json:"host"`
	Headers map[string]string `json:"headers"`
}

type GRPCSettings struct {
	ServiceName string `json:"serviceName"`
}
