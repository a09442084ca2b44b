package workspace

import (
	"net/url"
	"strconv"
	"strings"

	"managervnc/internal/registry"
)

// Viewer locates the noVNC web client.
type Viewer struct {
	Scheme string
	Host   string
	Port   int
}

// DefaultViewerPort is where noVNC's websockify usually listens.
const DefaultViewerPort = 6080

func escape(s string) string {
	return strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
}

// ViewerURL builds the embedded viewer address for m.
func ViewerURL(v Viewer, m registry.Machine, reconnect bool) string {
	scheme := v.Scheme
	if scheme == "" {
		scheme = "http"
	}
	port := v.Port
	if port == 0 {
		port = DefaultViewerPort
	}
	pw := ""
	if m.Password != nil {
		pw = *m.Password
	}
	var b strings.Builder
	b.WriteString(scheme)
	b.WriteString("://")
	b.WriteString(v.Host)
	b.WriteString(":")
	b.WriteString(strconv.Itoa(port))
	b.WriteString("/vnc.html?host=")
	b.WriteString(escape(m.Host))
	b.WriteString("&port=")
	b.WriteString(strconv.Itoa(m.Port))
	b.WriteString("&password=")
	b.WriteString(escape(pw))
	b.WriteString("&autoconnect=true&resize=scale&reconnect=")
	b.WriteString(strconv.FormatBool(reconnect))
	return b.String()
}
