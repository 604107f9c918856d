// Package rtc serves the ICE configuration browsers use to build their peer connections.
package rtc

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/pion/webrtc/v4"
)

// ICEServer is the configured form of one STUN or TURN server.
type ICEServer struct {
	URLs       []string `mapstructure:"urls"`
	Username   string   `mapstructure:"username"`
	Credential string   `mapstructure:"credential"`
}

func DefaultWebRTCConfig() webrtc.Configuration {
	return webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{
			{
				URLs: []string{"stun:stun.l.google.com:19302"},
			},
		},
	}
}

// NewWebRTCConfig builds the client configuration; no servers means the default STUN server.
func NewWebRTCConfig(servers []ICEServer) webrtc.Configuration {
	if len(servers) == 0 {
		return DefaultWebRTCConfig()
	}
	cfg := webrtc.Configuration{ICEServers: make([]webrtc.ICEServer, 0, len(servers))}
	for _, s := range servers {
		srv := webrtc.ICEServer{URLs: s.URLs}
		if s.Username != "" {
			srv.Username = s.Username
			srv.Credential = s.Credential
			srv.CredentialType = webrtc.ICECredentialTypePassword
		}
		cfg.ICEServers = append(cfg.ICEServers, srv)
	}
	return cfg
}

type iceServerView struct {
	URLs       []string `json:"urls"`
	Username   string   `json:"username,omitempty"`
	Credential string   `json:"credential,omitempty"`
}

// ConfigHandler serves cfg as {"iceServers": [...]} in the browser RTCConfiguration shape.
func ConfigHandler(cfg webrtc.Configuration) gin.HandlerFunc {
	servers := make([]iceServerView, 0, len(cfg.ICEServers))
	for _, s := range cfg.ICEServers {
		v := iceServerView{URLs: s.URLs, Username: s.Username}
		if cred, ok := s.Credential.(string); ok {
			v.Credential = cred
		}
		servers = append(servers, v)
	}
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"iceServers": servers})
	}
}
