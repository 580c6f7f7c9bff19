// Package ice fetches ICE server credentials from the external TURN credential
// service and caches them.
package ice

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/pion/stun/v3"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/mossy-p/sessionlink/config"
)

// Provider serves ICE servers. Upstream failures fall back to the last good list,
// then to the configured STUN servers.
type Provider struct {
	endpoint string
	token    string
	stunURLs []string
	ttl      time.Duration
	client   *http.Client
	now      func() time.Time

	mu       sync.Mutex
	cached   []webrtc.ICEServer
	cachedAt time.Time
}

func NewProvider(cfg config.ICEConfig) *Provider {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &Provider{
		endpoint: cfg.Endpoint,
		token:    cfg.Token,
		stunURLs: cfg.STUNURLs,
		ttl:      cfg.CacheTTL,
		client:   &http.Client{Timeout: timeout},
		now:      time.Now,
	}
}

// Servers returns the list clients should hand to RTCPeerConnection.
func (p *Provider) Servers(ctx context.Context) []webrtc.ICEServer {
	if p.endpoint == "" {
		return p.fallback()
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cached != nil && p.now().Sub(p.cachedAt) < p.ttl {
		return p.cached
	}

	servers, err := p.fetch(ctx)
	if err != nil {
		log.Warn().Err(err).Str("module", "ice").Msg("ICE credential fetch failed")
		if p.cached != nil {
			return p.cached
		}
		return p.fallback()
	}

	p.cached, p.cachedAt = servers, p.now()
	return servers
}

func (p *Provider) fallback() []webrtc.ICEServer {
	if len(p.stunURLs) == 0 {
		return []webrtc.ICEServer{}
	}
	return []webrtc.ICEServer{{URLs: p.stunURLs}}
}

// upstreamServer accepts both "urls": "..." and "urls": [...], plus the legacy
// singular "url".
type upstreamServer struct {
	URLs       json.RawMessage `json:"urls"`
	URL        string          `json:"url"`
	Username   string          `json:"username"`
	Credential string          `json:"credential"`
}

func (p *Provider) fetch(ctx context.Context) ([]webrtc.ICEServer, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if p.token != "" {
		req.Header.Set("Authorization", "Bearer "+p.token)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("credential service returned %d", resp.StatusCode)
	}

	var body struct {
		ICEServers []upstreamServer `json:"iceServers"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode credential response: %w", err)
	}

	out := make([]webrtc.ICEServer, 0, len(body.ICEServers))
	for _, s := range body.ICEServers {
		urls := validURLs(s.urlList())
		if len(urls) == 0 {
			continue
		}
		server := webrtc.ICEServer{URLs: urls, Username: s.Username}
		if s.Credential != "" {
			server.Credential = s.Credential
			server.CredentialType = webrtc.ICECredentialTypePassword
		}
		out = append(out, server)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("credential service returned no usable servers")
	}
	return out, nil
}

func (s upstreamServer) urlList() []string {
	var many []string
	if err := json.Unmarshal(s.URLs, &many); err == nil {
		return many
	}
	var one string
	if err := json.Unmarshal(s.URLs, &one); err == nil && one != "" {
		return []string{one}
	}
	if s.URL != "" {
		return []string{s.URL}
	}
	return nil
}

// validURLs keeps the stun:, stuns:, turn: and turns: URIs that parse.
func validURLs(urls []string) []string {
	out := make([]string, 0, len(urls))
	for _, raw := range urls {
		if _, err := stun.ParseURI(raw); err != nil {
			log.Debug().Err(err).Str("module", "ice").Str("url", raw).Msg("skipping ICE url")
			continue
		}
		out = append(out, raw)
	}
	return out
}
