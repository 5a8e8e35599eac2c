// Package relay implements the master/slave relay puller of spec.md
// §4.7: poll an upstream node's mountpoint list and pull each one in as
// a local relay source, demuxing its in-band ICY metadata along the
// way.
package relay

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/icestream/icestream/internal/config"
	"github.com/icestream/icestream/internal/icerr"
	"github.com/icestream/icestream/internal/metadata"
	"github.com/icestream/icestream/internal/stream"
	"github.com/icestream/icestream/internal/transfer"
)

// Puller owns the polling loop against one master_server upstream.
type Puller struct {
	cfg      *config.Config
	registry *stream.Registry
	log      *slog.Logger
	client   *http.Client

	activeMu sync.Mutex
	active   map[string]bool
}

// New constructs a Puller for cfg.MasterServer. Safe to construct even
// when cfg.MasterServer.Enabled is false; Run simply returns immediately
// in that case.
func New(cfg *config.Config, registry *stream.Registry, logger *slog.Logger) *Puller {
	return &Puller{
		cfg:      cfg,
		registry: registry,
		log:      logger,
		active:   make(map[string]bool),
		client: &http.Client{
			Transport: &http.Transport{
				ResponseHeaderTimeout: cfg.Limits.HeaderTimeout,
			},
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= cfg.Limits.HTTPMaxRedirects {
					return fmt.Errorf("stopped after %d redirects", cfg.Limits.HTTPMaxRedirects)
				}
				return nil
			},
		},
	}
}

// clientFor returns the shared client, unless limits carries a per-mount
// header_timeout override, in which case it builds a one-off client with
// its own Transport.ResponseHeaderTimeout bounding only the wait for the
// upstream's response headers, not the subsequent streamed body.
func (p *Puller) clientFor(limits config.MountLimits) *http.Client {
	if limits.HeaderTimeout == p.cfg.Limits.HeaderTimeout {
		return p.client
	}
	return &http.Client{
		Transport: &http.Transport{
			ResponseHeaderTimeout: limits.HeaderTimeout,
		},
		CheckRedirect: p.client.CheckRedirect,
	}
}

// Run polls the upstream every master_server.update_interval until ctx
// is cancelled. Each poll's new relay fetches run on an errgroup capped
// at relay_limit goroutines via errgroup.SetLimit; across polls,
// admissible's relay_count check bounds the total.
func (p *Puller) Run(ctx context.Context) {
	if !p.cfg.MasterServer.Enabled {
		return
	}
	ticker := time.NewTicker(p.cfg.MasterServer.UpdateInterval)
	defer ticker.Stop()

	for {
		p.pollOnce(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// pollOnce fetches the upstream's current mountpoint list and spawns a
// bounded pool of fetchers for every admissible mount not already
// relayed locally. It does not wait for the fetchers, which stream for
// as long as their upstream does, so Run's next poll stays on schedule.
func (p *Puller) pollOnce(ctx context.Context) {
	mounts, err := p.fetchMountpoints(ctx)
	if err != nil {
		p.log.Error("relay poll failed", "upstream", p.cfg.MasterServer.URL, "error", err)
		return
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.MasterServer.RelayLimit)

	for _, mount := range mounts {
		mount = strings.TrimSuffix(mount, "/")
		if !p.admissible(mount) {
			continue
		}
		p.activeMu.Lock()
		p.active[mount] = true
		p.activeMu.Unlock()

		g.Go(func() error {
			defer func() {
				p.activeMu.Lock()
				delete(p.active, mount)
				p.activeMu.Unlock()
			}()
			if err := p.relayMountpoint(gctx, mount); err != nil {
				p.log.Error("relay mountpoint failed", "mount", mount, "upstream", p.cfg.MasterServer.URL, "error", err)
			}
			return nil
		})
	}
	go g.Wait()
}

// admissible mirrors the per-mount skip conditions of spec.md §4.7:
// reserved paths, relay_limit, total_sources_limit, and mounts that
// already exist locally (sourced live or already relayed).
func (p *Puller) admissible(mount string) bool {
	if mount == "" || strings.HasPrefix(mount, "/admin") || strings.HasPrefix(mount, "/api") {
		return false
	}
	p.activeMu.Lock()
	alreadyActive := p.active[mount]
	p.activeMu.Unlock()
	if alreadyActive {
		return false
	}
	if p.registry.RelayCount() >= int64(p.cfg.MasterServer.RelayLimit) {
		return false
	}
	if p.registry.TotalSources() >= int64(p.cfg.Limits.TotalSources) {
		return false
	}
	return !p.registry.Has(mount)
}

type serverInfoResponse struct {
	Mounts []string `json:"mounts"`
}

// fetchMountpoints retrieves the upstream's mountpoint list from
// /api/serverinfo, following redirects up to http_max_redirects.
func (p *Puller) fetchMountpoints(ctx context.Context) ([]string, error) {
	url := strings.TrimSuffix(p.cfg.MasterServer.URL, "/") + "/api/serverinfo"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", p.cfg.ServerID)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("upstream returned %d", resp.StatusCode)
	}

	var info serverInfoResponse
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, err
	}
	return info.Mounts, nil
}

// relayMountpoint pulls one mountpoint's stream in, registering it as a
// relay source and feeding it like a locally-ingested source, except
// metadata arrives in-band (via icy-metaint) rather than through the
// admin endpoint, and reads of the upstream body carry no per-read
// timeout (only the response headers are bounded, by header_timeout).
func (p *Puller) relayMountpoint(ctx context.Context, mount string) error {
	limits := p.cfg.EffectiveSourceLimits(mount)

	url := strings.TrimSuffix(p.cfg.MasterServer.URL, "/") + mount
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", p.cfg.ServerID)
	req.Header.Set("Icy-Metadata", "1")
	req.Header.Set("Connection", "Close")

	resp, err := p.clientFor(limits).Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("upstream returned %d for %s", resp.StatusCode, mount)
	}

	if resp.Header.Get("icy-name") == "" {
		return icerr.Protocol("upstream does not look like an icecast stream")
	}
	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		return icerr.Protocol("upstream provided no Content-Type")
	}

	decoder, err := transfer.NewDecoder(resp.Header.Get("Transfer-Encoding"), resp.Header.Get("Content-Length"))
	if err != nil {
		return err
	}

	props := stream.SourceProperties{
		ContentType: contentType,
		Name:        resp.Header.Get("icy-name"),
		Description: resp.Header.Get("icy-description"),
		URL:         resp.Header.Get("icy-url"),
		Genre:       resp.Header.Get("icy-genre"),
		Bitrate:     atoiDefault(resp.Header.Get("icy-br")),
		Public:      resp.Header.Get("icy-pub") == "1",
		UserAgent:   p.cfg.ServerID,
	}
	source := stream.NewSource(mount, props, limits.BurstSize)
	source.IsRelay = true
	p.registry.Register(source, true)

	metaint := atoiDefault(resp.Header.Get("icy-metaint"))
	demux := newMetaDemuxer(metaint)
	defer demux.close()

	p.log.Info("relay mounted", "mount", mount, "upstream", p.cfg.MasterServer.URL)
	bytesRead := p.feedRelay(resp.Body, source, decoder, demux, limits)

	moved := p.registry.FallbackHandover(source)
	if moved == 0 {
		source.KillAll()
	}
	p.registry.Remove(mount, true, bytesRead)
	p.log.Info("relay unmounted", "mount", mount, "bytes_read", bytesRead, "listeners_moved", moved)
	return nil
}

// feedRelay runs the decoder over raw wire bytes first (Content-Length
// and chunked framing describe the HTTP body as the upstream sent it,
// metadata blocks included) and only then hands the decoded body to the
// metadata demuxer, which strips the in-band ICY blocks out of it.
// Doing this in the other order would make a Length decoder's remaining
// count run out one metadata block early, truncating the relayed tail.
func (p *Puller) feedRelay(body io.Reader, source *stream.Source, decoder transfer.Decoder, demux *metaDemuxer, limits config.MountLimits) int64 {
	r := bufio.NewReaderSize(body, stream.LargeBufferSize)
	bufPtr := stream.GetLargeBuffer()
	defer stream.PutLargeBuffer(bufPtr)
	raw := *bufPtr

	var total int64
	for {
		if source.Disconnecting() {
			return total
		}
		n, err := r.Read(raw)
		if n > 0 {
			decoded, _, derr := decoder.Decode(nil, raw[:n])
			if derr != nil {
				return total
			}
			if len(decoded) > 0 {
				audio := demux.feed(decoded, source)
				if len(audio) > 0 {
					if total == 0 {
						source.SetBitrateIfUnknown(stream.SniffBitrateKbps(audio))
					}
					// feed's result is the demuxer's reused scratch buffer, but
					// listener queues keep a reference to every broadcast chunk,
					// so publish a copy.
					audio = append([]byte(nil), audio...)
					stream.Broadcast(source, audio, p.cfg.Limits.QueueSize, limits.BurstSize)
					source.Stats.BytesRead.Add(int64(len(audio)))
					total += int64(len(audio))
				}
			}
		}
		if decoder.Finished() || err != nil {
			return total
		}
	}
}

// metaDemuxer strips in-band ICY metadata blocks out of a relayed
// upstream's byte stream at icy-metaint boundaries, applying any
// changed title/url directly to the local relay Source, grounded on
// the upstream's own MetaParser state machine (count byte, then body,
// repeat).
type metaDemuxer struct {
	metaint   int
	remaining int // audio bytes left until the next metadata block
	blockLeft int // metadata bytes left to collect for the current block
	block     []byte
	outPtr    *[]byte // pooled scratch buffer backing feed's return value
}

func newMetaDemuxer(metaint int) *metaDemuxer {
	return &metaDemuxer{metaint: metaint, remaining: metaint, outPtr: stream.GetSmallBuffer()}
}

// close returns the demuxer's pooled scratch buffer. Callers must not use
// the demuxer, or any slice feed previously returned, after calling this.
func (d *metaDemuxer) close() {
	stream.PutSmallBuffer(d.outPtr)
	d.outPtr = nil
}

// feed consumes in, appending non-metadata audio bytes onto a reused
// scratch buffer and returning it. The returned slice is only valid until
// the next feed call. No-op passthrough when metaint is 0 (upstream did
// not negotiate in-band metadata).
func (d *metaDemuxer) feed(in []byte, source *stream.Source) []byte {
	if d.metaint == 0 {
		return in
	}

	out := (*d.outPtr)[:0]
	if cap(out) < len(in) {
		out = make([]byte, 0, len(in))
	}
	for len(in) > 0 {
		if d.blockLeft > 0 {
			take := d.blockLeft
			if take > len(in) {
				take = len(in)
			}
			d.block = append(d.block, in[:take]...)
			in = in[take:]
			d.blockLeft -= take
			if d.blockLeft == 0 {
				title, url, ok := metadata.Decode(d.block)
				if ok {
					source.SetMetadata(title, url)
				} else {
					source.RequestDisconnect()
				}
				d.block = d.block[:0]
				d.remaining = d.metaint
			}
			continue
		}
		if d.remaining > 0 {
			take := d.remaining
			if take > len(in) {
				take = len(in)
			}
			out = append(out, in[:take]...)
			in = in[take:]
			d.remaining -= take
			continue
		}
		// d.remaining == 0: next byte is the metadata length byte.
		count := int(in[0])
		in = in[1:]
		if count == 0 {
			d.remaining = d.metaint
			continue
		}
		d.blockLeft = count * 16
		d.block = d.block[:0]
	}
	*d.outPtr = out
	return out
}

func atoiDefault(s string) int {
	if s == "" {
		return 0
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return n
}
