package poller

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"

	"github.com/fleetgate/fleetgate/config"
	"github.com/fleetgate/fleetgate/ingest"
	"github.com/fleetgate/fleetgate/metrics"
	"github.com/fleetgate/fleetgate/protocol"
	"time"
)

var (
	ErrUpstreamAuth    = errors.New("tracking console authentication failed")
	ErrUpstreamTimeout = errors.New("tracking console request timed out")
)

const maxAuthRetries = 3

type state int

const (
	stateUnauthenticated state = iota
	stateAuthenticated
	statePolling
)

// Candidate keys for the session token in the console's login response.
// The vendor API is not firmly documented, so several spellings are tried.
var tokenKeys = []string{"token", "access_token", "session", "sessionId"}

/*
Poller is the alternate ingestion path for devices only reachable through
the third party tracking console. On a timer it authenticates with operator
level credentials, pulls the vehicle location list and pushes every entry
through the same ingest pipeline the socket listeners use.
*/
type Poller struct {
	ctx      context.Context
	localCtx context.Context
	stopFunc context.CancelFunc
	wg       *sync.WaitGroup

	baseUrl  string
	username string
	password string
	interval time.Duration

	client   *http.Client
	pipeline *ingest.Pipeline
	metrics  metrics.GatewayMetricsInterface

	state        state
	token        string
	authFailures int
}

func NewPoller(ctx context.Context, wg *sync.WaitGroup, cfg *config.PollerConfig, pipeline *ingest.Pipeline, m metrics.GatewayMetricsInterface) *Poller {
	localCtx, stopFunc := context.WithCancel(ctx)

	return &Poller{
		ctx:      ctx,
		localCtx: localCtx,
		stopFunc: stopFunc,
		wg:       wg,
		baseUrl:  cfg.Url,
		username: cfg.Username,
		password: cfg.Password,
		interval: cfg.Interval,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
		pipeline: pipeline,
		metrics:  m,
		state:    stateUnauthenticated,
	}
}

// Start runs the timer loop. The ticker is cancellable between ticks; an
// in-flight poll cycle finishes or aborts through the context, it is never
// cut mid write.
func (p *Poller) Start() error {
	log := config.GetLogger(p.ctx)

	if p.baseUrl == "" {
		return fmt.Errorf("polling adapter needs a console URL")
	}

	log.Infof("Start polling adapter against %s every %v", p.baseUrl, p.interval)

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()

		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()

		for {
			select {
			case <-p.localCtx.Done():
				return
			case <-ticker.C:
				err := p.PollOnce(p.localCtx)
				if err != nil {
					log.Errorf("Poll cycle failed. %v", err)
				}
			}
		}
	}()

	return nil
}

func (p *Poller) Stop() error {
	if p.stopFunc == nil {
		return fmt.Errorf("poller is not running")
	}

	p.stopFunc()
	p.stopFunc = nil
	return nil
}

/*
PollOnce runs one full cycle: authenticate when needed, fetch the location
list, normalize and ingest every entry. Authentication failures are retried
a bounded number of times across cycles before the operational alert fires.
*/
func (p *Poller) PollOnce(ctx context.Context) error {
	log := config.GetLogger(p.ctx)

	if p.state == stateUnauthenticated {
		err := p.authenticate(ctx)
		if err != nil {
			p.authFailures++
			p.addUpstreamErrors(1)

			if p.authFailures >= maxAuthRetries {
				// Operational alert: repeated auth failures mean dead
				// credentials or a dead console, not a transient blip.
				log.Errorf("ALERT: %d consecutive authentication failures against %s. %v", p.authFailures, p.baseUrl, err)
			}

			return err
		}

		p.authFailures = 0
		p.state = stateAuthenticated
	}

	p.state = statePolling
	err := p.pollLocations(ctx)
	p.state = stateAuthenticated

	if err != nil {
		if errors.Is(err, ErrUpstreamAuth) {
			// Session expired, re-authenticate on the next tick.
			p.state = stateUnauthenticated
			p.token = ""
		}
		p.addUpstreamErrors(1)
		return err
	}

	return nil
}

func (p *Poller) authenticate(ctx context.Context) error {
	body, err := json.Marshal(map[string]string{
		"username": p.username,
		"password": p.password,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseUrl+"/api/login", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return classifyTransportError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("login returned status %d: %w", resp.StatusCode, ErrUpstreamAuth)
	}

	var payload map[string]interface{}
	err = json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&payload)
	if err != nil {
		return fmt.Errorf("unreadable login response. %v", err)
	}

	token, ok := protocol.LookupString(payload, tokenKeys)
	if !ok {
		return fmt.Errorf("login response carries no session token under any of %v: %w", tokenKeys, ErrUpstreamAuth)
	}

	p.token = token
	return nil
}

func (p *Poller) pollLocations(ctx context.Context) error {
	log := config.GetLogger(p.ctx)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseUrl+"/api/positions", nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+p.token)

	resp, err := p.client.Do(req)
	if err != nil {
		return classifyTransportError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return fmt.Errorf("position list returned status %d: %w", resp.StatusCode, ErrUpstreamAuth)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("position list returned status %d", resp.StatusCode)
	}

	var entries []map[string]interface{}
	err = json.NewDecoder(io.LimitReader(resp.Body, 8<<20)).Decode(&entries)
	if err != nil {
		return fmt.Errorf("unreadable position list. %v", err)
	}

	log.Debugf("Console returned %d location entries", len(entries))

	for _, entry := range entries {
		f, err := protocol.FixFromEntry(entry, "console")
		if err != nil {
			log.Warningf("Skipping console entry: %v", err)
			continue
		}

		// Entry errors are counted inside the pipeline and stay local to
		// the one entry.
		_ = p.pipeline.Ingest(ctx, *f)
	}

	return nil
}

func (p *Poller) addUpstreamErrors(count uint64) {
	if p.metrics != nil {
		p.metrics.AddUpstreamErrors(count)
	}
}

func classifyTransportError(err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%v: %w", err, ErrUpstreamTimeout)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%v: %w", err, ErrUpstreamTimeout)
	}

	return err
}
