// Package remotesync replicates fiscal entries to a peer instance.
package remotesync

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"hotelfiscal/internal/domain/fiscal"
	"hotelfiscal/pkg/logger"
)

// PeerTokenHeader carries the shared secret checked by the peer.
const PeerTokenHeader = "X-Peer-Token"

// DefaultTimeout bounds one replication request.
const DefaultTimeout = 5 * time.Second

// Syncer posts entries to the peer's receive endpoint. Delivery is best effort:
// failures are logged and never reach the caller.
type Syncer struct {
	url        string
	token      string
	httpClient *http.Client
	log        *logger.Logger

	wg sync.WaitGroup
}

// New creates a Syncer. An empty url disables replication.
func New(url, token string, log *logger.Logger) *Syncer {
	if log == nil {
		log = logger.Default()
	}
	return &Syncer{
		url:        url,
		token:      token,
		httpClient: &http.Client{Timeout: DefaultTimeout},
		log:        log.WithComponent("remotesync"),
	}
}

// Enabled reports whether a peer is configured.
func (s *Syncer) Enabled() bool {
	return s != nil && s.url != ""
}

// Replicate sends e in the background. It returns immediately.
func (s *Syncer) Replicate(ctx context.Context, e *fiscal.Entry) {
	if !s.Enabled() {
		return
	}
	entry := e.Clone()
	ctx = context.WithoutCancel(ctx)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.Send(ctx, entry); err != nil {
			s.log.WithContext(ctx).Warnw("replication failed", "id", entry.ID, "error", err)
			return
		}
		s.log.WithContext(ctx).Debugw("entry replicated", "id", entry.ID)
	}()
}

// Send posts e synchronously.
func (s *Syncer) Send(ctx context.Context, e *fiscal.Entry) error {
	body, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("remotesync: marshal entry: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, DefaultTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("remotesync: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.token != "" {
		req.Header.Set(PeerTokenHeader, s.token)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("remotesync: peer unreachable: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("remotesync: peer returned %d", resp.StatusCode)
	}
	return nil
}

// Wait blocks until in-flight replications finish. Used on shutdown.
func (s *Syncer) Wait() {
	if s != nil {
		s.wg.Wait()
	}
}
