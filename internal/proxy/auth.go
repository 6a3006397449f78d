package proxy

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/url"
	"strings"

	apperrors "github.com/Shugur-Network/relay-gate/internal/errors"
	"github.com/Shugur-Network/relay-gate/internal/metrics"
	nostr "github.com/nbd-wtf/go-nostr"
	"go.uber.org/zap"
)

const authRequiredNotice = "auth-required: this relay requires authentication before publishing"

// newChallenge creates a random hex challenge string for NIP-42 AUTH.
func newChallenge() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate auth challenge: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// validateAuthFrame checks an ["AUTH", <event>] frame against the issued
// challenge and returns the authenticated pubkey. Every failure wraps
// ErrAuthFailed; the detail is for logs only.
func validateAuthFrame(data []byte, challenge, publicHost string) (string, error) {
	evt, err := frameEvent(data)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrAuthFailed, err)
	}
	if err := validateAuthEvent(evt, challenge, publicHost); err != nil {
		return "", err
	}
	return evt.PubKey, nil
}

func validateAuthEvent(evt *nostr.Event, challenge, publicHost string) error {
	if challenge == "" {
		return fmt.Errorf("%w: no outstanding challenge", ErrAuthFailed)
	}
	if evt.Kind != nostr.KindClientAuthentication {
		return fmt.Errorf("%w: kind %d", ErrAuthFailed, evt.Kind)
	}
	if evt.ID != evt.GetID() {
		return fmt.Errorf("%w: id mismatch", ErrAuthFailed)
	}
	if ok, err := evt.CheckSignature(); err != nil || !ok {
		return fmt.Errorf("%w: bad signature", ErrAuthFailed)
	}

	var challengeOK, relayOK bool
	for _, tag := range evt.Tags {
		if len(tag) < 2 {
			continue
		}
		switch tag[0] {
		case "challenge":
			if tag[1] == challenge {
				challengeOK = true
			}
		case "relay":
			if relayHostMatches(tag[1], publicHost) {
				relayOK = true
			}
		}
	}
	if !challengeOK {
		return fmt.Errorf("%w: challenge mismatch", ErrAuthFailed)
	}
	if !relayOK {
		return fmt.Errorf("%w: relay host mismatch", ErrAuthFailed)
	}
	return nil
}

// relayHostMatches compares the host of a relay URL with the gate's public
// host. The port only takes part when the public host names one.
func relayHostMatches(relayURL, publicHost string) bool {
	u, err := url.Parse(strings.TrimSpace(relayURL))
	if err != nil || u.Host == "" {
		return false
	}
	host := u.Hostname()
	if strings.Contains(publicHost, ":") {
		host = u.Host
	}
	return strings.EqualFold(host, publicHost)
}

// startHandshake sends the auth notice and challenge, then arms the auth
// timer. It runs before any other frame reaches the client.
func (c *Connection) startHandshake() error {
	challenge, err := newChallenge()
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.challenge = challenge
	c.mu.Unlock()

	if err := c.sendControl(noticeFrame(authRequiredNotice)); err != nil {
		return err
	}
	if err := c.sendControl(authFrame(challenge)); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.authenticated {
		return nil
	}
	c.authTimer = c.mgr.clock.AfterFunc(c.mgr.opts.AuthTimeout, c.onAuthTimeout)
	return nil
}

func (c *Connection) onAuthTimeout() {
	c.mu.Lock()
	if c.closed || c.authenticated {
		c.mu.Unlock()
		return
	}
	c.authTimer = nil
	c.mu.Unlock()

	metrics.AuthResults.WithLabelValues("timeout").Inc()
	c.log().Info("Authentication timed out")
	c.teardown(ReasonAuthTimeout)
}

// handleAuth validates an AUTH frame against the challenge it consumed.
// Any failure closes the connection without telling the client why.
func (c *Connection) handleAuth(data []byte, challenge string) {
	pubkey, err := validateAuthFrame(data, challenge, c.mgr.opts.PublicHost)
	if err != nil {
		metrics.AuthResults.WithLabelValues("rejected").Inc()
		c.log().Info("Rejected AUTH", zap.Error(apperrors.AuthenticationError(err.Error())))
		c.teardown(ReasonAuthFailed)
		return
	}

	c.mu.Lock()
	if c.closed || c.authenticated {
		c.mu.Unlock()
		return
	}
	c.authenticated = true
	c.pubkey = pubkey
	if c.authTimer != nil {
		c.authTimer.Stop()
		c.authTimer = nil
	}
	operator := pubkey == c.mgr.opts.OperatorPubKey
	if operator {
		c.funded = true
	}
	c.logger.Store(c.log().With(zap.String("pubkey", pubkey)))
	c.mu.Unlock()

	metrics.AuthResults.WithLabelValues("accepted").Inc()
	if operator {
		metrics.AdmissionOutcomes.WithLabelValues("operator").Inc()
		c.log().Info("Operator authenticated, admission skipped")
		return
	}
	c.log().Debug("Client authenticated")
	go c.admit(pubkey)
}
