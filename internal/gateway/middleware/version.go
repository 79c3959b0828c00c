package middleware

import (
	"context"
	"fmt"
	"net/http"

	"github.com/Masterminds/semver/v3"

	"conduit/internal/gateway/handlers"
)

// ProtocolVersionHeader carries the client's protocol version on requests
// and the server's on responses.
const ProtocolVersionHeader = "X-Protocol-Version"

// VersionConfig configures protocol version negotiation.
type VersionConfig struct {
	// Current is the version this server speaks.
	Current string
	// Accept is the constraint client versions must satisfy.
	Accept string
	// Deprecated, when set, marks matching client versions with a
	// Deprecation header.
	Deprecated string
}

// DefaultVersionConfig returns the default version configuration.
func DefaultVersionConfig() VersionConfig {
	return VersionConfig{Current: "1.0.0", Accept: ">= 1.0.0, < 2.0.0"}
}

type versionKey struct{}

// ProtocolVersionFrom returns the version negotiated for the request.
func ProtocolVersionFrom(ctx context.Context) *semver.Version {
	v, _ := ctx.Value(versionKey{}).(*semver.Version)
	return v
}

// Negotiator checks client protocol versions against a constraint.
type Negotiator struct {
	current    *semver.Version
	accept     *semver.Constraints
	deprecated *semver.Constraints
}

// NewNegotiator parses cfg.
func NewNegotiator(cfg VersionConfig) (*Negotiator, error) {
	current, err := semver.NewVersion(cfg.Current)
	if err != nil {
		return nil, fmt.Errorf("protocol version %q: %w", cfg.Current, err)
	}
	accept, err := semver.NewConstraint(cfg.Accept)
	if err != nil {
		return nil, fmt.Errorf("protocol accept %q: %w", cfg.Accept, err)
	}
	if !accept.Check(current) {
		return nil, fmt.Errorf("protocol version %s does not satisfy %q", current, cfg.Accept)
	}
	n := &Negotiator{current: current, accept: accept}
	if cfg.Deprecated != "" {
		n.deprecated, err = semver.NewConstraint(cfg.Deprecated)
		if err != nil {
			return nil, fmt.Errorf("protocol deprecated %q: %w", cfg.Deprecated, err)
		}
	}
	return n, nil
}

// Current returns the server's protocol version.
func (n *Negotiator) Current() *semver.Version { return n.current }

// Negotiate resolves the version a client asked for. An empty request means
// the server's own version.
func (n *Negotiator) Negotiate(requested string) (*semver.Version, error) {
	if requested == "" {
		return n.current, nil
	}
	v, err := semver.NewVersion(requested)
	if err != nil {
		return nil, fmt.Errorf("invalid protocol version %q: %w", requested, err)
	}
	if !n.accept.Check(v) {
		return nil, &UnsupportedVersionError{Requested: v.String(), Accept: n.accept.String()}
	}
	return v, nil
}

// Middleware rejects unsupported client versions and records the
// negotiated one in the request context.
func (n *Negotiator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set(ProtocolVersionHeader, n.current.String())

		v, err := n.Negotiate(r.Header.Get(ProtocolVersionHeader))
		if err != nil {
			if _, ok := err.(*UnsupportedVersionError); ok {
				handlers.SendError(w, http.StatusNotAcceptable, handlers.ErrCodeUnsupportedVersion, err.Error())
				return
			}
			handlers.SendError(w, http.StatusBadRequest, handlers.ErrCodeInvalidRequest, err.Error())
			return
		}
		if n.deprecated != nil && n.deprecated.Check(v) {
			w.Header().Set("Deprecation", "true")
		}

		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), versionKey{}, v)))
	})
}

// UnsupportedVersionError reports a client version outside the accepted range.
type UnsupportedVersionError struct {
	Requested string
	Accept    string
}

func (e *UnsupportedVersionError) Error() string {
	return fmt.Sprintf("protocol version %s not supported, accepted: %s", e.Requested, e.Accept)
}
