package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"regexp"
	"strings"

	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/dhns/dhnsd/internal/dhnslog"
)

// DefaultDockerSocket is the default path to the Docker Engine API socket.
const DefaultDockerSocket = "/var/run/docker.sock"

// reValidName strips everything but word characters, digits, dots, and
// hyphens from a container name.
var reValidName = regexp.MustCompile(`[^\w.-]`)

// containerSummary is the subset of `GET /containers/json` fields this
// package reads.
type containerSummary struct {
	ID string `json:"Id"`
}

// containerInspect is the subset of `GET /containers/{id}/json` fields this
// package reads.
type containerInspect struct {
	ID     string `json:"Id"`
	Name   string `json:"Name"`
	Config struct {
		Labels map[string]string `json:"Labels"`
	} `json:"Config"`
	NetworkSettings struct {
		Networks map[string]struct {
			IPAddress string `json:"IPAddress"`
		} `json:"Networks"`
	} `json:"NetworkSettings"`
}

// dockerEvent is the subset of `GET /events` fields this package reads.
type dockerEvent struct {
	Type   string `json:"Type"`
	ID     string `json:"id"`
	Status string `json:"status"`
	Actor  struct {
		Attributes map[string]string `json:"Attributes"`
	} `json:"Actor"`
}

// Client talks to the Docker Engine API over its Unix socket using the
// standard library's net/http with a custom DialContext, the approach this
// module takes in the absence of a Docker SDK dependency anywhere in its
// stack (see DESIGN.md).
type Client struct {
	http *http.Client
}

// NewClient returns a Client that dials the Docker Engine API over the Unix
// socket at socketPath.
func NewClient(socketPath string) *Client {
	if socketPath == "" {
		socketPath = DefaultDockerSocket
	}

	transport := &http.Transport{
		DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
			var d net.Dialer

			return d.DialContext(ctx, "unix", socketPath)
		},
	}

	return &Client{http: &http.Client{Transport: transport}}
}

// ListContainers returns the IDs of currently running containers.
func (c *Client) ListContainers(ctx context.Context) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://docker/containers/json", nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("listing containers: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	var summaries []containerSummary
	if err = json.NewDecoder(resp.Body).Decode(&summaries); err != nil {
		return nil, fmt.Errorf("decoding container list: %w", err)
	}

	ids := make([]string, 0, len(summaries))
	for _, s := range summaries {
		ids = append(ids, s.ID)
	}

	return ids, nil
}

// Inspect fetches full container details for id.
func (c *Client) Inspect(ctx context.Context, id string) (*containerInspect, error) {
	url := fmt.Sprintf("http://docker/containers/%s/json", id)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("inspecting container %s: %w", id, err)
	}
	defer func() { _ = resp.Body.Close() }()

	var insp containerInspect
	if err = json.NewDecoder(resp.Body).Decode(&insp); err != nil {
		return nil, fmt.Errorf("decoding inspect for %s: %w", id, err)
	}

	return &insp, nil
}

// Events streams container events until ctx is cancelled, sending each
// decoded event on the returned channel, which is closed when the stream
// ends.
func (c *Client) Events(ctx context.Context) (<-chan dockerEvent, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://docker/events", nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("opening event stream: %w", err)
	}

	ch := make(chan dockerEvent)

	go func() {
		defer close(ch)
		defer func() { _ = resp.Body.Close() }()

		dec := json.NewDecoder(resp.Body)
		for {
			var evt dockerEvent
			if err = dec.Decode(&evt); err != nil {
				return
			}

			select {
			case ch <- evt:
			case <-ctx.Done():
				return
			}
		}
	}()

	return ch, nil
}

// containerNames derives the set of registry names a container should be
// known by: the container's own sanitized name, its compose-derived
// aliases, and any names from the com.dhns.domain label (added verbatim,
// without domain appended).
func containerNames(name string, labels map[string]string, domain string) []string {
	base := strings.TrimSuffix(reValidName.ReplaceAllString(name, ""), ".")

	names := []string{base}

	instance := labels["com.docker.compose.container-number"]
	service := labels["com.docker.compose.service"]
	project := labels["com.docker.compose.project"]

	if instance != "" && service != "" && project != "" {
		names = append(names, fmt.Sprintf("%s.%s.%s", instance, service, project))
		if instance == "1" {
			names = append(names, fmt.Sprintf("%s.%s", service, project))
		}
	}

	withDomain := make([]string, len(names))
	for i, n := range names {
		withDomain[i] = n + "." + domain
	}

	if extra, ok := labels["com.dhns.domain"]; ok && extra != "" {
		withDomain = append(withDomain, strings.Split(extra, ";")...)
	}

	return withDomain
}

// containerAddrs collects every non-empty IPAddress across a container's
// network attachments.
func containerAddrs(insp *containerInspect) []string {
	addrs := make([]string, 0, len(insp.NetworkSettings.Networks))
	for _, n := range insp.NetworkSettings.Networks {
		if n.IPAddress != "" {
			addrs = append(addrs, n.IPAddress)
		}
	}

	return addrs
}

// Listener is the background task that keeps a Registry current by
// consuming the Docker event stream.
type Listener struct {
	client *Client
	reg    *Registry
	domain string
	logger *slog.Logger

	// names tracks, per container ID, the registry names it currently
	// contributes, so a die event removes exactly what a start event added.
	names map[string][]string
}

// NewListener returns a new Listener.  domain is the base domain appended to
// derived names (e.g. "docker").
func NewListener(client *Client, reg *Registry, domain string, logger *slog.Logger) *Listener {
	return &Listener{
		client: client,
		reg:    reg,
		domain: domain,
		logger: dhnslog.NewForComponent(logger, dhnslog.PrefixDiscovery),
		names:  make(map[string][]string),
	}
}

// Run seeds the registry from currently-running containers, then consumes
// the event stream until ctx is cancelled.  It is meant to run as a single
// long-lived background goroutine.
func (l *Listener) Run(ctx context.Context) error {
	if err := l.seed(ctx); err != nil {
		return fmt.Errorf("seeding discovery registry: %w", err)
	}

	events, err := l.client.Events(ctx)
	if err != nil {
		return fmt.Errorf("opening docker event stream: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case evt, ok := <-events:
			if !ok {
				return nil
			}

			l.handleEvent(ctx, evt)
		}
	}
}

func (l *Listener) seed(ctx context.Context) error {
	ids, err := l.client.ListContainers(ctx)
	if err != nil {
		return err
	}

	for _, id := range ids {
		l.register(ctx, id)
	}

	return nil
}

func (l *Listener) handleEvent(ctx context.Context, evt dockerEvent) {
	if evt.Type != "" && evt.Type != "container" {
		return
	}

	if evt.ID == "" {
		return
	}

	switch evt.Status {
	case "start":
		l.register(ctx, evt.ID)
	case "die":
		l.unregister(evt.ID)
	case "rename":
		l.rename(ctx, evt)
	}
}

func (l *Listener) register(ctx context.Context, id string) {
	insp, err := l.client.Inspect(ctx, id)
	if err != nil {
		l.logger.Debug("inspecting started container", "id", id, slogutil.KeyError, err)

		return
	}

	names := containerNames(insp.Name, insp.Config.Labels, l.domain)
	addrs := containerAddrs(insp)

	for _, name := range names {
		l.reg.Add(name, addrs)
	}

	l.names[id] = names
}

func (l *Listener) unregister(id string) {
	for _, name := range l.names[id] {
		l.reg.Remove(name)
	}

	delete(l.names, id)
}

func (l *Listener) rename(ctx context.Context, evt dockerEvent) {
	oldNames, tracked := l.names[evt.ID]
	if !tracked {
		l.register(ctx, evt.ID)

		return
	}

	insp, err := l.client.Inspect(ctx, evt.ID)
	if err != nil {
		l.logger.Debug("inspecting renamed container", "id", evt.ID, slogutil.KeyError, err)

		return
	}

	newNames := containerNames(insp.Name, insp.Config.Labels, l.domain)

	for i, old := range oldNames {
		if i < len(newNames) {
			l.reg.Rename(old, newNames[i])
		} else {
			l.reg.Remove(old)
		}
	}

	l.names[evt.ID] = newNames
}
